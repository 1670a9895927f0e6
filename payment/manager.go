// Copyright 2025 PolyCrypt GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package payment orchestrates the channel lifecycle: opening, paying,
// accepting, depositing and closing unidirectional payment channels.
package payment

import (
	"context"
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"
	pkgsync "polycry.pt/poly-go/sync"

	"perun.network/micropay-backend/channel"
	"perun.network/micropay-backend/event"
	"perun.network/micropay-backend/mutex"
	"perun.network/micropay-backend/storage"
)

// depositMultiplier is how many payments of the requested amount a newly
// opened channel can cover.
const depositMultiplier = 10

var byteOrder = binary.BigEndian

var ErrManagerClosed = errors.New("payment manager closed")

// Options configure a Manager.
type Options struct {
	// SettlementPeriod is used for channels this account opens.
	SettlementPeriod *big.Int
	// MinSettlementPeriod is the least settlement period accepted on
	// incoming channels.
	MinSettlementPeriod *big.Int
	// CloseOnInvalidPayment makes AcceptPayment close a known channel whose
	// sender presented an invalid payment.
	CloseOnInvalidPayment bool
}

// OpenOptions tune a single channel opening.
type OpenOptions struct {
	// MinDeposit is the least value escrowed, regardless of amount.
	MinDeposit *big.Int
	// ChannelID is drawn at random when nil.
	ChannelID *channel.ID
	// TokenContract selects a token channel; zero opens a native one.
	TokenContract common.Address
}

// Manager is the channel state machine of one account. Mutations of a
// channel are serialized on its id; decisions to open a channel are
// serialized process-wide.
type Manager struct {
	account   channel.Signer
	contracts *channel.Selector
	store     storage.Store
	inflator  *channel.Inflator
	validator *channel.Validator
	payments  *channel.PaymentManager
	mutex     *mutex.Mutex
	events    *event.Dispatcher
	clock     clock.Clock
	opts      Options
	closer    pkgsync.Closer
	log       log.Embedding
}

// NewManager returns a Manager acting as account.
func NewManager(account channel.Signer, contracts *channel.Selector, store storage.Store, clk clock.Clock, opts Options) *Manager {
	return &Manager{
		account:   account,
		contracts: contracts,
		store:     store,
		inflator:  channel.NewInflator(contracts),
		validator: channel.NewValidator(contracts, opts.MinSettlementPeriod),
		payments:  channel.NewPaymentManager(contracts, account, clk),
		mutex:     mutex.New(),
		events:    event.NewDispatcher(),
		clock:     clk,
		opts:      opts,
		log:       log.MakeEmbedding(log.WithField("account", account.Address().Hex())),
	}
}

// Address returns the account the manager acts as.
func (m *Manager) Address() common.Address {
	return m.account.Address()
}

// Events returns the dispatcher lifecycle events are emitted on.
func (m *Manager) Events() *event.Dispatcher {
	return m.events
}

// Close stops the manager. Calls in flight complete; new calls fail with
// ErrManagerClosed.
func (m *Manager) Close() error {
	return m.closer.Close()
}

// OpenChannel opens a channel from sender, which must be the manager's
// account, escrowing max(amount*10, MinDeposit).
func (m *Manager) OpenChannel(ctx context.Context, sender, receiver common.Address, amount *big.Int, opts OpenOptions) (*channel.PaymentChannel, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	return mutex.Do(ctx, m.mutex, mutex.DefaultKey, func() (*channel.PaymentChannel, error) {
		return m.openChannel(ctx, sender, receiver, amount, opts)
	})
}

// RequireOpenChannel returns a usable channel from sender to receiver for
// amount, opening one if there is none.
func (m *Manager) RequireOpenChannel(ctx context.Context, sender, receiver common.Address, amount *big.Int, opts OpenOptions) (*channel.PaymentChannel, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	return mutex.Do(ctx, m.mutex, mutex.DefaultKey, func() (*channel.PaymentChannel, error) {
		ch, err := m.store.Channels().FindUsable(ctx, sender, receiver, amount, opts.TokenContract)
		if err == nil {
			return ch, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, errors.WithMessage(err, "looking up usable channel")
		}
		return m.openChannel(ctx, sender, receiver, amount, opts)
	})
}

func (m *Manager) openChannel(ctx context.Context, sender, receiver common.Address, amount *big.Int, opts OpenOptions) (*channel.PaymentChannel, error) {
	if sender != m.Address() {
		return nil, errors.Wrapf(channel.ErrNotParticipant, "cannot open as %v", sender.Hex())
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, errors.New("amount must not be negative")
	}
	deposit := new(big.Int).Mul(amount, big.NewInt(depositMultiplier))
	if opts.MinDeposit != nil && opts.MinDeposit.Cmp(deposit) > 0 {
		deposit.Set(opts.MinDeposit)
	}

	var id channel.ID
	if opts.ChannelID != nil {
		id = *opts.ChannelID
	} else {
		var err error
		if id, err = channel.RandomID(nil); err != nil {
			return nil, err
		}
	}
	contract, err := m.contracts.For(opts.TokenContract)
	if err != nil {
		return nil, err
	}

	ch := &channel.PaymentChannel{
		ID:               id,
		Sender:           sender,
		Receiver:         receiver,
		Value:            deposit,
		Spent:            new(big.Int),
		State:            channel.Open,
		TokenContract:    opts.TokenContract,
		SettlementPeriod: new(big.Int).Set(m.opts.SettlementPeriod),
		SettlingUntil:    new(big.Int),
	}
	m.emit(event.WillOpenChannel, ch, nil)
	receipt, err := contract.Open(ctx, id, receiver, ch.SettlementPeriod, deposit)
	if err != nil {
		return nil, errors.WithMessage(err, "opening channel on-chain")
	}
	if err := m.store.Channels().Save(ctx, ch); err != nil {
		return nil, errors.WithMessage(err, "saving opened channel")
	}
	m.log.Log().WithFields(log.Fields{"channel": id, "value": deposit}).Info("Opened channel")
	m.emit(event.DidOpenChannel, ch, receipt)
	return ch.Clone(), nil
}

// Deposit adds value to the escrow of channel id.
func (m *Manager) Deposit(ctx context.Context, id channel.ID, value *big.Int) (*channel.Receipt, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	return mutex.Do(ctx, m.mutex, id.String(), func() (*channel.Receipt, error) {
		ch, err := m.storedChannel(ctx, id)
		if err != nil {
			return nil, err
		}
		contract, err := m.contracts.For(ch.TokenContract)
		if err != nil {
			return nil, err
		}
		receipt, err := contract.Deposit(ctx, id, value)
		if err != nil {
			return nil, errors.WithMessage(err, "depositing on-chain")
		}
		if err := m.store.Channels().Deposit(ctx, id, value); err != nil {
			return nil, errors.WithMessage(err, "saving deposit")
		}
		return receipt, nil
	})
}

// NextPayment signs the payment adding amount to what was spent on id. It
// does not record the payment.
func (m *Manager) NextPayment(ctx context.Context, id channel.ID, amount *big.Int, meta string) (*channel.Payment, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	return mutex.Do(ctx, m.mutex, id.String(), func() (*channel.Payment, error) {
		return m.nextPayment(ctx, id, amount, meta)
	})
}

func (m *Manager) nextPayment(ctx context.Context, id channel.ID, amount *big.Int, meta string) (*channel.Payment, error) {
	ch, err := m.storedChannel(ctx, id)
	if err != nil {
		return nil, err
	}
	toSpend := new(big.Int).Add(ch.Spent, amount)
	if toSpend.Cmp(ch.Value) > 0 {
		return nil, errors.Wrapf(channel.ErrOverspend, "channel %v: %v spent of %v, %v requested", id, ch.Spent, ch.Value, amount)
	}
	return m.payments.BuildPaymentForChannel(ctx, ch, amount, toSpend, meta)
}

// SpendChannel records a sent payment and the channel state it implies.
// An empty token is replaced by a fresh one, which is returned.
func (m *Manager) SpendChannel(ctx context.Context, p *channel.Payment, token string) (string, error) {
	if err := m.checkOpen(); err != nil {
		return "", err
	}
	return mutex.Do(ctx, m.mutex, p.ChannelID.String(), func() (string, error) {
		return m.spendChannel(ctx, p, token)
	})
}

func (m *Manager) spendChannel(ctx context.Context, p *channel.Payment, token string) (string, error) {
	if err := m.store.Channels().SaveOrUpdate(ctx, channel.ChannelFromPayment(p)); err != nil {
		return "", errors.WithMessage(err, "saving spent channel")
	}
	if token == "" {
		token = m.newToken(p)
	}
	if err := m.store.Payments().Save(ctx, token, p); err != nil {
		return "", errors.WithMessage(err, "saving payment")
	}
	return token, nil
}

// PayChannel signs and records the next payment of amount on id in one
// step. The returned payment carries its token.
func (m *Manager) PayChannel(ctx context.Context, id channel.ID, amount *big.Int, meta string) (*channel.Payment, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	return mutex.Do(ctx, m.mutex, id.String(), func() (*channel.Payment, error) {
		p, err := m.nextPayment(ctx, id, amount, meta)
		if err != nil {
			return nil, err
		}
		if p.Token, err = m.spendChannel(ctx, p, ""); err != nil {
			return nil, err
		}
		return p, nil
	})
}

// AcceptPayment validates a received payment and records it. It returns
// the token proving acceptance.
func (m *Manager) AcceptPayment(ctx context.Context, p *channel.Payment) (string, error) {
	if err := m.checkOpen(); err != nil {
		return "", err
	}
	return mutex.Do(ctx, m.mutex, p.ChannelID.String(), func() (string, error) {
		return m.acceptPayment(ctx, p)
	})
}

func (m *Manager) acceptPayment(ctx context.Context, p *channel.Payment) (string, error) {
	if p.Receiver != m.Address() {
		return "", errors.Wrapf(channel.ErrChannelMismatch, "payment is for %v", p.Receiver.Hex())
	}
	local, err := m.store.Channels().FindBySenderReceiverChannelID(ctx, p.Sender, p.Receiver, p.ChannelID)
	known := err == nil
	switch {
	case known:
	case errors.Is(err, storage.ErrNotFound):
		local = channel.ChannelFromPayment(p)
		local.Spent = new(big.Int)
	default:
		return "", errors.WithMessage(err, "looking up channel")
	}

	// Pick up deposits and settling the sender did on-chain.
	inflated, err := m.inflator.Inflate(ctx, local)
	if err != nil {
		return "", err
	}
	if inflated != nil {
		local = inflated
	}

	if failed := m.validator.Validate(ctx, p, local); len(failed) > 0 {
		if known && m.opts.CloseOnInvalidPayment {
			m.log.Log().WithField("channel", p.ChannelID).Warn("Closing channel after invalid payment")
			if _, err := m.closeChannel(ctx, p.ChannelID); err != nil {
				m.log.Log().WithError(err).WithField("channel", p.ChannelID).Error("Closing channel failed")
			}
		}
		return "", &channel.InvalidPaymentError{ChannelID: p.ChannelID, Failed: failed}
	}

	if p.Value.Cmp(local.Spent) > 0 {
		local.Spent = new(big.Int).Set(p.Value)
	}
	if err := m.store.Channels().SaveOrUpdate(ctx, local); err != nil {
		return "", errors.WithMessage(err, "saving channel")
	}
	token := m.newToken(p)
	if err := m.store.Tokens().Save(ctx, token, p.ChannelID); err != nil {
		return "", errors.WithMessage(err, "saving token")
	}
	if err := m.store.Payments().Save(ctx, token, p); err != nil {
		return "", errors.WithMessage(err, "saving payment")
	}
	return token, nil
}

// CloseChannel closes channel id. The sender starts settling an open
// channel and settles a settling one; the receiver claims the highest
// payment received.
func (m *Manager) CloseChannel(ctx context.Context, id channel.ID) (*channel.Receipt, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	return mutex.Do(ctx, m.mutex, id.String(), func() (*channel.Receipt, error) {
		return m.closeChannel(ctx, id)
	})
}

// closeChannel must be called with the lock on id held.
func (m *Manager) closeChannel(ctx context.Context, id channel.ID) (*channel.Receipt, error) {
	ch, err := m.ChannelByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, errors.Wrapf(channel.ErrChannelNotFound, "channel %v", id)
	}
	contract, err := m.contracts.For(ch.TokenContract)
	if err != nil {
		return nil, err
	}

	m.emit(event.WillCloseChannel, ch, nil)
	var receipt *channel.Receipt
	switch m.Address() {
	case ch.Sender:
		receipt, err = m.settle(ctx, contract, ch)
	case ch.Receiver:
		receipt, err = m.claim(ctx, contract, ch)
	default:
		err = channel.ErrNotParticipant
	}
	if err != nil {
		return nil, err
	}
	m.emit(event.DidCloseChannel, ch, receipt)
	return receipt, nil
}

func (m *Manager) settle(ctx context.Context, contract channel.Contract, ch *channel.PaymentChannel) (*channel.Receipt, error) {
	switch ch.State {
	case channel.Open:
		receipt, err := contract.StartSettling(ctx, ch.ID)
		if err != nil {
			return nil, errors.WithMessage(err, "starting to settle")
		}
		ch.SettlingUntil = new(big.Int).Add(receipt.BlockNumber, ch.SettlementPeriod)
		if err := m.store.Channels().UpdateSettlingUntil(ctx, ch.ID, ch.SettlingUntil); err != nil {
			return nil, err
		}
		ch.State = channel.Settling
		return receipt, m.store.Channels().UpdateState(ctx, ch.ID, channel.Settling)
	case channel.Settling:
		receipt, err := contract.Settle(ctx, ch.ID)
		if err != nil {
			return nil, errors.WithMessage(err, "settling")
		}
		ch.State = channel.Settled
		return receipt, m.store.Channels().UpdateState(ctx, ch.ID, channel.Settled)
	default:
		return nil, errors.Wrapf(channel.ErrAlreadySettled, "channel %v", ch.ID)
	}
}

func (m *Manager) claim(ctx context.Context, contract channel.Contract, ch *channel.PaymentChannel) (*channel.Receipt, error) {
	if ch.State == channel.Settled {
		return nil, errors.Wrapf(channel.ErrAlreadySettled, "channel %v", ch.ID)
	}
	p, err := m.store.Payments().FirstMaximum(ctx, ch.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errors.Wrapf(channel.ErrNoPaymentToClaim, "channel %v", ch.ID)
	} else if err != nil {
		return nil, err
	}
	receipt, err := contract.Claim(ctx, ch.ID, p.Value, p.Signature)
	if err != nil {
		return nil, errors.WithMessage(err, "claiming")
	}
	ch.State = channel.Settled
	return receipt, m.store.Channels().UpdateState(ctx, ch.ID, channel.Settled)
}

// ChannelByID returns the merged local and on-chain view of channel id. A
// channel gone from the chain is reported as settled. A channel unknown
// locally is looked up on the native escrow and tracked if the account takes
// part in it. It returns nil, nil if the channel is unknown or foreign.
func (m *Manager) ChannelByID(ctx context.Context, id channel.ID) (*channel.PaymentChannel, error) {
	stored, err := m.store.Channels().FirstByID(ctx, id)
	if err == nil {
		return m.inflate(ctx, stored)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return m.reconcile(ctx, id)
}

// inflate merges stored with the chain, reporting it settled if the chain
// no longer knows it.
func (m *Manager) inflate(ctx context.Context, stored *channel.PaymentChannel) (*channel.PaymentChannel, error) {
	inflated, err := m.inflator.Inflate(ctx, stored)
	if err != nil {
		return nil, err
	}
	if inflated == nil {
		stored.State = channel.Settled
		return stored, nil
	}
	return inflated, nil
}

func (m *Manager) reconcile(ctx context.Context, id channel.ID) (*channel.PaymentChannel, error) {
	contract, err := m.contracts.For(common.Address{})
	if err != nil {
		return nil, err
	}
	onChain, err := contract.Channel(ctx, id)
	if err != nil {
		return nil, errors.WithMessage(err, "reading channel")
	}
	if onChain == nil {
		return nil, nil
	}
	if onChain.Sender != m.Address() && onChain.Receiver != m.Address() {
		return nil, nil
	}
	ch, err := m.inflator.Inflate(ctx, &channel.PaymentChannel{
		ID:            id,
		Sender:        onChain.Sender,
		Receiver:      onChain.Receiver,
		Spent:         new(big.Int),
		TokenContract: onChain.TokenContract,
	})
	if err != nil || ch == nil {
		return nil, err
	}
	err = m.store.Channels().Save(ctx, ch)
	if errors.Is(err, storage.ErrExists) {
		// Tracked concurrently by an accepted payment; its spent stands.
		stored, err := m.store.Channels().FirstByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return m.inflate(ctx, stored)
	}
	if err != nil {
		return nil, errors.WithMessage(err, "saving reconciled channel")
	}
	m.log.Log().WithField("channel", id).Info("Tracking channel found on-chain")
	return ch, nil
}

// LastPayment returns the highest payment recorded on id.
func (m *Manager) LastPayment(ctx context.Context, id channel.ID) (*channel.Payment, error) {
	return m.store.Payments().FirstMaximum(ctx, id)
}

// Channels returns all channels known locally.
func (m *Manager) Channels(ctx context.Context) ([]*channel.PaymentChannel, error) {
	return m.store.Channels().All(ctx)
}

// OpenChannels returns the channels stored as open.
func (m *Manager) OpenChannels(ctx context.Context) ([]*channel.PaymentChannel, error) {
	return m.store.Channels().AllOpen(ctx)
}

// SettlingChannels returns the channels stored as settling.
func (m *Manager) SettlingChannels(ctx context.Context) ([]*channel.PaymentChannel, error) {
	return m.store.Channels().AllSettling(ctx)
}

func (m *Manager) storedChannel(ctx context.Context, id channel.ID) (*channel.PaymentChannel, error) {
	ch, err := m.store.Channels().FirstByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errors.Wrapf(channel.ErrChannelNotFound, "channel %v", id)
	}
	return ch, err
}

// newToken derives an acceptance token from p and the current time, so a
// resubmitted payment receives a fresh token.
func (m *Manager) newToken(p *channel.Payment) string {
	var now [8]byte
	byteOrder.PutUint64(now[:], uint64(m.clock.Now().UnixNano()))
	return crypto.Keccak256Hash(
		p.ChannelID[:],
		p.Sender.Bytes(),
		p.Receiver.Bytes(),
		p.Value.Bytes(),
		p.Signature.Bytes(),
		[]byte(p.Meta),
		now[:],
	).Hex()
}

func (m *Manager) emit(typ event.Type, ch *channel.PaymentChannel, receipt *channel.Receipt) {
	m.events.Emit(event.Event{Type: typ, Channel: ch.Clone(), Receipt: receipt})
}

func (m *Manager) checkOpen() error {
	if m.closer.IsClosed() {
		return ErrManagerClosed
	}
	return nil
}
