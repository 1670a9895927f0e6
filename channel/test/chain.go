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

package test

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"perun.network/micropay-backend/channel"
	"perun.network/micropay-backend/wire"
)

// Op names a contract call for failure injection.
type Op string

const (
	OpOpen          Op = "open"
	OpDeposit       Op = "deposit"
	OpClaim         Op = "claim"
	OpStartSettling Op = "startSettling"
	OpSettle        Op = "settle"
	OpChannel       Op = "channel"
	OpChannelState  Op = "channelState"
)

var (
	ErrChannelExists    = errors.New("channel already exists")
	ErrUnknownChannel   = errors.New("unknown channel")
	ErrNotSender        = errors.New("caller is not the sender")
	ErrNotReceiver      = errors.New("caller is not the receiver")
	ErrNotOpen          = errors.New("channel is not open")
	ErrCannotSettle     = errors.New("settlement period has not elapsed")
	ErrInvalidClaim     = errors.New("claim rejected")
	ErrZeroSettlePeriod = errors.New("settlement period must be positive")
)

var (
	// NativeEscrow is the address of the simulated native escrow contract.
	NativeEscrow = crypto.CreateAddress(common.Address{}, 0)
	// TokenEscrow is the address of the simulated token escrow contract.
	TokenEscrow = crypto.CreateAddress(common.Address{}, 1)
)

// Chain is an in-memory stand-in for the native and token escrow contracts.
// Every state-changing call mines exactly one block.
type Chain struct {
	mu       sync.Mutex
	block    uint64
	channels map[common.Address]map[channel.ID]*channel.OnChain
	failures map[Op]error
	calls    map[Op]int
	gates    map[Op]*gate
	states   map[channel.ID]channel.State
}

type gate struct {
	entered chan struct{}
	release chan struct{}
}

// NewChain returns an empty chain at block 0.
func NewChain() *Chain {
	return &Chain{
		channels: map[common.Address]map[channel.ID]*channel.OnChain{
			NativeEscrow: {},
			TokenEscrow:  {},
		},
		failures: make(map[Op]error),
		calls:    make(map[Op]int),
		gates:    make(map[Op]*gate),
		states:   make(map[channel.ID]channel.State),
	}
}

// Block returns the current block number.
func (c *Chain) Block() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}

// Mine advances the chain by n empty blocks.
func (c *Chain) Mine(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block += n
}

// FailOn makes every following op call return err. A nil err clears it.
func (c *Chain) FailOn(op Op, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, op)
		return
	}
	c.failures[op] = err
}

// Hold blocks the next read of op until release is called. entered is
// closed once that read is waiting. Only OpChannel and OpChannelState can be
// held.
func (c *Chain) Hold(op Op) (entered <-chan struct{}, release func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := &gate{entered: make(chan struct{}), release: make(chan struct{})}
	c.gates[op] = g
	var once sync.Once
	return g.entered, func() { once.Do(func() { close(g.release) }) }
}

// ForceState makes ChannelState report st for id on every escrow.
func (c *Chain) ForceState(id channel.ID, st channel.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[id] = st
}

// Calls returns how often op was invoked.
func (c *Chain) Calls(op Op) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Contract returns the native escrow as seen by caller.
func (c *Chain) Contract(caller common.Address) *Contract {
	return &Contract{chain: c, caller: caller, escrow: NativeEscrow}
}

// TokenContract returns the token escrow bound to token as seen by caller.
func (c *Chain) TokenContract(caller, token common.Address) *Contract {
	return &Contract{chain: c, caller: caller, escrow: TokenEscrow, token: token}
}

// Selector returns a selector over both escrows for caller.
func (c *Chain) Selector(caller common.Address) *channel.Selector {
	return channel.NewSelector(c.Contract(caller), func(token common.Address) (channel.Contract, error) {
		return c.TokenContract(caller, token), nil
	})
}

// Contract is a caller-bound view on one simulated escrow.
type Contract struct {
	chain  *Chain
	caller common.Address
	escrow common.Address
	token  common.Address
}

var _ channel.Contract = (*Contract)(nil)

// Address returns the escrow contract address.
func (s *Contract) Address() common.Address {
	return s.escrow
}

func (s *Contract) Open(_ context.Context, id channel.ID, receiver common.Address, settlementPeriod, value *big.Int) (*channel.Receipt, error) {
	return s.write(OpOpen, func(chs map[channel.ID]*channel.OnChain, _ uint64) error {
		if _, ok := chs[id]; ok {
			return ErrChannelExists
		}
		if settlementPeriod.Sign() <= 0 {
			return ErrZeroSettlePeriod
		}
		chs[id] = &channel.OnChain{
			Sender:           s.caller,
			Receiver:         receiver,
			Value:            new(big.Int).Set(value),
			SettlementPeriod: new(big.Int).Set(settlementPeriod),
			SettlingUntil:    new(big.Int),
			TokenContract:    s.token,
		}
		return nil
	})
}

func (s *Contract) Deposit(_ context.Context, id channel.ID, value *big.Int) (*channel.Receipt, error) {
	return s.write(OpDeposit, func(chs map[channel.ID]*channel.OnChain, _ uint64) error {
		ch, err := s.senderOpen(chs, id)
		if err != nil {
			return err
		}
		ch.Value = new(big.Int).Add(ch.Value, value)
		return nil
	})
}

func (s *Contract) Claim(_ context.Context, id channel.ID, value *big.Int, sig wire.Signature) (*channel.Receipt, error) {
	return s.write(OpClaim, func(chs map[channel.ID]*channel.OnChain, _ uint64) error {
		ch, ok := chs[id]
		if !ok {
			return ErrUnknownChannel
		}
		if ch.Receiver != s.caller {
			return ErrNotReceiver
		}
		if !s.canClaim(ch, id, value, s.caller, sig) {
			return ErrInvalidClaim
		}
		delete(chs, id)
		return nil
	})
}

func (s *Contract) StartSettling(_ context.Context, id channel.ID) (*channel.Receipt, error) {
	return s.write(OpStartSettling, func(chs map[channel.ID]*channel.OnChain, block uint64) error {
		ch, err := s.senderOpen(chs, id)
		if err != nil {
			return err
		}
		ch.SettlingUntil = new(big.Int).Add(new(big.Int).SetUint64(block), ch.SettlementPeriod)
		return nil
	})
}

func (s *Contract) Settle(_ context.Context, id channel.ID) (*channel.Receipt, error) {
	return s.write(OpSettle, func(chs map[channel.ID]*channel.OnChain, block uint64) error {
		ch, ok := chs[id]
		if !ok {
			return ErrUnknownChannel
		}
		if ch.Sender != s.caller {
			return ErrNotSender
		}
		if ch.SettlingUntil.Sign() == 0 || new(big.Int).SetUint64(block).Cmp(ch.SettlingUntil) < 0 {
			return ErrCannotSettle
		}
		delete(chs, id)
		return nil
	})
}

func (s *Contract) Channel(_ context.Context, id channel.ID) (*channel.OnChain, error) {
	s.chain.wait(OpChannel)
	s.chain.mu.Lock()
	defer s.chain.mu.Unlock()
	if err := s.chain.call(OpChannel); err != nil {
		return nil, err
	}
	ch, ok := s.chain.channels[s.escrow][id]
	if !ok {
		return nil, nil
	}
	return cloneOnChain(ch), nil
}

func (s *Contract) ChannelState(_ context.Context, id channel.ID) (channel.State, error) {
	s.chain.wait(OpChannelState)
	s.chain.mu.Lock()
	defer s.chain.mu.Unlock()
	if err := s.chain.call(OpChannelState); err != nil {
		return channel.Impossible, err
	}
	if st, ok := s.chain.states[id]; ok {
		return st, nil
	}
	ch, ok := s.chain.channels[s.escrow][id]
	switch {
	case !ok:
		return channel.Settled, nil
	case ch.SettlingUntil.Sign() == 0:
		return channel.Open, nil
	default:
		return channel.Settling, nil
	}
}

func (s *Contract) PaymentDigest(_ context.Context, id channel.ID, value *big.Int) (common.Hash, error) {
	return wire.PaymentDigest(s.escrow, id, value, s.token), nil
}

func (s *Contract) CanClaim(_ context.Context, id channel.ID, value *big.Int, receiver common.Address, sig wire.Signature) bool {
	s.chain.mu.Lock()
	defer s.chain.mu.Unlock()
	ch, ok := s.chain.channels[s.escrow][id]
	if !ok {
		return false
	}
	return s.canClaim(ch, id, value, receiver, sig)
}

func (s *Contract) canClaim(ch *channel.OnChain, id channel.ID, value *big.Int, receiver common.Address, sig wire.Signature) bool {
	if ch.Receiver != receiver || ch.TokenContract != s.token || value.Cmp(ch.Value) > 0 {
		return false
	}
	signer, err := wire.RecoverSigner(wire.PaymentDigest(s.escrow, id, value, s.token), sig)
	return err == nil && signer == ch.Sender
}

func (s *Contract) senderOpen(chs map[channel.ID]*channel.OnChain, id channel.ID) (*channel.OnChain, error) {
	ch, ok := chs[id]
	if !ok {
		return nil, ErrUnknownChannel
	}
	if ch.Sender != s.caller {
		return nil, ErrNotSender
	}
	if ch.SettlingUntil.Sign() != 0 {
		return nil, ErrNotOpen
	}
	return ch, nil
}

// write runs tx in the next block and mines it only on success.
func (s *Contract) write(op Op, tx func(chs map[channel.ID]*channel.OnChain, block uint64) error) (*channel.Receipt, error) {
	s.chain.mu.Lock()
	defer s.chain.mu.Unlock()
	if err := s.chain.call(op); err != nil {
		return nil, err
	}
	block := s.chain.block + 1
	if err := tx(s.chain.channels[s.escrow], block); err != nil {
		return nil, errors.WithMessagef(err, "%s reverted", op)
	}
	s.chain.block = block
	var txHash common.Hash
	copy(txHash[:], crypto.Keccak256([]byte(op), new(big.Int).SetUint64(block).Bytes()))
	return &channel.Receipt{TxHash: txHash, BlockNumber: new(big.Int).SetUint64(block)}, nil
}

// wait consumes a held gate for op, if any. It must be invoked without the
// chain lock.
func (c *Chain) wait(op Op) {
	c.mu.Lock()
	g := c.gates[op]
	delete(c.gates, op)
	c.mu.Unlock()
	if g == nil {
		return
	}
	close(g.entered)
	<-g.release
}

// call must be invoked with the chain lock held.
func (c *Chain) call(op Op) error {
	c.calls[op]++
	return c.failures[op]
}

func cloneOnChain(ch *channel.OnChain) *channel.OnChain {
	clone := *ch
	clone.Value = new(big.Int).Set(ch.Value)
	clone.SettlementPeriod = new(big.Int).Set(ch.SettlementPeriod)
	clone.SettlingUntil = new(big.Int).Set(ch.SettlingUntil)
	return &clone
}
