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

package client

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"

	"perun.network/micropay-backend/channel"
)

const (
	DefaultConfirmations       = 1
	DefaultConfirmationTimeout = 5 * time.Minute
	DefaultPollInterval        = time.Second
)

var (
	ErrTxReverted          = errors.New("transaction reverted")
	ErrConfirmationTimeout = errors.New("timed out waiting for confirmations")
)

// Backend is the chain access the adapter needs. *ethclient.Client
// implements it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// TransactorConfig configures a Transactor.
type TransactorConfig struct {
	Key     *ecdsa.PrivateKey
	ChainID *big.Int
	// Confirmations is the depth a transaction's block must reach.
	Confirmations uint64
	// Timeout bounds sending, mining and confirming one transaction.
	Timeout      time.Duration
	PollInterval time.Duration
	Clock        clock.Clock
}

// Transactor signs and sends transactions one at a time and blocks until
// they are confirmed.
type Transactor struct {
	backend Backend
	cfg     TransactorConfig
	from    common.Address

	// mu orders nonce assignment.
	mu  sync.Mutex
	log log.Embedding
}

// NewTransactor returns a Transactor sending through backend.
func NewTransactor(backend Backend, cfg TransactorConfig) *Transactor {
	if cfg.Confirmations == 0 {
		cfg.Confirmations = DefaultConfirmations
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfirmationTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	from := crypto.PubkeyToAddress(cfg.Key.PublicKey)
	return &Transactor{
		backend: backend,
		cfg:     cfg,
		from:    from,
		log:     log.MakeEmbedding(log.WithField("from", from.Hex())),
	}
}

// From returns the sending address.
func (t *Transactor) From() common.Address {
	return t.from
}

// Transact sends the transaction built by send with value attached and
// waits for it to be confirmed.
func (t *Transactor) Transact(ctx context.Context, value *big.Int, send func(opts *bind.TransactOpts) (*types.Transaction, error)) (*channel.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	tx, err := t.send(ctx, value, send)
	if err != nil {
		return nil, err
	}
	t.log.Log().WithField("tx", tx.Hash().Hex()).Debug("Sent transaction")

	receipt, err := bind.WaitMined(ctx, t.backend, tx)
	if err != nil {
		return nil, t.timeoutErr(ctx, errors.WithMessagef(err, "waiting for %v", tx.Hash().Hex()))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, errors.Wrapf(ErrTxReverted, "tx %v", tx.Hash().Hex())
	}
	if err := t.waitConfirmations(ctx, receipt.BlockNumber); err != nil {
		return nil, err
	}
	return &channel.Receipt{TxHash: receipt.TxHash, BlockNumber: new(big.Int).Set(receipt.BlockNumber)}, nil
}

func (t *Transactor) send(ctx context.Context, value *big.Int, send func(opts *bind.TransactOpts) (*types.Transaction, error)) (*types.Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	opts, err := bind.NewKeyedTransactorWithChainID(t.cfg.Key, t.cfg.ChainID)
	if err != nil {
		return nil, errors.Wrap(err, "creating transactor")
	}
	opts.Context = ctx
	opts.Value = value
	tx, err := send(opts)
	return tx, errors.WithMessage(err, "sending transaction")
}

func (t *Transactor) waitConfirmations(ctx context.Context, block *big.Int) error {
	target := new(big.Int).Add(block, new(big.Int).SetUint64(t.cfg.Confirmations-1))
	for {
		head, err := t.backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return t.timeoutErr(ctx, errors.WithMessage(err, "reading head"))
		}
		if head.Number.Cmp(target) >= 0 {
			return nil
		}
		select {
		case <-t.cfg.Clock.TickAfter(t.cfg.PollInterval):
		case <-ctx.Done():
			return errors.Wrapf(ErrConfirmationTimeout, "block %v", block)
		}
	}
}

func (t *Transactor) timeoutErr(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrap(ErrConfirmationTimeout, err.Error())
	}
	return err
}
