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

// Package storage defines the persistence contracts of the payment manager.
// The manager is the only writer; every implementation must be safe for
// concurrent use.
package storage

import (
	"context"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"perun.network/micropay-backend/channel"
)

var (
	// ErrNotFound is returned by single-record lookups that match nothing.
	ErrNotFound = errors.New("record not found")
	// ErrExists is returned when inserting a channel whose id is taken.
	ErrExists = errors.New("record already exists")
)

// ChannelStore persists payment channels. Channels are never deleted.
type ChannelStore interface {
	// Save inserts ch and fails with ErrExists if its id is known.
	Save(ctx context.Context, ch *channel.PaymentChannel) error
	// SaveOrUpdate inserts ch or overwrites value and spent of the stored
	// channel with the same id. The stored state is kept.
	SaveOrUpdate(ctx context.Context, ch *channel.PaymentChannel) error
	FirstByID(ctx context.Context, id channel.ID) (*channel.PaymentChannel, error)
	All(ctx context.Context) ([]*channel.PaymentChannel, error)
	AllOpen(ctx context.Context) ([]*channel.PaymentChannel, error)
	AllSettling(ctx context.Context) ([]*channel.PaymentChannel, error)
	// FindUsable returns an open channel from sender to receiver in the
	// given asset with at least amount left.
	FindUsable(ctx context.Context, sender, receiver common.Address, amount *big.Int, tokenContract common.Address) (*channel.PaymentChannel, error)
	FindBySenderReceiverChannelID(ctx context.Context, sender, receiver common.Address, id channel.ID) (*channel.PaymentChannel, error)
	UpdateState(ctx context.Context, id channel.ID, state channel.State) error
	UpdateSettlingUntil(ctx context.Context, id channel.ID, settlingUntil *big.Int) error
	// Deposit adds value to the stored channel value.
	Deposit(ctx context.Context, id channel.ID, value *big.Int) error
}

// PaymentStore persists accepted and sent payments. It is append-only.
type PaymentStore interface {
	Save(ctx context.Context, token string, p *channel.Payment) error
	// FirstMaximum returns the payment with the highest value on id.
	FirstMaximum(ctx context.Context, id channel.ID) (*channel.Payment, error)
	FindByToken(ctx context.Context, token string) (*channel.Payment, error)
	// FindByChannel returns the payments on id in insertion order.
	FindByChannel(ctx context.Context, id channel.ID) ([]*channel.Payment, error)
}

// TokenStore records issued acceptance tokens.
type TokenStore interface {
	Save(ctx context.Context, token string, id channel.ID) error
	IsPresent(ctx context.Context, token string) (bool, error)
}

// Migrator brings a store's schema to the version the code expects.
type Migrator interface {
	IsLatest(ctx context.Context) (bool, error)
	Sync(ctx context.Context) error
}

// Store bundles the three tables and their migrator.
type Store interface {
	Channels() ChannelStore
	Payments() PaymentStore
	Tokens() TokenStore
	Migrator() Migrator
	io.Closer
}

// Compose builds a Store from separately provided parts, e.g. a shared
// token store in front of a local channel store.
func Compose(base Store, tokens TokenStore, closers ...io.Closer) Store {
	return &composed{Store: base, tokens: tokens, closers: closers}
}

type composed struct {
	Store
	tokens  TokenStore
	closers []io.Closer
}

func (c *composed) Tokens() TokenStore {
	return c.tokens
}

func (c *composed) Close() error {
	err := c.Store.Close()
	for _, cl := range c.closers {
		if cerr := cl.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
