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

package payment

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"

	"perun.network/micropay-backend/channel"
	"perun.network/micropay-backend/event"
	"perun.network/micropay-backend/storage"
	"perun.network/micropay-backend/wire"
)

// Client is the entry point for paying and getting paid over channels.
type Client struct {
	manager *Manager
	store   storage.Store
	log     log.Embedding
}

// NewClient migrates store if needed and returns a Client acting as account.
func NewClient(ctx context.Context, account channel.Signer, contracts *channel.Selector, store storage.Store, clk clock.Clock, opts Options) (*Client, error) {
	migrator := store.Migrator()
	latest, err := migrator.IsLatest(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "checking schema version")
	}
	if !latest {
		if err := migrator.Sync(ctx); err != nil {
			return nil, errors.WithMessage(err, "migrating store")
		}
	}
	return &Client{
		manager: NewManager(account, contracts, store, clk, opts),
		store:   store,
		log:     log.MakeEmbedding(log.Default()),
	}, nil
}

// Manager exposes the underlying channel manager.
func (c *Client) Manager() *Manager {
	return c.manager
}

// Address returns the client's account address.
func (c *Client) Address() common.Address {
	return c.manager.Address()
}

// Open opens a channel to receiver sized for payments of value.
func (c *Client) Open(ctx context.Context, receiver common.Address, value *big.Int, opts OpenOptions) (*channel.PaymentChannel, error) {
	return c.manager.OpenChannel(ctx, c.Address(), receiver, value, opts)
}

// Pay pays price to receiver over a usable channel, opening one if needed.
// The returned payment carries the token it was recorded under.
func (c *Client) Pay(ctx context.Context, receiver common.Address, price *big.Int, meta string, opts OpenOptions) (*channel.Payment, error) {
	ch, err := c.manager.RequireOpenChannel(ctx, c.Address(), receiver, price, opts)
	if err != nil {
		return nil, err
	}
	return c.manager.PayChannel(ctx, ch.ID, price, meta)
}

// PayForPaywall pays what a paywall asked for in its response headers.
func (c *Client) PayForPaywall(ctx context.Context, h *wire.PaywallHeaders, minDeposit *big.Int) (*channel.Payment, error) {
	if h.Version != wire.ProtocolVersion {
		c.log.Log().WithFields(log.Fields{"version": h.Version, "supported": wire.ProtocolVersion}).Warn("Paywall speaks a different protocol version")
	}
	return c.Pay(ctx, h.Receiver, h.Price, h.Meta, OpenOptions{
		MinDeposit:    minDeposit,
		TokenContract: h.TokenContract,
	})
}

// Accept validates and records a received payment and returns its token.
func (c *Client) Accept(ctx context.Context, p *channel.Payment) (string, error) {
	return c.manager.AcceptPayment(ctx, p)
}

// AcceptToken reports whether token proves an accepted payment.
func (c *Client) AcceptToken(ctx context.Context, token string) (bool, error) {
	return c.store.Tokens().IsPresent(ctx, token)
}

// Deposit adds value to channel id.
func (c *Client) Deposit(ctx context.Context, id channel.ID, value *big.Int) (*channel.Receipt, error) {
	return c.manager.Deposit(ctx, id, value)
}

// Close closes channel id from whichever side the client is on.
func (c *Client) Close(ctx context.Context, id channel.ID) (*channel.Receipt, error) {
	return c.manager.CloseChannel(ctx, id)
}

// ChannelByID returns the current view of channel id, nil if unknown.
func (c *Client) ChannelByID(ctx context.Context, id channel.ID) (*channel.PaymentChannel, error) {
	return c.manager.ChannelByID(ctx, id)
}

// PaymentByToken returns the payment recorded under token.
func (c *Client) PaymentByToken(ctx context.Context, token string) (*channel.Payment, error) {
	return c.store.Payments().FindByToken(ctx, token)
}

// Payments returns the payments recorded on id in the order they were
// recorded.
func (c *Client) Payments(ctx context.Context, id channel.ID) ([]*channel.Payment, error) {
	return c.store.Payments().FindByChannel(ctx, id)
}

// LastPayment returns the highest payment recorded on id.
func (c *Client) LastPayment(ctx context.Context, id channel.ID) (*channel.Payment, error) {
	return c.manager.LastPayment(ctx, id)
}

func (c *Client) Channels(ctx context.Context) ([]*channel.PaymentChannel, error) {
	return c.manager.Channels(ctx)
}

func (c *Client) OpenChannels(ctx context.Context) ([]*channel.PaymentChannel, error) {
	return c.manager.OpenChannels(ctx)
}

func (c *Client) SettlingChannels(ctx context.Context) ([]*channel.PaymentChannel, error) {
	return c.manager.SettlingChannels(ctx)
}

// Subscribe returns a subscription to the client's lifecycle events.
func (c *Client) Subscribe() *event.Subscription {
	return c.manager.Events().Subscribe()
}

// Shutdown stops the manager and closes the store.
func (c *Client) Shutdown() error {
	closeErr := c.manager.Close()
	if err := c.store.Close(); err != nil {
		return err
	}
	return closeErr
}
