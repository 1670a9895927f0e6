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
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"

	"perun.network/micropay-backend/channel"
	"perun.network/micropay-backend/wire"
)

// Contract binds a deployed unidirectional escrow. A zero token contract
// selects the native escrow, anything else the token escrow for that ERC20.
type Contract struct {
	address common.Address
	token   common.Address
	abi     abi.ABI
	escrow  *bind.BoundContract
	erc20   *bind.BoundContract
	tr      *Transactor
	log     log.Embedding
}

var _ channel.Contract = (*Contract)(nil)

// NewNativeContract binds the native escrow at address.
func NewNativeContract(backend Backend, tr *Transactor, address common.Address) *Contract {
	return &Contract{
		address: address,
		abi:     UnidirectionalABI,
		escrow:  bind.NewBoundContract(address, UnidirectionalABI, backend, backend, backend),
		tr:      tr,
		log:     log.MakeEmbedding(log.WithField("escrow", address.Hex())),
	}
}

// NewTokenContract binds the token escrow at address for token.
func NewTokenContract(backend Backend, tr *Transactor, address, token common.Address) *Contract {
	return &Contract{
		address: address,
		token:   token,
		abi:     TokenUnidirectionalABI,
		escrow:  bind.NewBoundContract(address, TokenUnidirectionalABI, backend, backend, backend),
		erc20:   bind.NewBoundContract(token, ERC20ABI, backend, backend, backend),
		tr:      tr,
		log: log.MakeEmbedding(log.WithFields(log.Fields{
			"escrow": address.Hex(),
			"token":  token.Hex(),
		})),
	}
}

// NewSelector wires a channel.Selector serving the native escrow at native
// and token channels through the token escrow at tokenEscrow. A zero
// tokenEscrow disables token channels.
func NewSelector(backend Backend, tr *Transactor, native, tokenEscrow common.Address) *channel.Selector {
	var newToken func(common.Address) (channel.Contract, error)
	if tokenEscrow != (common.Address{}) {
		newToken = func(token common.Address) (channel.Contract, error) {
			return NewTokenContract(backend, tr, tokenEscrow, token), nil
		}
	}
	return channel.NewSelector(NewNativeContract(backend, tr, native), newToken)
}

// Address returns the escrow's address.
func (c *Contract) Address() common.Address {
	return c.address
}

func (c *Contract) isToken() bool {
	return c.token != (common.Address{})
}

func (c *Contract) Open(ctx context.Context, id channel.ID, receiver common.Address, settlementPeriod, value *big.Int) (*channel.Receipt, error) {
	if !c.isToken() {
		return c.transact(ctx, value, "open", [32]byte(id), receiver, settlementPeriod)
	}
	if err := c.approve(ctx, value); err != nil {
		return nil, err
	}
	return c.transact(ctx, nil, "open", [32]byte(id), receiver, settlementPeriod, c.token, value)
}

func (c *Contract) Deposit(ctx context.Context, id channel.ID, value *big.Int) (*channel.Receipt, error) {
	if !c.isToken() {
		return c.transact(ctx, value, "deposit", [32]byte(id))
	}
	if err := c.approve(ctx, value); err != nil {
		return nil, err
	}
	return c.transact(ctx, nil, "deposit", [32]byte(id), value)
}

func (c *Contract) Claim(ctx context.Context, id channel.ID, value *big.Int, sig wire.Signature) (*channel.Receipt, error) {
	return c.transact(ctx, nil, "claim", [32]byte(id), value, sig.Bytes())
}

func (c *Contract) StartSettling(ctx context.Context, id channel.ID) (*channel.Receipt, error) {
	return c.transact(ctx, nil, "startSettling", [32]byte(id))
}

func (c *Contract) Settle(ctx context.Context, id channel.ID) (*channel.Receipt, error) {
	return c.transact(ctx, nil, "settle", [32]byte(id))
}

func (c *Contract) Channel(ctx context.Context, id channel.ID) (*channel.OnChain, error) {
	out, err := c.call(ctx, "channels", [32]byte(id))
	if err != nil {
		return nil, err
	}
	return decodeChannel(out)
}

func (c *Contract) ChannelState(ctx context.Context, id channel.ID) (channel.State, error) {
	for _, q := range []struct {
		method string
		state  channel.State
	}{
		{"isAbsent", channel.Settled},
		{"isOpen", channel.Open},
		{"isSettling", channel.Settling},
	} {
		out, err := c.call(ctx, q.method, [32]byte(id))
		if err != nil {
			return channel.Impossible, err
		}
		if yes, _ := out[0].(bool); yes {
			return q.state, nil
		}
	}
	return channel.Impossible, nil
}

func (c *Contract) PaymentDigest(ctx context.Context, id channel.ID, value *big.Int) (common.Hash, error) {
	args := []interface{}{[32]byte(id), value}
	if c.isToken() {
		args = append(args, c.token)
	}
	out, err := c.call(ctx, "paymentDigest", args...)
	if err != nil {
		return common.Hash{}, err
	}
	digest, ok := out[0].([32]byte)
	if !ok {
		return common.Hash{}, errors.Errorf("paymentDigest: unexpected output %T", out[0])
	}
	return common.Hash(digest), nil
}

func (c *Contract) CanClaim(ctx context.Context, id channel.ID, value *big.Int, receiver common.Address, sig wire.Signature) bool {
	out, err := c.call(ctx, "canClaim", [32]byte(id), value, receiver, sig.Bytes())
	if err != nil {
		c.log.Log().WithError(err).Debug("canClaim call failed")
		return false
	}
	ok, _ := out[0].(bool)
	return ok
}

func (c *Contract) approve(ctx context.Context, value *big.Int) error {
	_, err := c.tr.Transact(ctx, nil, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return c.erc20.Transact(opts, "approve", c.address, value)
	})
	return errors.WithMessage(err, "approving token transfer")
}

func (c *Contract) transact(ctx context.Context, value *big.Int, method string, args ...interface{}) (*channel.Receipt, error) {
	r, err := c.tr.Transact(ctx, value, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return c.escrow.Transact(opts, method, args...)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "%s", method)
	}
	c.log.Log().WithFields(log.Fields{"method": method, "tx": r.TxHash.Hex()}).Debug("Transaction confirmed")
	return r, nil
}

func (c *Contract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.escrow.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, errors.WithMessagef(err, "calling %s", method)
	}
	if len(out) == 0 {
		return nil, errors.Errorf("%s: empty output", method)
	}
	return out, nil
}

// decodeChannel maps the output of the channels view. The contract returns a
// zero record for unknown ids.
func decodeChannel(out []interface{}) (*channel.OnChain, error) {
	if len(out) < 5 {
		return nil, errors.Errorf("channels: expected at least 5 outputs, got %d", len(out))
	}
	ch := &channel.OnChain{
		Sender:           *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
		Receiver:         *abi.ConvertType(out[1], new(common.Address)).(*common.Address),
		Value:            *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
		SettlementPeriod: *abi.ConvertType(out[3], new(*big.Int)).(**big.Int),
		SettlingUntil:    *abi.ConvertType(out[4], new(*big.Int)).(**big.Int),
	}
	if len(out) > 5 {
		ch.TokenContract = *abi.ConvertType(out[5], new(common.Address)).(*common.Address)
	}
	if ch.Sender == (common.Address{}) {
		return nil, nil
	}
	return ch, nil
}
