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

package channel

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"perun.network/micropay-backend/channel/types"
	"perun.network/micropay-backend/wire"
)

// Receipt is the confirmed result of a state-changing contract call.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber *big.Int
}

// OnChain is the contract's record of a channel.
type OnChain struct {
	Sender           common.Address
	Receiver         common.Address
	Value            *big.Int
	SettlementPeriod *big.Int
	SettlingUntil    *big.Int
	TokenContract    common.Address
}

// Contract is the narrow interface to an on-chain unidirectional escrow.
// Write calls block until the transaction is confirmed.
type Contract interface {
	Open(ctx context.Context, id ID, receiver common.Address, settlementPeriod, value *big.Int) (*Receipt, error)
	Deposit(ctx context.Context, id ID, value *big.Int) (*Receipt, error)
	Claim(ctx context.Context, id ID, value *big.Int, sig wire.Signature) (*Receipt, error)
	StartSettling(ctx context.Context, id ID) (*Receipt, error)
	Settle(ctx context.Context, id ID) (*Receipt, error)

	// Channel returns nil, nil if the contract does not know the channel.
	Channel(ctx context.Context, id ID) (*OnChain, error)
	ChannelState(ctx context.Context, id ID) (State, error)
	PaymentDigest(ctx context.Context, id ID, value *big.Int) (common.Hash, error)
	// CanClaim never fails; any error collapses to false.
	CanClaim(ctx context.Context, id ID, value *big.Int, receiver common.Address, sig wire.Signature) bool
}

var ErrNoTokenAdapter = errors.New("no token contract adapter configured")

// Selector picks the contract adapter serving an asset: the native escrow for
// native channels, a token escrow bound to the token contract otherwise.
type Selector struct {
	native   Contract
	newToken func(token common.Address) (Contract, error)

	mu     sync.Mutex
	tokens map[common.Address]Contract
}

// NewSelector returns a Selector over a native adapter and a constructor for
// token adapters. newToken may be nil if token channels are unsupported.
func NewSelector(native Contract, newToken func(token common.Address) (Contract, error)) *Selector {
	return &Selector{
		native:   native,
		newToken: newToken,
		tokens:   make(map[common.Address]Contract),
	}
}

// Adapter returns the contract serving asset.
func (s *Selector) Adapter(asset types.Asset) (Contract, error) {
	switch asset.Kind() {
	case types.NativeKind:
		return s.native, nil
	case types.TokenKind:
		return s.token(asset.TokenContract())
	default:
		return nil, errors.Errorf("unknown asset kind %v", asset.Kind())
	}
}

// For returns the contract serving a channel with the given token contract.
func (s *Selector) For(tokenContract common.Address) (Contract, error) {
	return s.Adapter(types.AssetOf(tokenContract))
}

func (s *Selector) token(addr common.Address) (Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.tokens[addr]; ok {
		return c, nil
	}
	if s.newToken == nil {
		return nil, errors.Wrap(ErrNoTokenAdapter, addr.Hex())
	}
	c, err := s.newToken(addr)
	if err != nil {
		return nil, errors.WithMessagef(err, "binding token adapter %v", addr.Hex())
	}
	s.tokens[addr] = c
	return c, nil
}
