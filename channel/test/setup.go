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
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	pkgtest "polycry.pt/poly-go/test"

	"perun.network/micropay-backend/channel"
	"perun.network/micropay-backend/wallet"
	wtest "perun.network/micropay-backend/wallet/test"
)

// DefaultSettlementPeriod is the settlement period, in blocks, used by test
// channels.
const DefaultSettlementPeriod = 100

// Setup bundles a chain with a funded sender and a receiver.
type Setup struct {
	Rng      *rand.Rand
	Chain    *Chain
	Sender   *wallet.Account
	Receiver *wallet.Account
}

// NewSetup returns a fresh chain and two random accounts.
func NewSetup(t *testing.T) *Setup {
	rng := pkgtest.Prng(t)
	return &Setup{
		Rng:      rng,
		Chain:    NewChain(),
		Sender:   wtest.NewRandomAccount(rng),
		Receiver: wtest.NewRandomAccount(rng),
	}
}

// OpenChannel opens a channel from sender to receiver on the chain and
// returns its local record. A zero token opens a native channel.
func (s *Setup) OpenChannel(t *testing.T, value int64, token common.Address) *channel.PaymentChannel {
	t.Helper()
	ch := NewRandomChannel(s.Rng, s.Sender.Address(), s.Receiver.Address(), big.NewInt(value), new(big.Int))
	ch.TokenContract = token
	contract, err := s.Chain.Selector(s.Sender.Address()).For(token)
	require.NoError(t, err)
	_, err = contract.Open(context.Background(), ch.ID, ch.Receiver, ch.SettlementPeriod, ch.Value)
	require.NoError(t, err)
	return ch
}
