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

package channel_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"

	"perun.network/micropay-backend/channel"
	chtest "perun.network/micropay-backend/channel/test"
	"perun.network/micropay-backend/wire"
)

func TestInflate(t *testing.T) {
	ctx := context.Background()
	s := chtest.NewSetup(t)
	stored := s.OpenChannel(t, 1000, common.Address{})
	stored.Spent = big.NewInt(300)
	stored.Value = big.NewInt(1) // stale local value
	inflator := channel.NewInflator(s.Chain.Selector(s.Receiver.Address()))

	inflated, err := inflator.Inflate(ctx, stored)
	require.NoError(t, err)
	require.Equal(t, channel.Open, inflated.State)
	require.Equal(t, big.NewInt(1000), inflated.Value)
	require.Equal(t, big.NewInt(300), inflated.Spent)
	require.Equal(t, stored.Sender, inflated.Sender)

	_, err = s.Chain.Contract(s.Sender.Address()).StartSettling(ctx, stored.ID)
	require.NoError(t, err)
	inflated, err = inflator.Inflate(ctx, stored)
	require.NoError(t, err)
	require.Equal(t, channel.Settling, inflated.State)
	require.Equal(t, big.NewInt(int64(s.Chain.Block())+chtest.DefaultSettlementPeriod), inflated.SettlingUntil)

	unknown := chtest.NewRandomChannel(s.Rng, s.Sender.Address(), s.Receiver.Address(), big.NewInt(5), new(big.Int))
	inflated, err = inflator.Inflate(ctx, unknown)
	require.NoError(t, err)
	require.Nil(t, inflated)
}

func TestInflateNormalizesImpossibleState(t *testing.T) {
	s := chtest.NewSetup(t)
	stored := s.OpenChannel(t, 1000, common.Address{})
	s.Chain.ForceState(stored.ID, channel.Impossible)

	inflated, err := channel.NewInflator(s.Chain.Selector(s.Receiver.Address())).Inflate(context.Background(), stored)
	require.NoError(t, err)
	require.Equal(t, channel.Settled, inflated.State)
	require.Equal(t, big.NewInt(1000), inflated.Value)
}

func TestInflatePropagatesChainErrors(t *testing.T) {
	s := chtest.NewSetup(t)
	stored := s.OpenChannel(t, 1000, common.Address{})
	s.Chain.FailOn(chtest.OpChannelState, context.DeadlineExceeded)

	_, err := channel.NewInflator(s.Chain.Selector(s.Receiver.Address())).Inflate(context.Background(), stored)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBuildPaymentForChannel(t *testing.T) {
	ctx := context.Background()
	s := chtest.NewSetup(t)
	token := chtest.NewRandomToken(s.Rng)

	for _, tc := range []struct {
		name  string
		token common.Address
	}{
		{"native", common.Address{}},
		{"token", token},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ch := s.OpenChannel(t, 1000, tc.token)
			clk := clock.NewTestClock(testTime)
			pm := channel.NewPaymentManager(s.Chain.Selector(s.Sender.Address()), s.Sender, clk)

			p, err := pm.BuildPaymentForChannel(ctx, ch, big.NewInt(10), big.NewInt(110), "meta")
			require.NoError(t, err)
			require.Equal(t, ch.ID, p.ChannelID)
			require.Equal(t, big.NewInt(1000), p.ChannelValue)
			require.Equal(t, big.NewInt(110), p.Value)
			require.Equal(t, tc.token, p.TokenContract)
			require.Equal(t, testTime, p.CreatedAt)

			escrow := chtest.NativeEscrow
			if tc.token != (common.Address{}) {
				escrow = chtest.TokenEscrow
			}
			signer, err := wire.RecoverSigner(wire.PaymentDigest(escrow, ch.ID, p.Value, tc.token), p.Signature)
			require.NoError(t, err)
			require.Equal(t, s.Sender.Address(), signer)

			contract, err := s.Chain.Selector(s.Receiver.Address()).For(tc.token)
			require.NoError(t, err)
			require.True(t, contract.CanClaim(ctx, ch.ID, p.Value, s.Receiver.Address(), p.Signature))
		})
	}
}

func TestChannelAvailable(t *testing.T) {
	s := chtest.NewSetup(t)
	ch := chtest.NewRandomChannel(s.Rng, s.Sender.Address(), s.Receiver.Address(), big.NewInt(100), big.NewInt(40))
	require.Equal(t, big.NewInt(60), ch.Available())
	require.True(t, ch.IsUsable(big.NewInt(60)))
	require.False(t, ch.IsUsable(big.NewInt(61)))

	clone := ch.Clone()
	clone.Spent.SetInt64(0)
	require.Equal(t, big.NewInt(40), ch.Spent)

	ch.State = channel.Settling
	require.False(t, ch.IsUsable(big.NewInt(1)))
}

func TestParseID(t *testing.T) {
	s := chtest.NewSetup(t)
	id := chtest.NewRandomID(s.Rng)
	parsed, err := channel.ParseID(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = channel.ParseID(id.String()[2:])
	require.Error(t, err)
	_, err = channel.ParseID("0x1234")
	require.Error(t, err)
}
