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

// Package test provides a conformance suite every storage.Store
// implementation is run against.
package test

import (
	"context"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"perun.network/micropay-backend/channel"
	chtest "perun.network/micropay-backend/channel/test"
	"perun.network/micropay-backend/storage"
	wtest "perun.network/micropay-backend/wallet/test"
	"perun.network/micropay-backend/wire"
)

// NewRandomPayment draws a payment on ch with the given value. The signature
// is random and will not verify.
func NewRandomPayment(rng *rand.Rand, ch *channel.PaymentChannel, value int64) *channel.Payment {
	var r, s common.Hash
	rng.Read(r[:])
	rng.Read(s[:])
	sig, err := wire.SignatureFromParts(27+uint8(rng.Intn(2)), r, s)
	if err != nil {
		panic(err)
	}
	return &channel.Payment{
		ChannelID:     ch.ID,
		Sender:        ch.Sender,
		Receiver:      ch.Receiver,
		Price:         big.NewInt(1),
		Value:         big.NewInt(value),
		ChannelValue:  new(big.Int).Set(ch.Value),
		Signature:     sig,
		Meta:          "meta",
		TokenContract: ch.TokenContract,
		CreatedAt:     time.UnixMilli(rng.Int63n(1 << 40)).UTC(),
	}
}

// ChannelStore tests a ChannelStore that starts empty.
func ChannelStore(t *testing.T, rng *rand.Rand, s storage.ChannelStore) {
	ctx := context.Background()
	sender, receiver := wtest.NewRandomAddress(rng), wtest.NewRandomAddress(rng)
	ch := chtest.NewRandomChannel(rng, sender, receiver, big.NewInt(1000), big.NewInt(0))

	_, err := s.FirstByID(ctx, ch.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Save(ctx, ch))
	require.ErrorIs(t, s.Save(ctx, ch), storage.ErrExists)

	stored, err := s.FirstByID(ctx, ch.ID)
	require.NoError(t, err)
	RequireEqualChannel(t, ch, stored)

	stored, err = s.FindBySenderReceiverChannelID(ctx, sender, receiver, ch.ID)
	require.NoError(t, err)
	require.Equal(t, ch.ID, stored.ID)
	_, err = s.FindBySenderReceiverChannelID(ctx, receiver, sender, ch.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Usable lookups respect amount, direction and asset.
	usable, err := s.FindUsable(ctx, sender, receiver, big.NewInt(1000), common.Address{})
	require.NoError(t, err)
	require.Equal(t, ch.ID, usable.ID)
	_, err = s.FindUsable(ctx, sender, receiver, big.NewInt(1001), common.Address{})
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.FindUsable(ctx, receiver, sender, big.NewInt(1), common.Address{})
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.FindUsable(ctx, sender, receiver, big.NewInt(1), chtest.NewRandomToken(rng))
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Deposit(ctx, ch.ID, big.NewInt(500)))
	spent := ch.Clone()
	spent.Value, spent.Spent = big.NewInt(1500), big.NewInt(1200)
	require.NoError(t, s.SaveOrUpdate(ctx, spent))
	stored, err = s.FirstByID(ctx, ch.ID)
	require.NoError(t, err)
	require.Equal(t, "1500", stored.Value.String())
	require.Equal(t, "1200", stored.Spent.String())
	_, err = s.FindUsable(ctx, sender, receiver, big.NewInt(301), common.Address{})
	require.ErrorIs(t, err, storage.ErrNotFound)

	// SaveOrUpdate is idempotent and keeps the lifecycle state.
	require.NoError(t, s.UpdateState(ctx, ch.ID, channel.Settling))
	require.NoError(t, s.UpdateSettlingUntil(ctx, ch.ID, big.NewInt(4242)))
	update := stored.Clone()
	update.State = channel.Open
	update.Spent = big.NewInt(1300)
	require.NoError(t, s.SaveOrUpdate(ctx, update))
	require.NoError(t, s.SaveOrUpdate(ctx, update))
	stored, err = s.FirstByID(ctx, ch.ID)
	require.NoError(t, err)
	require.Equal(t, channel.Settling, stored.State)
	require.Equal(t, "1300", stored.Spent.String())
	require.Equal(t, "4242", stored.SettlingUntil.String())

	other := chtest.NewRandomChannel(rng, sender, receiver, big.NewInt(10), big.NewInt(0))
	require.NoError(t, s.SaveOrUpdate(ctx, other))

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	open, err := s.AllOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, other.ID, open[0].ID)
	settling, err := s.AllSettling(ctx)
	require.NoError(t, err)
	require.Len(t, settling, 1)
	require.Equal(t, ch.ID, settling[0].ID)

	require.ErrorIs(t, s.UpdateState(ctx, chtest.NewRandomID(rng), channel.Settled), storage.ErrNotFound)
}

// PaymentStore tests a PaymentStore that starts empty.
func PaymentStore(t *testing.T, rng *rand.Rand, s storage.PaymentStore) {
	ctx := context.Background()
	ch := chtest.NewRandomChannel(rng, wtest.NewRandomAddress(rng), wtest.NewRandomAddress(rng), big.NewInt(1000), big.NewInt(0))

	_, err := s.FirstMaximum(ctx, ch.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.FindByToken(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	values := []int64{10, 30, 20, 30}
	payments := make([]*channel.Payment, len(values))
	for i, v := range values {
		payments[i] = NewRandomPayment(rng, ch, v)
		require.NoError(t, s.Save(ctx, tokenFor(i), payments[i]))
	}

	max, err := s.FirstMaximum(ctx, ch.ID)
	require.NoError(t, err)
	require.Equal(t, "30", max.Value.String())
	require.Equal(t, payments[1].Signature, max.Signature)

	byToken, err := s.FindByToken(ctx, tokenFor(2))
	require.NoError(t, err)
	require.Equal(t, payments[2].Signature, byToken.Signature)
	require.Equal(t, tokenFor(2), byToken.Token)
	require.True(t, payments[2].CreatedAt.Equal(byToken.CreatedAt))

	all, err := s.FindByChannel(ctx, ch.ID)
	require.NoError(t, err)
	require.Len(t, all, len(values))
	for i, p := range all {
		require.Equal(t, values[i], p.Value.Int64())
	}
}

// TokenStore tests a TokenStore that starts empty.
func TokenStore(t *testing.T, rng *rand.Rand, s storage.TokenStore) {
	ctx := context.Background()
	id := chtest.NewRandomID(rng)
	token := common.BytesToHash(id[:]).Hex()

	present, err := s.IsPresent(ctx, token)
	require.NoError(t, err)
	require.False(t, present)

	require.NoError(t, s.Save(ctx, token, id))
	present, err = s.IsPresent(ctx, token)
	require.NoError(t, err)
	require.True(t, present)
}

// RequireEqualChannel compares channels field by field, amounts by value.
func RequireEqualChannel(t *testing.T, want, got *channel.PaymentChannel) {
	t.Helper()
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, want.Sender, got.Sender)
	require.Equal(t, want.Receiver, got.Receiver)
	require.Equal(t, want.State, got.State)
	require.Equal(t, want.TokenContract, got.TokenContract)
	for _, amounts := range [][2]*big.Int{
		{want.Value, got.Value},
		{want.Spent, got.Spent},
		{want.SettlementPeriod, got.SettlementPeriod},
		{want.SettlingUntil, got.SettlingUntil},
	} {
		require.Zero(t, amounts[0].Cmp(amounts[1]), "want %v, got %v", amounts[0], amounts[1])
	}
}

func tokenFor(i int) string {
	return "token-" + string(rune('a'+i))
}
