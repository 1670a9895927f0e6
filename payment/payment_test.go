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

package payment_test

import (
	"context"
	"encoding/json"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"perun.network/micropay-backend/channel"
	chtest "perun.network/micropay-backend/channel/test"
	"perun.network/micropay-backend/event"
	"perun.network/micropay-backend/payment"
	"perun.network/micropay-backend/storage/bolt"
	"perun.network/micropay-backend/wallet"
	wtest "perun.network/micropay-backend/wallet/test"
	"perun.network/micropay-backend/wire"
)

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type setup struct {
	*chtest.Setup
	clock    *clock.TestClock
	sender   *payment.Client
	receiver *payment.Client
}

func newSetup(t *testing.T, closeOnInvalid bool) *setup {
	s := &setup{Setup: chtest.NewSetup(t), clock: clock.NewTestClock(testTime)}
	s.sender = s.newClient(t, s.Sender, false)
	s.receiver = s.newClient(t, s.Receiver, closeOnInvalid)
	return s
}

func (s *setup) newClient(t *testing.T, acc *wallet.Account, closeOnInvalid bool) *payment.Client {
	db, err := bolt.Open(filepath.Join(t.TempDir(), "micropay.db"))
	require.NoError(t, err)
	c, err := payment.NewClient(context.Background(), acc, s.Chain.Selector(acc.Address()), db, s.clock, payment.Options{
		SettlementPeriod:      big.NewInt(chtest.DefaultSettlementPeriod),
		MinSettlementPeriod:   big.NewInt(chtest.DefaultSettlementPeriod),
		CloseOnInvalidPayment: closeOnInvalid,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Shutdown() })
	return c
}

// transmit sends p through its wire format.
func transmit(t *testing.T, p *channel.Payment) *channel.Payment {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	var received channel.Payment
	require.NoError(t, json.Unmarshal(data, &received))
	return &received
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := newSetup(t, false)

	ch, err := s.sender.Open(ctx, s.Receiver.Address(), big.NewInt(100_000), payment.OpenOptions{})
	require.NoError(t, err)
	require.Equal(t, "1000000", ch.Value.String())
	require.Equal(t, channel.Open, ch.State)

	p, err := s.sender.Pay(ctx, s.Receiver.Address(), big.NewInt(200_000), "GET /article", payment.OpenOptions{})
	require.NoError(t, err)
	require.Equal(t, ch.ID, p.ChannelID)
	require.Equal(t, "200000", p.Value.String())
	require.NotEmpty(t, p.Token)
	require.Equal(t, 1, s.Chain.Calls(chtest.OpOpen))

	s.clock.SetTime(testTime.Add(time.Second))
	token, err := s.receiver.Accept(ctx, transmit(t, p))
	require.NoError(t, err)
	require.NotEqual(t, p.Token, token)
	ok, err := s.receiver.AcceptToken(ctx, token)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.receiver.AcceptToken(ctx, p.Token)
	require.NoError(t, err)
	require.False(t, ok)

	accepted, err := s.receiver.PaymentByToken(ctx, token)
	require.NoError(t, err)
	require.Equal(t, p.Signature, accepted.Signature)

	received, err := s.receiver.ChannelByID(ctx, ch.ID)
	require.NoError(t, err)
	require.Equal(t, "200000", received.Spent.String())

	receipt, err := s.receiver.Close(ctx, ch.ID)
	require.NoError(t, err)
	require.NotNil(t, receipt)

	for _, c := range []*payment.Client{s.receiver, s.sender} {
		closed, err := c.ChannelByID(ctx, ch.ID)
		require.NoError(t, err)
		require.Equal(t, channel.Settled, closed.State)
	}
	_, err = s.receiver.Close(ctx, ch.ID)
	require.ErrorIs(t, err, channel.ErrAlreadySettled)
}

func TestRequireOpenChannelReusesUsable(t *testing.T) {
	ctx := context.Background()
	s := newSetup(t, false)
	m := s.sender.Manager()

	var g errgroup.Group
	ids := make([]channel.ID, 8)
	for i := range ids {
		i := i
		g.Go(func() error {
			ch, err := m.RequireOpenChannel(ctx, s.Sender.Address(), s.Receiver.Address(), big.NewInt(10), payment.OpenOptions{})
			if err != nil {
				return err
			}
			ids[i] = ch.ID
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, 1, s.Chain.Calls(chtest.OpOpen))
	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}

	// A larger amount than available opens a second channel.
	ch, err := m.RequireOpenChannel(ctx, s.Sender.Address(), s.Receiver.Address(), big.NewInt(101), payment.OpenOptions{})
	require.NoError(t, err)
	require.NotEqual(t, ids[0], ch.ID)
	require.Equal(t, "1010", ch.Value.String())
}

func TestOpenChannel(t *testing.T) {
	ctx := context.Background()
	s := newSetup(t, false)
	m := s.sender.Manager()
	id := chtest.NewRandomID(s.Rng)

	ch, err := m.OpenChannel(ctx, s.Sender.Address(), s.Receiver.Address(), big.NewInt(5), payment.OpenOptions{
		MinDeposit: big.NewInt(500),
		ChannelID:  &id,
	})
	require.NoError(t, err)
	require.Equal(t, id, ch.ID)
	require.Equal(t, "500", ch.Value.String())

	_, err = m.OpenChannel(ctx, s.Receiver.Address(), s.Sender.Address(), big.NewInt(5), payment.OpenOptions{})
	require.ErrorIs(t, err, channel.ErrNotParticipant)

	token := chtest.NewRandomToken(s.Rng)
	tch, err := m.OpenChannel(ctx, s.Sender.Address(), s.Receiver.Address(), big.NewInt(5), payment.OpenOptions{TokenContract: token})
	require.NoError(t, err)
	require.Equal(t, token, tch.TokenContract)
	inflated, err := m.ChannelByID(ctx, tch.ID)
	require.NoError(t, err)
	require.Equal(t, channel.Open, inflated.State)
	require.Equal(t, token, inflated.TokenContract)
}

func TestOpenFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := newSetup(t, false)
	sub := s.sender.Subscribe()
	defer sub.Close()
	s.Chain.FailOn(chtest.OpOpen, context.DeadlineExceeded)

	_, err := s.sender.Open(ctx, s.Receiver.Address(), big.NewInt(10), payment.OpenOptions{})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	chs, err := s.sender.Channels(ctx)
	require.NoError(t, err)
	require.Empty(t, chs)

	nextCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	ev, ok := sub.Next(nextCtx)
	require.True(t, ok)
	require.Equal(t, event.WillOpenChannel, ev.Type)
	_, ok = sub.Next(nextCtx)
	require.False(t, ok)
}

func TestOverspend(t *testing.T) {
	ctx := context.Background()
	s := newSetup(t, false)
	m := s.sender.Manager()
	ch, err := s.sender.Open(ctx, s.Receiver.Address(), big.NewInt(10), payment.OpenOptions{})
	require.NoError(t, err)

	_, err = m.NextPayment(ctx, ch.ID, big.NewInt(101), "")
	require.ErrorIs(t, err, channel.ErrOverspend)

	_, err = m.PayChannel(ctx, ch.ID, big.NewInt(60), "")
	require.NoError(t, err)
	_, err = m.PayChannel(ctx, ch.ID, big.NewInt(41), "")
	require.ErrorIs(t, err, channel.ErrOverspend)
	p, err := m.PayChannel(ctx, ch.ID, big.NewInt(40), "")
	require.NoError(t, err)
	require.Equal(t, "100", p.Value.String())

	_, err = m.NextPayment(ctx, chtest.NewRandomID(s.Rng), big.NewInt(1), "")
	require.ErrorIs(t, err, channel.ErrChannelNotFound)
}

func TestSpendChannelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newSetup(t, false)
	m := s.sender.Manager()
	ch, err := s.sender.Open(ctx, s.Receiver.Address(), big.NewInt(10), payment.OpenOptions{})
	require.NoError(t, err)

	p, err := m.NextPayment(ctx, ch.ID, big.NewInt(7), "")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		token, err := m.SpendChannel(ctx, p, "fixed")
		require.NoError(t, err)
		require.Equal(t, "fixed", token)
	}
	token, err := m.SpendChannel(ctx, p, "")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	chs, err := s.sender.Channels(ctx)
	require.NoError(t, err)
	require.Len(t, chs, 1)
	require.Equal(t, "7", chs[0].Spent.String())
	require.Equal(t, channel.Open, chs[0].State)

	last, err := s.sender.LastPayment(ctx, ch.ID)
	require.NoError(t, err)
	require.Equal(t, "7", last.Value.String())
}

func TestSenderClosePath(t *testing.T) {
	ctx := context.Background()
	s := newSetup(t, false)
	sub := s.sender.Subscribe()
	defer sub.Close()
	ch, err := s.sender.Open(ctx, s.Receiver.Address(), big.NewInt(10), payment.OpenOptions{})
	require.NoError(t, err)

	receipt, err := s.sender.Close(ctx, ch.ID)
	require.NoError(t, err)
	settling, err := s.sender.ChannelByID(ctx, ch.ID)
	require.NoError(t, err)
	require.Equal(t, channel.Settling, settling.State)
	want := new(big.Int).Add(receipt.BlockNumber, big.NewInt(chtest.DefaultSettlementPeriod))
	require.Equal(t, want.String(), settling.SettlingUntil.String())
	stored, err := s.sender.SettlingChannels(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, want.String(), stored[0].SettlingUntil.String())

	// The contract refuses to settle early; the channel stays settling.
	_, err = s.sender.Close(ctx, ch.ID)
	require.ErrorIs(t, err, chtest.ErrCannotSettle)
	settling, err = s.sender.ChannelByID(ctx, ch.ID)
	require.NoError(t, err)
	require.Equal(t, channel.Settling, settling.State)

	s.Chain.Mine(chtest.DefaultSettlementPeriod)
	_, err = s.sender.Close(ctx, ch.ID)
	require.NoError(t, err)
	settled, err := s.sender.ChannelByID(ctx, ch.ID)
	require.NoError(t, err)
	require.Equal(t, channel.Settled, settled.State)

	_, err = s.sender.Close(ctx, ch.ID)
	require.ErrorIs(t, err, channel.ErrAlreadySettled)

	var types []event.Type
	nextCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	for {
		ev, ok := sub.Next(nextCtx)
		if !ok {
			break
		}
		types = append(types, ev.Type)
	}
	require.Equal(t, []event.Type{
		event.WillOpenChannel, event.DidOpenChannel,
		event.WillCloseChannel, event.DidCloseChannel,
		event.WillCloseChannel,
		event.WillCloseChannel, event.DidCloseChannel,
		event.WillCloseChannel,
	}, types)
}

func TestReceiverClaimsHighestPayment(t *testing.T) {
	ctx := context.Background()
	s := newSetup(t, false)
	ch, err := s.sender.Open(ctx, s.Receiver.Address(), big.NewInt(10), payment.OpenOptions{})
	require.NoError(t, err)

	_, err = s.receiver.Close(ctx, ch.ID)
	require.ErrorIs(t, err, channel.ErrNoPaymentToClaim)
	require.Zero(t, s.Chain.Calls(chtest.OpClaim))

	var payments []*channel.Payment
	for i := 0; i < 3; i++ {
		p, err := s.sender.Pay(ctx, s.Receiver.Address(), big.NewInt(10), "", payment.OpenOptions{})
		require.NoError(t, err)
		payments = append(payments, p)
	}
	// Accepted out of order; the highest is claimed regardless.
	for _, i := range []int{0, 2, 1} {
		_, err := s.receiver.Accept(ctx, transmit(t, payments[i]))
		require.NoError(t, err)
	}
	received, err := s.receiver.ChannelByID(ctx, ch.ID)
	require.NoError(t, err)
	require.Equal(t, "30", received.Spent.String())
	recorded, err := s.receiver.Payments(ctx, ch.ID)
	require.NoError(t, err)
	require.Len(t, recorded, 3)
	for k, i := range []int{0, 2, 1} {
		require.Equal(t, payments[i].Value.String(), recorded[k].Value.String())
	}

	_, err = s.receiver.Close(ctx, ch.ID)
	require.NoError(t, err)
	closed, err := s.receiver.ChannelByID(ctx, ch.ID)
	require.NoError(t, err)
	require.Equal(t, channel.Settled, closed.State)
}

func TestAcceptAfterDeposit(t *testing.T) {
	ctx := context.Background()
	s := newSetup(t, false)
	ch, err := s.sender.Open(ctx, s.Receiver.Address(), big.NewInt(10), payment.OpenOptions{})
	require.NoError(t, err)
	p, err := s.sender.Pay(ctx, s.Receiver.Address(), big.NewInt(10), "", payment.OpenOptions{})
	require.NoError(t, err)
	_, err = s.receiver.Accept(ctx, transmit(t, p))
	require.NoError(t, err)

	_, err = s.sender.Deposit(ctx, ch.ID, big.NewInt(50))
	require.NoError(t, err)
	deposited, err := s.sender.ChannelByID(ctx, ch.ID)
	require.NoError(t, err)
	require.Equal(t, "150", deposited.Value.String())

	p, err = s.sender.Manager().PayChannel(ctx, ch.ID, big.NewInt(130), "")
	require.NoError(t, err)
	require.Equal(t, "150", p.ChannelValue.String())
	_, err = s.receiver.Accept(ctx, transmit(t, p))
	require.NoError(t, err)

	_, err = s.sender.Deposit(ctx, chtest.NewRandomID(s.Rng), big.NewInt(1))
	require.ErrorIs(t, err, channel.ErrChannelNotFound)
}

func TestAcceptInvalidPayment(t *testing.T) {
	for _, closeOnInvalid := range []bool{false, true} {
		closeOnInvalid := closeOnInvalid
		name := map[bool]string{false: "keep open", true: "close"}[closeOnInvalid]
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newSetup(t, closeOnInvalid)
			ch, err := s.sender.Open(ctx, s.Receiver.Address(), big.NewInt(10), payment.OpenOptions{})
			require.NoError(t, err)
			p, err := s.sender.Pay(ctx, s.Receiver.Address(), big.NewInt(10), "", payment.OpenOptions{})
			require.NoError(t, err)
			_, err = s.receiver.Accept(ctx, transmit(t, p))
			require.NoError(t, err)

			forged := transmit(t, p)
			forged.Value = big.NewInt(90)
			_, err = s.receiver.Accept(ctx, forged)
			require.ErrorIs(t, err, channel.ErrPaymentNotValid)
			var invalid *channel.InvalidPaymentError
			require.ErrorAs(t, err, &invalid)
			require.Equal(t, []channel.Check{channel.CheckCanClaim}, invalid.Failed)

			stale := transmit(t, p)
			stale.ChannelValue = big.NewInt(1)
			_, err = s.receiver.Accept(ctx, stale)
			require.ErrorIs(t, err, channel.ErrPaymentNotValid)

			state := channel.Open
			claims := 0
			if closeOnInvalid {
				state, claims = channel.Settled, 1
			}
			require.Equal(t, claims, s.Chain.Calls(chtest.OpClaim))
			current, err := s.receiver.ChannelByID(ctx, ch.ID)
			require.NoError(t, err)
			require.Equal(t, state, current.State)
		})
	}
}

func TestAcceptUnknownChannel(t *testing.T) {
	ctx := context.Background()
	s := newSetup(t, true)
	ch, err := s.sender.Open(ctx, s.Receiver.Address(), big.NewInt(10), payment.OpenOptions{})
	require.NoError(t, err)
	p, err := s.sender.Pay(ctx, s.Receiver.Address(), big.NewInt(10), "", payment.OpenOptions{})
	require.NoError(t, err)

	unknown := transmit(t, p)
	unknown.ChannelID = chtest.NewRandomID(s.Rng)
	_, err = s.receiver.Accept(ctx, unknown)
	require.ErrorIs(t, err, channel.ErrPaymentNotValid)
	require.Zero(t, s.Chain.Calls(chtest.OpClaim))

	// The first payment on a channel creates the receiver's record.
	_, err = s.receiver.Accept(ctx, transmit(t, p))
	require.NoError(t, err)
	chs, err := s.receiver.OpenChannels(ctx)
	require.NoError(t, err)
	require.Len(t, chs, 1)
	require.Equal(t, ch.ID, chs[0].ID)
	require.Equal(t, "100", chs[0].Value.String())

	// Payments for someone else are refused before validation.
	_, err = s.sender.Accept(ctx, transmit(t, p))
	require.ErrorIs(t, err, channel.ErrChannelMismatch)
}

func TestAcceptIssuesFreshTokens(t *testing.T) {
	ctx := context.Background()
	s := newSetup(t, false)
	_, err := s.sender.Open(ctx, s.Receiver.Address(), big.NewInt(10), payment.OpenOptions{})
	require.NoError(t, err)
	p, err := s.sender.Pay(ctx, s.Receiver.Address(), big.NewInt(10), "", payment.OpenOptions{})
	require.NoError(t, err)

	first, err := s.receiver.Accept(ctx, transmit(t, p))
	require.NoError(t, err)
	s.clock.SetTime(testTime.Add(time.Second))
	second, err := s.receiver.Accept(ctx, transmit(t, p))
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	received, err := s.receiver.ChannelByID(ctx, p.ChannelID)
	require.NoError(t, err)
	require.Equal(t, "10", received.Spent.String())
}

func TestChannelByIDReconciles(t *testing.T) {
	ctx := context.Background()
	s := newSetup(t, false)
	ch := s.OpenChannel(t, 1000, common.Address{})

	tracked, err := s.receiver.ChannelByID(ctx, ch.ID)
	require.NoError(t, err)
	require.NotNil(t, tracked)
	require.Equal(t, channel.Open, tracked.State)
	require.Equal(t, "1000", tracked.Value.String())
	require.Equal(t, "0", tracked.Spent.String())
	chs, err := s.receiver.Channels(ctx)
	require.NoError(t, err)
	require.Len(t, chs, 1)

	missing, err := s.receiver.ChannelByID(ctx, chtest.NewRandomID(s.Rng))
	require.NoError(t, err)
	require.Nil(t, missing)

	outsider := s.newClient(t, wtest.NewRandomAccount(s.Rng), false)
	foreign, err := outsider.ChannelByID(ctx, ch.ID)
	require.NoError(t, err)
	require.Nil(t, foreign)

	_, err = outsider.Close(ctx, ch.ID)
	require.ErrorIs(t, err, channel.ErrChannelNotFound)
}

func TestChannelByIDKeepsSpentOfConcurrentAccept(t *testing.T) {
	ctx := context.Background()
	s := newSetup(t, false)
	ch := s.OpenChannel(t, 1000, common.Address{})
	pm := channel.NewPaymentManager(s.Chain.Selector(s.Sender.Address()), s.Sender, s.clock)
	p, err := pm.BuildPaymentForChannel(ctx, ch, big.NewInt(10), big.NewInt(10), "")
	require.NoError(t, err)

	entered, release := s.Chain.Hold(chtest.OpChannel)
	defer release()
	var g errgroup.Group
	var viewed *channel.PaymentChannel
	g.Go(func() error {
		var err error
		viewed, err = s.receiver.ChannelByID(ctx, ch.ID)
		return err
	})
	<-entered

	_, err = s.receiver.Accept(ctx, transmit(t, p))
	require.NoError(t, err)
	release()
	require.NoError(t, g.Wait())
	require.Equal(t, "10", viewed.Spent.String())

	stored, err := s.receiver.ChannelByID(ctx, ch.ID)
	require.NoError(t, err)
	require.Equal(t, "10", stored.Spent.String())
}

func TestPayForPaywall(t *testing.T) {
	ctx := context.Background()
	s := newSetup(t, false)
	h := &wire.PaywallHeaders{
		Version:  wire.ProtocolVersion,
		Price:    big.NewInt(25),
		Receiver: s.Receiver.Address(),
		Gateway:  "http://localhost/accept",
		Meta:     "article-1",
	}
	p, err := s.sender.PayForPaywall(ctx, h, big.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, "article-1", p.Meta)
	require.Equal(t, "1000", p.ChannelValue.String())

	token, err := s.receiver.Accept(ctx, transmit(t, p))
	require.NoError(t, err)
	ok, err := s.receiver.AcceptToken(ctx, token)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestManagerClosed(t *testing.T) {
	s := newSetup(t, false)
	m := s.sender.Manager()
	require.NoError(t, m.Close())
	_, err := m.OpenChannel(context.Background(), s.Sender.Address(), s.Receiver.Address(), big.NewInt(1), payment.OpenOptions{})
	require.ErrorIs(t, err, payment.ErrManagerClosed)
}
