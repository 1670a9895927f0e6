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

package bolt

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"perun.network/micropay-backend/channel"
	"perun.network/micropay-backend/storage"
)

// channelRecord is the stored form of a channel. Amounts are decimal strings.
type channelRecord struct {
	ID               channel.ID     `json:"id"`
	Sender           common.Address `json:"sender"`
	Receiver         common.Address `json:"receiver"`
	Value            string         `json:"value"`
	Spent            string         `json:"spent"`
	State            channel.State  `json:"state"`
	TokenContract    common.Address `json:"tokenContract"`
	SettlementPeriod string         `json:"settlementPeriod"`
	SettlingUntil    string         `json:"settlingUntil"`
}

func encodeChannel(ch *channel.PaymentChannel) ([]byte, error) {
	return json.Marshal(channelRecord{
		ID:               ch.ID,
		Sender:           ch.Sender,
		Receiver:         ch.Receiver,
		Value:            intString(ch.Value),
		Spent:            intString(ch.Spent),
		State:            ch.State,
		TokenContract:    ch.TokenContract,
		SettlementPeriod: intString(ch.SettlementPeriod),
		SettlingUntil:    intString(ch.SettlingUntil),
	})
}

func decodeChannel(raw []byte) (*channel.PaymentChannel, error) {
	var rec channelRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errors.Wrap(err, "decoding channel")
	}
	ch := &channel.PaymentChannel{
		ID:            rec.ID,
		Sender:        rec.Sender,
		Receiver:      rec.Receiver,
		State:         rec.State,
		TokenContract: rec.TokenContract,
	}
	var err error
	for _, f := range []struct {
		dst **big.Int
		src string
	}{
		{&ch.Value, rec.Value},
		{&ch.Spent, rec.Spent},
		{&ch.SettlementPeriod, rec.SettlementPeriod},
		{&ch.SettlingUntil, rec.SettlingUntil},
	} {
		if *f.dst, err = parseInt(f.src); err != nil {
			return nil, errors.WithMessagef(err, "channel %v", rec.ID)
		}
	}
	return ch, nil
}

func intString(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}

func parseInt(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	x, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.Errorf("invalid amount %q", s)
	}
	return x, nil
}

type channelStore struct {
	db *bbolt.DB
}

func (s *channelStore) Save(_ context.Context, ch *channel.PaymentChannel) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(channelBucket)
		if b.Get(ch.ID[:]) != nil {
			return errors.Wrapf(storage.ErrExists, "channel %v", ch.ID)
		}
		return putChannel(b, ch)
	})
}

func (s *channelStore) SaveOrUpdate(_ context.Context, ch *channel.PaymentChannel) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(channelBucket)
		raw := b.Get(ch.ID[:])
		if raw == nil {
			return putChannel(b, ch)
		}
		stored, err := decodeChannel(raw)
		if err != nil {
			return err
		}
		stored.Value = new(big.Int).Set(ch.Value)
		stored.Spent = new(big.Int).Set(ch.Spent)
		return putChannel(b, stored)
	})
}

func (s *channelStore) FirstByID(_ context.Context, id channel.ID) (*channel.PaymentChannel, error) {
	var ch *channel.PaymentChannel
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(channelBucket).Get(id[:])
		if raw == nil {
			return errors.Wrapf(storage.ErrNotFound, "channel %v", id)
		}
		var err error
		ch, err = decodeChannel(raw)
		return err
	})
	return ch, err
}

func (s *channelStore) All(context.Context) ([]*channel.PaymentChannel, error) {
	return s.filter(func(*channel.PaymentChannel) bool { return true })
}

func (s *channelStore) AllOpen(context.Context) ([]*channel.PaymentChannel, error) {
	return s.filter(func(ch *channel.PaymentChannel) bool { return ch.State == channel.Open })
}

func (s *channelStore) AllSettling(context.Context) ([]*channel.PaymentChannel, error) {
	return s.filter(func(ch *channel.PaymentChannel) bool { return ch.State == channel.Settling })
}

func (s *channelStore) FindUsable(_ context.Context, sender, receiver common.Address, amount *big.Int, tokenContract common.Address) (*channel.PaymentChannel, error) {
	chs, err := s.filter(func(ch *channel.PaymentChannel) bool {
		return ch.Sender == sender && ch.Receiver == receiver &&
			ch.TokenContract == tokenContract && ch.IsUsable(amount)
	})
	if err != nil {
		return nil, err
	}
	if len(chs) == 0 {
		return nil, errors.Wrap(storage.ErrNotFound, "usable channel")
	}
	return chs[0], nil
}

func (s *channelStore) FindBySenderReceiverChannelID(ctx context.Context, sender, receiver common.Address, id channel.ID) (*channel.PaymentChannel, error) {
	ch, err := s.FirstByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ch.Sender != sender || ch.Receiver != receiver {
		return nil, errors.Wrapf(storage.ErrNotFound, "channel %v between %v and %v", id, sender.Hex(), receiver.Hex())
	}
	return ch, nil
}

func (s *channelStore) UpdateState(_ context.Context, id channel.ID, state channel.State) error {
	return s.update(id, func(ch *channel.PaymentChannel) { ch.State = state })
}

func (s *channelStore) UpdateSettlingUntil(_ context.Context, id channel.ID, settlingUntil *big.Int) error {
	return s.update(id, func(ch *channel.PaymentChannel) { ch.SettlingUntil = new(big.Int).Set(settlingUntil) })
}

func (s *channelStore) Deposit(_ context.Context, id channel.ID, value *big.Int) error {
	return s.update(id, func(ch *channel.PaymentChannel) { ch.Value = new(big.Int).Add(ch.Value, value) })
}

func (s *channelStore) update(id channel.ID, mutate func(ch *channel.PaymentChannel)) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(channelBucket)
		raw := b.Get(id[:])
		if raw == nil {
			return errors.Wrapf(storage.ErrNotFound, "channel %v", id)
		}
		ch, err := decodeChannel(raw)
		if err != nil {
			return err
		}
		mutate(ch)
		return putChannel(b, ch)
	})
}

func (s *channelStore) filter(keep func(*channel.PaymentChannel) bool) ([]*channel.PaymentChannel, error) {
	var chs []*channel.PaymentChannel
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(channelBucket).ForEach(func(_, raw []byte) error {
			ch, err := decodeChannel(raw)
			if err != nil {
				return err
			}
			if keep(ch) {
				chs = append(chs, ch)
			}
			return nil
		})
	})
	return chs, err
}

func putChannel(b *bbolt.Bucket, ch *channel.PaymentChannel) error {
	raw, err := encodeChannel(ch)
	if err != nil {
		return err
	}
	return b.Put(ch.ID[:], raw)
}
