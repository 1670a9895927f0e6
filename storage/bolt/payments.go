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

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"perun.network/micropay-backend/channel"
	"perun.network/micropay-backend/storage"
)

const seqLen = 8

// paymentStore keeps one nested bucket per channel, keyed by insertion
// sequence. Payments are stored in their wire format.
type paymentStore struct {
	db *bbolt.DB
}

func (s *paymentStore) Save(_ context.Context, token string, p *channel.Payment) error {
	rec := p.Clone()
	rec.Token = token
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encoding payment")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(paymentBucket).CreateBucketIfNotExists(p.ChannelID[:])
		if err != nil {
			return err
		}
		n, err := b.NextSequence()
		if err != nil {
			return err
		}
		seq := make([]byte, seqLen)
		byteOrder.PutUint64(seq, n)
		if err := b.Put(seq, raw); err != nil {
			return err
		}
		if token == "" {
			return nil
		}
		index, err := tx.CreateBucketIfNotExists(paymentTokenBucket)
		if err != nil {
			return err
		}
		ref := make([]byte, 0, channel.IDLen+seqLen)
		ref = append(ref, p.ChannelID[:]...)
		return index.Put([]byte(token), append(ref, seq...))
	})
}

func (s *paymentStore) FirstMaximum(_ context.Context, id channel.ID) (*channel.Payment, error) {
	var max *channel.Payment
	err := s.forEach(id, func(p *channel.Payment) {
		if max == nil || p.Value.Cmp(max.Value) > 0 {
			max = p
		}
	})
	if err != nil {
		return nil, err
	}
	if max == nil {
		return nil, errors.Wrapf(storage.ErrNotFound, "payment on channel %v", id)
	}
	return max, nil
}

func (s *paymentStore) FindByToken(_ context.Context, token string) (*channel.Payment, error) {
	var p *channel.Payment
	err := s.db.View(func(tx *bbolt.Tx) error {
		index := tx.Bucket(paymentTokenBucket)
		if index == nil {
			return errors.New("payment token index missing, migration pending")
		}
		ref := index.Get([]byte(token))
		if len(ref) != channel.IDLen+seqLen {
			return errors.Wrapf(storage.ErrNotFound, "payment for token %q", token)
		}
		b := tx.Bucket(paymentBucket).Bucket(ref[:channel.IDLen])
		if b == nil {
			return errors.Wrapf(storage.ErrNotFound, "payment for token %q", token)
		}
		raw := b.Get(ref[channel.IDLen:])
		if raw == nil {
			return errors.Wrapf(storage.ErrNotFound, "payment for token %q", token)
		}
		p = new(channel.Payment)
		return errors.Wrap(json.Unmarshal(raw, p), "decoding payment")
	})
	return p, err
}

func (s *paymentStore) FindByChannel(_ context.Context, id channel.ID) ([]*channel.Payment, error) {
	var ps []*channel.Payment
	err := s.forEach(id, func(p *channel.Payment) { ps = append(ps, p) })
	return ps, err
}

func (s *paymentStore) forEach(id channel.ID, fn func(p *channel.Payment)) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(paymentBucket).Bucket(id[:])
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, raw []byte) error {
			p := new(channel.Payment)
			if err := json.Unmarshal(raw, p); err != nil {
				return errors.Wrap(err, "decoding payment")
			}
			fn(p)
			return nil
		})
	})
}

type tokenStore struct {
	db *bbolt.DB
}

func (s *tokenStore) Save(_ context.Context, token string, id channel.ID) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(tokenBucket).Put([]byte(token), id[:])
	})
}

func (s *tokenStore) IsPresent(_ context.Context, token string) (bool, error) {
	var present bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		present = tx.Bucket(tokenBucket).Get([]byte(token)) != nil
		return nil
	})
	return present, err
}
