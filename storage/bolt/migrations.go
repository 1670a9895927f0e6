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
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"perun.network/micropay-backend/channel"
)

type migration func(tx *bbolt.Tx) error

type version struct {
	number    uint32
	migration migration
}

// dbVersions lists every schema version. Migrations of all versions above
// the stored one are applied in order.
var dbVersions = []version{
	{
		// Channels, payments per channel and tokens.
		number:    0,
		migration: nil,
	},
	{
		// Index from token to payment for FindByToken.
		number:    1,
		migration: addPaymentTokenIndex,
	},
}

func latestVersion(versions []version) uint32 {
	return versions[len(versions)-1].number
}

func addPaymentTokenIndex(tx *bbolt.Tx) error {
	index, err := tx.CreateBucketIfNotExists(paymentTokenBucket)
	if err != nil {
		return err
	}
	payments := tx.Bucket(paymentBucket)
	if payments == nil {
		return errors.New("payments bucket missing")
	}
	return payments.ForEach(func(id, v []byte) error {
		// Only nested buckets live at the top level.
		if v != nil {
			return nil
		}
		return payments.Bucket(id).ForEach(func(seq, raw []byte) error {
			var p channel.Payment
			if err := json.Unmarshal(raw, &p); err != nil {
				return errors.WithMessagef(err, "decoding payment %x/%x", id, seq)
			}
			if p.Token == "" {
				return nil
			}
			return index.Put([]byte(p.Token), bytes.Join([][]byte{id, seq}, nil))
		})
	})
}
