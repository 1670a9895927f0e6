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

// Package bolt is the embedded bbolt implementation of the storage
// contracts. It is the default store of micropayd.
package bolt

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
	"perun.network/go-perun/log"

	"perun.network/micropay-backend/storage"
)

const (
	dbFilePermission = 0o600
	openTimeout      = time.Second
)

var (
	metaBucket         = []byte("meta")
	channelBucket      = []byte("channels")
	paymentBucket      = []byte("payments")
	paymentTokenBucket = []byte("payment-tokens")
	tokenBucket        = []byte("tokens")

	versionKey = []byte("version")

	byteOrder = binary.BigEndian
)

// DB is a bbolt backed storage.Store.
type DB struct {
	db  *bbolt.DB
	log log.Embedding
}

var _ storage.Store = (*DB)(nil)

// Open opens or creates the database file at path. A new file is created at
// the latest schema version; an existing one keeps its version until Sync.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "creating data dir")
	}
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	bdb, err := bbolt.Open(path, dbFilePermission, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	d := &DB{
		db:  bdb,
		log: log.MakeEmbedding(log.WithField("db", path)),
	}
	if fresh {
		if err := d.initialize(); err != nil {
			bdb.Close()
			return nil, err
		}
	}
	return d, nil
}

func (d *DB) initialize() error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{metaBucket, channelBucket, paymentBucket, paymentTokenBucket, tokenBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return errors.Wrapf(err, "creating bucket %s", b)
			}
		}
		return putVersion(tx, latestVersion(dbVersions))
	})
}

// Close closes the database file.
func (d *DB) Close() error {
	return d.db.Close()
}

// Channels returns the channel table.
func (d *DB) Channels() storage.ChannelStore {
	return &channelStore{db: d.db}
}

// Payments returns the payment table.
func (d *DB) Payments() storage.PaymentStore {
	return &paymentStore{db: d.db}
}

// Tokens returns the token table.
func (d *DB) Tokens() storage.TokenStore {
	return &tokenStore{db: d.db}
}

// Migrator returns d, which migrates itself.
func (d *DB) Migrator() storage.Migrator {
	return d
}

// Version returns the schema version stored in the file.
func (d *DB) Version(context.Context) (uint32, error) {
	var v uint32
	err := d.db.View(func(tx *bbolt.Tx) error {
		var err error
		v, err = getVersion(tx)
		return err
	})
	return v, err
}

// IsLatest reports whether no migration is pending.
func (d *DB) IsLatest(ctx context.Context) (bool, error) {
	v, err := d.Version(ctx)
	if err != nil {
		return false, err
	}
	return v == latestVersion(dbVersions), nil
}

// Sync applies all pending migrations in a single transaction.
func (d *DB) Sync(ctx context.Context) error {
	return d.syncVersions(dbVersions)
}

func (d *DB) syncVersions(versions []version) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		current, err := getVersion(tx)
		if err != nil {
			return err
		}
		latest := latestVersion(versions)
		if current == latest {
			return nil
		}
		for _, v := range versions {
			if v.number <= current || v.migration == nil {
				continue
			}
			d.log.Log().WithField("version", v.number).Info("Applying migration")
			if err := v.migration(tx); err != nil {
				return errors.WithMessagef(err, "migration to version %d", v.number)
			}
		}
		return putVersion(tx, latest)
	})
}

func getVersion(tx *bbolt.Tx) (uint32, error) {
	meta := tx.Bucket(metaBucket)
	if meta == nil {
		return 0, errors.New("meta bucket missing")
	}
	raw := meta.Get(versionKey)
	if raw == nil {
		return 0, nil
	}
	if len(raw) != 4 {
		return 0, errors.Errorf("malformed version of %d bytes", len(raw))
	}
	return byteOrder.Uint32(raw), nil
}

func putVersion(tx *bbolt.Tx, v uint32) error {
	var raw [4]byte
	byteOrder.PutUint32(raw[:], v)
	return tx.Bucket(metaBucket).Put(versionKey, raw[:])
}
