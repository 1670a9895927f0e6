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

package sql

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"perun.network/go-perun/log"

	"perun.network/micropay-backend/storage"
	"perun.network/micropay-backend/wire"
)

// DB is a gorm backed storage.Store.
type DB struct {
	db  *gorm.DB
	log log.Embedding
}

var _ storage.Store = (*DB)(nil)

// Open connects to the MySQL database at dsn. The schema is not touched
// until Sync.
func Open(dsn string) (*DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "connecting to mysql")
	}
	return New(db), nil
}

// New wraps an existing gorm connection.
func New(db *gorm.DB) *DB {
	return &DB{db: db, log: log.MakeEmbedding(log.WithField("store", "mysql"))}
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *DB) Channels() storage.ChannelStore { return &channelStore{db: d.db} }
func (d *DB) Payments() storage.PaymentStore { return &paymentStore{db: d.db} }
func (d *DB) Tokens() storage.TokenStore     { return &tokenStore{db: d.db} }
func (d *DB) Migrator() storage.Migrator     { return d }

type migration func(tx *gorm.DB) error

type version struct {
	number    uint32
	migration migration
}

var dbVersions = []version{
	{number: 0, migration: createTables},
	{number: 1, migration: addPaymentTokenIndex},
}

func createTables(tx *gorm.DB) error {
	return tx.AutoMigrate(&Channel{}, &Payment{}, &Token{})
}

func addPaymentTokenIndex(tx *gorm.DB) error {
	if tx.Migrator().HasIndex(&Payment{}, "idx_payment_token") {
		return nil
	}
	return tx.Migrator().CreateIndex(&Payment{}, "idx_payment_token")
}

// version returns the applied schema version, -1 for an empty database.
func (d *DB) version(ctx context.Context) (int64, error) {
	db := d.db.WithContext(ctx)
	if !db.Migrator().HasTable(&SchemaVersion{}) {
		return -1, nil
	}
	var row SchemaVersion
	err := db.Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return -1, nil
	}
	return int64(row.Version), err
}

// IsLatest reports whether no migration is pending.
func (d *DB) IsLatest(ctx context.Context) (bool, error) {
	v, err := d.version(ctx)
	if err != nil {
		return false, err
	}
	return v == int64(dbVersions[len(dbVersions)-1].number), nil
}

// Sync applies pending migrations. MySQL commits DDL implicitly, so every
// migration records its version on its own.
func (d *DB) Sync(ctx context.Context) error {
	current, err := d.version(ctx)
	if err != nil {
		return err
	}
	db := d.db.WithContext(ctx)
	if err := db.AutoMigrate(&SchemaVersion{}); err != nil {
		return errors.Wrap(err, "creating schema_version")
	}
	for _, v := range dbVersions {
		if int64(v.number) <= current {
			continue
		}
		d.log.Log().WithField("version", v.number).Info("Applying migration")
		if err := v.migration(db); err != nil {
			return errors.WithMessagef(err, "migration to version %d", v.number)
		}
		if err := db.Save(&SchemaVersion{ID: 1, Version: v.number}).Error; err != nil {
			return errors.Wrap(err, "recording schema version")
		}
	}
	return nil
}

func wireSignature(v uint8, r, s string) (wire.Signature, error) {
	return wire.SignatureFromParts(v, common.HexToHash(r), common.HexToHash(s))
}

func notFound(err error, what string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrapf(storage.ErrNotFound, what, args...)
	}
	return err
}

// DropAll removes every table of the store. It is meant for tests against a
// disposable database.
func DropAll(d *DB) error {
	return d.db.Migrator().DropTable(&Channel{}, &Payment{}, &Token{}, &SchemaVersion{})
}
