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
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
	pkgtest "polycry.pt/poly-go/test"

	chtest "perun.network/micropay-backend/channel/test"
	"perun.network/micropay-backend/storage"
	stest "perun.network/micropay-backend/storage/test"
	wtest "perun.network/micropay-backend/wallet/test"
)

func newTestDB(t *testing.T) *DB {
	db, err := Open(filepath.Join(t.TempDir(), "micropay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestChannelStore(t *testing.T) {
	stest.ChannelStore(t, pkgtest.Prng(t), newTestDB(t).Channels())
}

func TestPaymentStore(t *testing.T) {
	stest.PaymentStore(t, pkgtest.Prng(t), newTestDB(t).Payments())
}

func TestTokenStore(t *testing.T) {
	stest.TokenStore(t, pkgtest.Prng(t), newTestDB(t).Tokens())
}

func TestFreshDBIsLatest(t *testing.T) {
	db := newTestDB(t)
	latest, err := db.IsLatest(context.Background())
	require.NoError(t, err)
	require.True(t, latest)
	require.NoError(t, db.Sync(context.Background()))
}

func TestReopenKeepsData(t *testing.T) {
	rng := pkgtest.Prng(t)
	path := filepath.Join(t.TempDir(), "micropay.db")
	db, err := Open(path)
	require.NoError(t, err)
	ch := chtest.NewRandomChannel(rng, wtest.NewRandomAddress(rng), wtest.NewRandomAddress(rng), big.NewInt(5), big.NewInt(1))
	require.NoError(t, db.Channels().Save(context.Background(), ch))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	stored, err := db.Channels().FirstByID(context.Background(), ch.ID)
	require.NoError(t, err)
	stest.RequireEqualChannel(t, ch, stored)
}

func TestMigrationAddsPaymentTokenIndex(t *testing.T) {
	ctx := context.Background()
	rng := pkgtest.Prng(t)
	db := newTestDB(t)

	ch := chtest.NewRandomChannel(rng, wtest.NewRandomAddress(rng), wtest.NewRandomAddress(rng), big.NewInt(100), big.NewInt(0))
	p := stest.NewRandomPayment(rng, ch, 42)
	require.NoError(t, db.Payments().Save(ctx, "tok", p))

	// Roll back to the base schema.
	require.NoError(t, db.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(paymentTokenBucket); err != nil {
			return err
		}
		return putVersion(tx, 0)
	}))
	latest, err := db.IsLatest(ctx)
	require.NoError(t, err)
	require.False(t, latest)
	_, err = db.Payments().FindByToken(ctx, "tok")
	require.Error(t, err)
	require.NotErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, db.Sync(ctx))
	latest, err = db.IsLatest(ctx)
	require.NoError(t, err)
	require.True(t, latest)

	found, err := db.Payments().FindByToken(ctx, "tok")
	require.NoError(t, err)
	require.Equal(t, int64(42), found.Value.Int64())
}
