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

package sql_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	pkgtest "polycry.pt/poly-go/test"

	"perun.network/micropay-backend/storage/sql"
	stest "perun.network/micropay-backend/storage/test"
)

// dsnEnv names the variable holding the DSN of a disposable MySQL database.
const dsnEnv = "MICROPAY_TEST_MYSQL_DSN"

func newTestDB(t *testing.T) *sql.DB {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}
	db, err := sql.Open(dsn)
	require.NoError(t, err)
	require.NoError(t, sql.DropAll(db))
	require.NoError(t, db.Sync(context.Background()))
	t.Cleanup(func() {
		require.NoError(t, sql.DropAll(db))
		db.Close()
	})
	return db
}

func TestMigrator(t *testing.T) {
	db := newTestDB(t)
	latest, err := db.IsLatest(context.Background())
	require.NoError(t, err)
	require.True(t, latest)
	require.NoError(t, db.Sync(context.Background()))
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
