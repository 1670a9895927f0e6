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

package main

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"perun.network/micropay-backend/config"
)

func TestParseAmount(t *testing.T) {
	a, err := parseAmount("1000000")
	require.NoError(t, err)
	require.Zero(t, a.Cmp(big.NewInt(1_000_000)))

	a, err = parseAmount("1e18")
	require.NoError(t, err)
	require.Equal(t, "1000000000000000000", a.String())

	for _, bad := range []string{"", "abc", "1.5", "0", "-3"} {
		_, err := parseAmount(bad)
		require.Error(t, err, bad)
	}
}

func TestParseAddress(t *testing.T) {
	a, err := parseAddress("")
	require.NoError(t, err)
	require.Zero(t, a)

	_, err = parseAddress("0x1234")
	require.Error(t, err)

	a, err = parseAddress("0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	require.Equal(t, byte(0xaa), a[19])
}

func TestOpenBoltStore(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "nested")
	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	require.NoError(t, err)
	latest, err := store.Migrator().IsLatest(ctx)
	require.NoError(t, err)
	require.True(t, latest)
	require.NoError(t, store.Close())
	require.FileExists(t, cfg.BoltPath())
}
