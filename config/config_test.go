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

package config_test

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"perun.network/micropay-backend/config"
)

func validConfig() config.Config {
	cfg := config.Default()
	cfg.DataDir = "/tmp/micropay"
	cfg.KeyFile = "/tmp/micropay/key"
	cfg.NativeEscrow = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	return cfg
}

func TestDefaultDataDir(t *testing.T) {
	require.Equal(t, filepath.Join("/home/u", ".micropay"), config.DefaultDataDir("linux", "/home/u", ""))
	require.Equal(t, filepath.Join("/Users/u", "Library", "Application Support", "micropay"), config.DefaultDataDir("darwin", "/Users/u", ""))
	require.Equal(t, filepath.Join(`C:\AppData`, "micropay"), config.DefaultDataDir("windows", `C:\Users\u`, `C:\AppData`))
	require.Equal(t, filepath.Join(`C:\Users\u`, "AppData", "Roaming", "micropay"), config.DefaultDataDir("windows", `C:\Users\u`, ""))
}

func TestSettlementPeriods(t *testing.T) {
	cfg := validConfig()
	cfg.BlockTime = 15 * time.Second
	require.Zero(t, cfg.Settlement().Cmp(big.NewInt(80640)))
	require.Zero(t, cfg.MinSettlement().Cmp(big.NewInt(11520)))

	cfg.SettlementPeriod, cfg.MinSettlementPeriod = 100, 50
	require.Zero(t, cfg.Settlement().Cmp(big.NewInt(100)))
	require.Zero(t, cfg.MinSettlement().Cmp(big.NewInt(50)))
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*config.Config)
		target error
	}{
		{"unknown store", func(c *config.Config) { c.Store = "leveldb" }, config.ErrInvalidStore},
		{"mysql without dsn", func(c *config.Config) { c.Store = config.StoreMySQL }, config.ErrMissingOption},
		{"no key file", func(c *config.Config) { c.KeyFile = "" }, config.ErrMissingOption},
		{"no escrow", func(c *config.Config) { c.NativeEscrow = common.Address{} }, config.ErrMissingOption},
		{"no rpc", func(c *config.Config) { c.RPCURL = "" }, config.ErrMissingOption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			require.True(t, errors.Is(cfg.Validate(), tt.target))
		})
	}

	cfg := validConfig()
	cfg.SettlementPeriod, cfg.MinSettlementPeriod = 10, 20
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.LogLevel = "loud"
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.LogLevel = "debug"
	lvl, err := cfg.Level()
	require.NoError(t, err)
	require.Equal(t, logrus.DebugLevel, lvl)
}
