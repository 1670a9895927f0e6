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

// Package config holds the settings of a micropayment node.
package config

import (
	"math/big"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	StoreBolt  = "bolt"
	StoreMySQL = "mysql"

	appName = "micropay"

	DefaultBlockTime        = 15 * time.Second
	DefaultSettlementWindow = 2 * 7 * 24 * time.Hour
	// DefaultMinSettlementWindow is the shortest window a receiver accepts
	// between startSettling and settle on a sender's channel.
	DefaultMinSettlementWindow = 2 * 24 * time.Hour
	DefaultConfirmations       = 1
	DefaultConfirmationTimeout = 5 * time.Minute
	DefaultTokenTTL            = 24 * time.Hour
)

var (
	ErrInvalidStore  = errors.New("unknown store backend")
	ErrMissingOption = errors.New("missing option")
)

// Config collects everything needed to run a node.
type Config struct {
	KeyFile string
	DataDir string

	Store    string
	MySQLDSN string
	// RedisAddr, if set, moves payment tokens to a shared Redis.
	RedisAddr string
	TokenTTL  time.Duration

	RPCURL        string
	ChainID       int64
	NativeEscrow  common.Address
	TokenEscrow   common.Address
	Confirmations uint64
	// ConfirmationTimeout bounds one transaction from send to confirmation.
	ConfirmationTimeout time.Duration
	BlockTime           time.Duration

	// SettlementPeriod and MinSettlementPeriod are in blocks. A zero value
	// is derived from the durations above and BlockTime.
	SettlementPeriod    uint64
	MinSettlementPeriod uint64

	CloseOnInvalidPayment bool
	LogLevel              string
}

// Default returns a Config with every optional field set.
func Default() Config {
	return Config{
		DataDir:             DefaultDataDir(runtime.GOOS, os.Getenv("HOME"), os.Getenv("APPDATA")),
		Store:               StoreBolt,
		TokenTTL:            DefaultTokenTTL,
		RPCURL:              "http://localhost:8545",
		ChainID:             1337,
		Confirmations:       DefaultConfirmations,
		ConfirmationTimeout: DefaultConfirmationTimeout,
		BlockTime:           DefaultBlockTime,
		LogLevel:            logrus.InfoLevel.String(),
	}
}

// DefaultDataDir returns the per-user data directory for goos. It reads no
// environment itself.
func DefaultDataDir(goos, home, appData string) string {
	switch goos {
	case "windows":
		if appData != "" {
			return filepath.Join(appData, appName)
		}
		return filepath.Join(home, "AppData", "Roaming", appName)
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, "."+appName)
	}
}

// BoltPath is the location of the embedded database.
func (c Config) BoltPath() string {
	return filepath.Join(c.DataDir, "channels.db")
}

// Settlement returns the settlement period for opened channels in blocks.
func (c Config) Settlement() *big.Int {
	if c.SettlementPeriod != 0 {
		return new(big.Int).SetUint64(c.SettlementPeriod)
	}
	return blocks(DefaultSettlementWindow, c.BlockTime)
}

// MinSettlement returns the minimum settlement period accepted from senders
// in blocks.
func (c Config) MinSettlement() *big.Int {
	if c.MinSettlementPeriod != 0 {
		return new(big.Int).SetUint64(c.MinSettlementPeriod)
	}
	return blocks(DefaultMinSettlementWindow, c.BlockTime)
}

func blocks(window, blockTime time.Duration) *big.Int {
	if blockTime <= 0 {
		blockTime = DefaultBlockTime
	}
	return big.NewInt(int64(window / blockTime))
}

// Level parses LogLevel.
func (c Config) Level() (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	return lvl, errors.Wrap(err, "parsing log level")
}

// Validate checks that c is complete and consistent.
func (c Config) Validate() error {
	switch c.Store {
	case StoreBolt:
		if c.DataDir == "" {
			return errors.Wrap(ErrMissingOption, "data dir")
		}
	case StoreMySQL:
		if c.MySQLDSN == "" {
			return errors.Wrap(ErrMissingOption, "mysql dsn")
		}
	default:
		return errors.Wrap(ErrInvalidStore, c.Store)
	}
	if c.KeyFile == "" {
		return errors.Wrap(ErrMissingOption, "key file")
	}
	if c.RPCURL == "" {
		return errors.Wrap(ErrMissingOption, "rpc url")
	}
	if c.NativeEscrow == (common.Address{}) {
		return errors.Wrap(ErrMissingOption, "native escrow address")
	}
	if c.ChainID <= 0 {
		return errors.Errorf("invalid chain id %d", c.ChainID)
	}
	if c.BlockTime <= 0 {
		return errors.Errorf("invalid block time %v", c.BlockTime)
	}
	if c.Settlement().Cmp(c.MinSettlement()) < 0 {
		return errors.Errorf("settlement period %v below minimum %v", c.Settlement(), c.MinSettlement())
	}
	_, err := c.Level()
	return err
}
