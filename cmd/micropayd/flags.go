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
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"perun.network/micropay-backend/config"
)

const envPrefix = "MICROPAY_"

func env(name string) []string {
	return []string{envPrefix + name}
}

func globalFlags() []cli.Flag {
	def := config.Default()
	return []cli.Flag{
		&cli.StringFlag{Name: "key-file", Usage: "hex encoded secp256k1 private key", EnvVars: env("KEY_FILE")},
		&cli.StringFlag{Name: "data-dir", Value: def.DataDir, EnvVars: env("DATA_DIR")},
		&cli.StringFlag{Name: "store", Value: def.Store, Usage: "bolt or mysql", EnvVars: env("STORE")},
		&cli.StringFlag{Name: "mysql-dsn", Usage: "root:123456@tcp(127.0.0.1:3306)/micropay?parseTime=true", EnvVars: env("MYSQL_DSN")},
		&cli.StringFlag{Name: "redis", Usage: "shared token store, e.g. 127.0.0.1:6379", EnvVars: env("REDIS_ADDR")},
		&cli.DurationFlag{Name: "token-ttl", Value: def.TokenTTL, EnvVars: env("TOKEN_TTL")},
		&cli.StringFlag{Name: "rpc", Value: def.RPCURL, EnvVars: env("RPC_URL")},
		&cli.Int64Flag{Name: "chain-id", Value: def.ChainID, EnvVars: env("CHAIN_ID")},
		&cli.StringFlag{Name: "escrow", Usage: "native unidirectional escrow address", EnvVars: env("ESCROW")},
		&cli.StringFlag{Name: "token-escrow", Usage: "token unidirectional escrow address", EnvVars: env("TOKEN_ESCROW")},
		&cli.Uint64Flag{Name: "confirmations", Value: def.Confirmations, EnvVars: env("CONFIRMATIONS")},
		&cli.DurationFlag{Name: "confirmation-timeout", Value: def.ConfirmationTimeout, EnvVars: env("CONFIRMATION_TIMEOUT")},
		&cli.DurationFlag{Name: "block-time", Value: def.BlockTime, EnvVars: env("BLOCK_TIME")},
		&cli.Uint64Flag{Name: "settlement-period", Usage: "blocks, derived from block time if 0", EnvVars: env("SETTLEMENT_PERIOD")},
		&cli.Uint64Flag{Name: "min-settlement-period", Usage: "blocks, derived from block time if 0", EnvVars: env("MIN_SETTLEMENT_PERIOD")},
		&cli.BoolFlag{Name: "close-on-invalid-payment", EnvVars: env("CLOSE_ON_INVALID_PAYMENT")},
		&cli.StringFlag{Name: "log-level", Value: def.LogLevel, EnvVars: env("LOG_LEVEL")},
	}
}

func configFromFlags(cctx *cli.Context) (config.Config, error) {
	cfg := config.Config{
		KeyFile:               cctx.String("key-file"),
		DataDir:               cctx.String("data-dir"),
		Store:                 cctx.String("store"),
		MySQLDSN:              cctx.String("mysql-dsn"),
		RedisAddr:             cctx.String("redis"),
		TokenTTL:              cctx.Duration("token-ttl"),
		RPCURL:                cctx.String("rpc"),
		ChainID:               cctx.Int64("chain-id"),
		Confirmations:         cctx.Uint64("confirmations"),
		ConfirmationTimeout:   cctx.Duration("confirmation-timeout"),
		BlockTime:             cctx.Duration("block-time"),
		SettlementPeriod:      cctx.Uint64("settlement-period"),
		MinSettlementPeriod:   cctx.Uint64("min-settlement-period"),
		CloseOnInvalidPayment: cctx.Bool("close-on-invalid-payment"),
		LogLevel:              cctx.String("log-level"),
	}
	var err error
	if cfg.NativeEscrow, err = parseAddress(cctx.String("escrow")); err != nil {
		return cfg, errors.WithMessage(err, "escrow")
	}
	if cfg.TokenEscrow, err = parseAddress(cctx.String("token-escrow")); err != nil {
		return cfg, errors.WithMessage(err, "token escrow")
	}
	return cfg, nil
}

func parseAddress(s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
