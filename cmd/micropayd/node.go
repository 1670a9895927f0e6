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

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"

	"perun.network/micropay-backend/client"
	"perun.network/micropay-backend/config"
	"perun.network/micropay-backend/payment"
	"perun.network/micropay-backend/storage"
	"perun.network/micropay-backend/storage/bolt"
	redisstore "perun.network/micropay-backend/storage/redis"
	sqlstore "perun.network/micropay-backend/storage/sql"
	"perun.network/micropay-backend/wallet"
)

// openStore opens the configured store, with tokens moved to Redis if an
// address is set.
func openStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	var base storage.Store
	switch cfg.Store {
	case config.StoreBolt:
		db, err := bolt.Open(cfg.BoltPath())
		if err != nil {
			return nil, err
		}
		base = db
	case config.StoreMySQL:
		db, err := sqlstore.Open(cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		base = db
	default:
		return nil, errors.Wrap(config.ErrInvalidStore, cfg.Store)
	}

	if cfg.RedisAddr == "" {
		return base, nil
	}
	tokens, err := redisstore.Dial(ctx, cfg.RedisAddr, cfg.TokenTTL)
	if err != nil {
		base.Close()
		return nil, err
	}
	log.WithField("addr", cfg.RedisAddr).Info("Using shared token store")
	return storage.Compose(base, tokens, tokens), nil
}

// openClient connects to the chain and builds a payment client on top of
// the configured store.
func openClient(ctx context.Context, cfg config.Config) (*payment.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	account, err := wallet.LoadAccount(cfg.KeyFile)
	if err != nil {
		return nil, err
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", cfg.RPCURL)
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, errors.Wrap(err, "reading chain id")
	}
	if chainID.Cmp(big.NewInt(cfg.ChainID)) != 0 {
		eth.Close()
		return nil, errors.Errorf("connected to chain %v, configured %d", chainID, cfg.ChainID)
	}

	clk := clock.NewDefaultClock()
	tr := client.NewTransactor(eth, client.TransactorConfig{
		Key:           account.PrivateKey(),
		ChainID:       chainID,
		Confirmations: cfg.Confirmations,
		Timeout:       cfg.ConfirmationTimeout,
		Clock:         clk,
	})
	contracts := client.NewSelector(eth, tr, cfg.NativeEscrow, cfg.TokenEscrow)

	store, err := openStore(ctx, cfg)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c, err := payment.NewClient(ctx, account, contracts, storage.Compose(store, store.Tokens(), closerFunc(eth.Close)), clk, payment.Options{
		SettlementPeriod:      cfg.Settlement(),
		MinSettlementPeriod:   cfg.MinSettlement(),
		CloseOnInvalidPayment: cfg.CloseOnInvalidPayment,
	})
	if err != nil {
		store.Close()
		eth.Close()
		return nil, err
	}
	log.WithField("address", account.Address().Hex()).Info("Client ready")
	return c, nil
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
