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
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"perun.network/go-perun/log"

	"perun.network/micropay-backend/channel"
	"perun.network/micropay-backend/payment"
)

var cmdMigrate = &cli.Command{
	Name:  "migrate",
	Usage: "Bring the store to the latest schema version",
	Action: func(cctx *cli.Context) error {
		cfg, err := configFromFlags(cctx)
		if err != nil {
			return err
		}
		store, err := openStore(cctx.Context, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		latest, err := store.Migrator().IsLatest(cctx.Context)
		if err != nil {
			return err
		}
		if latest {
			log.Info("Store is up to date")
			return nil
		}
		if err := store.Migrator().Sync(cctx.Context); err != nil {
			return err
		}
		log.Info("Store migrated")
		return nil
	},
}

var cmdChannels = &cli.Command{
	Name:  "channels",
	Usage: "List known channels",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "state", Usage: "all, open or settling", Value: "all"},
	},
	Action: withClient(func(cctx *cli.Context, c *payment.Client) error {
		var (
			chs []*channel.PaymentChannel
			err error
		)
		switch cctx.String("state") {
		case "all":
			chs, err = c.Channels(cctx.Context)
		case "open":
			chs, err = c.OpenChannels(cctx.Context)
		case "settling":
			chs, err = c.SettlingChannels(cctx.Context)
		default:
			return errors.Errorf("unknown state filter %q", cctx.String("state"))
		}
		if err != nil {
			return err
		}
		for _, ch := range chs {
			printChannel(cctx.App.Writer, ch)
		}
		return nil
	}),
}

var cmdShow = &cli.Command{
	Name:      "show",
	Usage:     "Show a channel reconciled with the chain",
	ArgsUsage: "<channel-id>",
	Action: withClient(func(cctx *cli.Context, c *payment.Client) error {
		id, err := channelArg(cctx)
		if err != nil {
			return err
		}
		ch, err := c.ChannelByID(cctx.Context, id)
		if err != nil {
			return err
		}
		if ch == nil {
			return errors.Wrap(channel.ErrChannelNotFound, id.String())
		}
		printChannel(cctx.App.Writer, ch)

		ps, err := c.Payments(cctx.Context, id)
		if err != nil {
			return err
		}
		for _, p := range ps {
			fmt.Fprintf(cctx.App.Writer, "  payment value=%v price=%v meta=%q at %s\n",
				p.Value, p.Price, p.Meta, p.CreatedAt.Format(time.RFC3339))
		}
		return nil
	}),
}

var cmdOpen = &cli.Command{
	Name:      "open",
	Usage:     "Open a channel to a receiver",
	ArgsUsage: "<receiver> <amount>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "token", Usage: "ERC20 contract, native currency if empty"},
	},
	Action: withClient(func(cctx *cli.Context, c *payment.Client) error {
		if cctx.NArg() != 2 {
			return errors.New("expected receiver and amount")
		}
		receiver, err := parseAddress(cctx.Args().Get(0))
		if err != nil {
			return err
		}
		amount, err := parseAmount(cctx.Args().Get(1))
		if err != nil {
			return err
		}
		token, err := parseAddress(cctx.String("token"))
		if err != nil {
			return err
		}
		ch, err := c.Open(cctx.Context, receiver, amount, payment.OpenOptions{TokenContract: token})
		if err != nil {
			return err
		}
		printChannel(cctx.App.Writer, ch)
		return nil
	}),
}

var cmdDeposit = &cli.Command{
	Name:      "deposit",
	Usage:     "Add funds to a channel",
	ArgsUsage: "<channel-id> <amount>",
	Action: withClient(func(cctx *cli.Context, c *payment.Client) error {
		id, err := channelArg(cctx)
		if err != nil {
			return err
		}
		amount, err := parseAmount(cctx.Args().Get(1))
		if err != nil {
			return err
		}
		r, err := c.Deposit(cctx.Context, id, amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "deposited in tx %s (block %v)\n", r.TxHash.Hex(), r.BlockNumber)
		return nil
	}),
}

var cmdClose = &cli.Command{
	Name:      "close",
	Usage:     "Start settling, settle or claim a channel depending on role and state",
	ArgsUsage: "<channel-id>",
	Action: withClient(func(cctx *cli.Context, c *payment.Client) error {
		id, err := channelArg(cctx)
		if err != nil {
			return err
		}
		r, err := c.Close(cctx.Context, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "closed in tx %s (block %v)\n", r.TxHash.Hex(), r.BlockNumber)
		return nil
	}),
}

func withClient(action func(*cli.Context, *payment.Client) error) cli.ActionFunc {
	return func(cctx *cli.Context) error {
		cfg, err := configFromFlags(cctx)
		if err != nil {
			return err
		}
		c, err := openClient(cctx.Context, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := c.Shutdown(); err != nil {
				log.WithError(err).Warn("Shutting down client")
			}
		}()
		return action(cctx, c)
	}
}

func channelArg(cctx *cli.Context) (channel.ID, error) {
	if cctx.NArg() < 1 {
		return channel.ID{}, errors.New("missing channel id")
	}
	return channel.ParseID(cctx.Args().First())
}

// parseAmount accepts integral base-unit amounts in decimal or exponent
// notation, e.g. 1e18.
func parseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing amount %q", s)
	}
	if !d.Equal(d.Truncate(0)) || d.Sign() <= 0 {
		return nil, errors.Errorf("amount must be a positive integer, got %s", s)
	}
	return d.BigInt(), nil
}

func printChannel(w io.Writer, ch *channel.PaymentChannel) {
	fmt.Fprintf(w, "%s\t%s\tsender=%s receiver=%s value=%v spent=%v settlingUntil=%v asset=%v\n",
		ch.ID, ch.State, ch.Sender.Hex(), ch.Receiver.Hex(), ch.Value, ch.Spent, ch.SettlingUntil, ch.Asset())
}
