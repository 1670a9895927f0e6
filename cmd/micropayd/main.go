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
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"perun.network/go-perun/log"
	plogrus "perun.network/go-perun/log/logrus"
)

func main() {
	app := &cli.App{
		Name:   "micropayd",
		Usage:  "Operate unidirectional micropayment channels",
		Flags:  globalFlags(),
		Before: setupLogging,
		Commands: []*cli.Command{
			cmdMigrate,
			cmdChannels,
			cmdShow,
			cmdOpen,
			cmdDeposit,
			cmdClose,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setupLogging(cctx *cli.Context) error {
	cfg, err := configFromFlags(cctx)
	if err != nil {
		return err
	}
	lvl, err := cfg.Level()
	if err != nil {
		return err
	}
	plogrus.Set(lvl, &logrus.TextFormatter{FullTimestamp: true})
	return nil
}
