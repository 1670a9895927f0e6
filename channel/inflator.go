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

package channel

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Inflator reconciles locally stored channels with the contract's view.
type Inflator struct {
	contracts *Selector
}

// NewInflator returns an Inflator reading through contracts.
func NewInflator(contracts *Selector) *Inflator {
	return &Inflator{contracts: contracts}
}

// Inflate merges stored with the on-chain record of the same channel. The
// contract is authoritative for value, settlement period, settling block and
// state; the stored record is authoritative for spent and the participants.
// It returns nil, nil if the contract does not know the channel.
func (i *Inflator) Inflate(ctx context.Context, stored *PaymentChannel) (*PaymentChannel, error) {
	contract, err := i.contracts.For(stored.TokenContract)
	if err != nil {
		return nil, err
	}

	var (
		state   State
		onChain *OnChain
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		state, err = contract.ChannelState(gctx, stored.ID)
		return errors.WithMessage(err, "reading channel state")
	})
	g.Go(func() error {
		var err error
		onChain, err = contract.Channel(gctx, stored.ID)
		return errors.WithMessage(err, "reading channel")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if onChain == nil {
		return nil, nil
	}

	if state == Impossible {
		state = Settled
	}
	inflated := stored.Clone()
	inflated.Value = cloneInt(onChain.Value)
	inflated.SettlementPeriod = cloneInt(onChain.SettlementPeriod)
	inflated.SettlingUntil = cloneInt(onChain.SettlingUntil)
	inflated.State = state
	return inflated, nil
}
