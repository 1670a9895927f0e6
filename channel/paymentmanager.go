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
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"

	"perun.network/micropay-backend/wire"
)

// Signer signs payment digests on behalf of a channel's sender.
type Signer interface {
	Address() common.Address
	SignDigest(digest common.Hash) (wire.Signature, error)
}

// PaymentManager builds signed payments.
type PaymentManager struct {
	contracts *Selector
	signer    Signer
	clock     clock.Clock
}

// NewPaymentManager returns a PaymentManager signing with signer.
func NewPaymentManager(contracts *Selector, signer Signer, clk clock.Clock) *PaymentManager {
	return &PaymentManager{
		contracts: contracts,
		signer:    signer,
		clock:     clk,
	}
}

// BuildPaymentForChannel signs a claim of value on ch, price being the
// increment over the previous claim. It does not touch any store.
func (m *PaymentManager) BuildPaymentForChannel(ctx context.Context, ch *PaymentChannel, price, value *big.Int, meta string) (*Payment, error) {
	contract, err := m.contracts.For(ch.TokenContract)
	if err != nil {
		return nil, err
	}
	digest, err := contract.PaymentDigest(ctx, ch.ID, value)
	if err != nil {
		return nil, errors.WithMessage(err, "computing payment digest")
	}
	sig, err := m.signer.SignDigest(digest)
	if err != nil {
		return nil, errors.WithMessage(err, "signing payment")
	}
	return &Payment{
		ChannelID:     ch.ID,
		Sender:        ch.Sender,
		Receiver:      ch.Receiver,
		Price:         cloneInt(price),
		Value:         cloneInt(value),
		ChannelValue:  cloneInt(ch.Value),
		Signature:     sig,
		Meta:          meta,
		TokenContract: ch.TokenContract,
		CreatedAt:     m.clock.Now(),
	}, nil
}
