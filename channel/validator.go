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
	"fmt"
	"math/big"

	"perun.network/go-perun/log"
)

// Check names one payment validation rule.
type Check int

const (
	CheckChannelValue Check = iota
	CheckChannelID
	CheckValueWithinEscrow
	CheckSender
	CheckNonNegative
	CheckCanClaim
	CheckSettlementPeriod
)

func (c Check) String() string {
	switch c {
	case CheckChannelValue:
		return "channel value"
	case CheckChannelID:
		return "channel id"
	case CheckValueWithinEscrow:
		return "value within escrow"
	case CheckSender:
		return "sender"
	case CheckNonNegative:
		return "non-negative amounts"
	case CheckCanClaim:
		return "can claim"
	case CheckSettlementPeriod:
		return "settlement period"
	default:
		return fmt.Sprintf("Check(%d)", int(c))
	}
}

// Validator decides whether a received payment may be accepted.
type Validator struct {
	contracts           *Selector
	minSettlementPeriod *big.Int
	log                 log.Embedding
}

// NewValidator returns a Validator requiring channels to have at least
// minSettlementPeriod blocks between start settling and settle.
func NewValidator(contracts *Selector, minSettlementPeriod *big.Int) *Validator {
	return &Validator{
		contracts:           contracts,
		minSettlementPeriod: cloneInt(minSettlementPeriod),
		log:                 log.MakeEmbedding(log.Default()),
	}
}

// IsValid reports whether p passes every check against local.
func (v *Validator) IsValid(ctx context.Context, p *Payment, local *PaymentChannel) bool {
	return len(v.Validate(ctx, p, local)) == 0
}

// Validate runs all checks and returns the failed ones. Checks do not short
// circuit so that every failure is logged.
func (v *Validator) Validate(ctx context.Context, p *Payment, local *PaymentChannel) []Check {
	results := map[Check]bool{
		CheckChannelValue:      cloneInt(local.Value).Cmp(cloneInt(p.ChannelValue)) == 0,
		CheckChannelID:         local.ID == p.ChannelID,
		CheckValueWithinEscrow: cloneInt(p.Value).Cmp(cloneInt(p.ChannelValue)) <= 0,
		CheckSender:            local.Sender == p.Sender,
		CheckNonNegative:       p.Value != nil && p.Price != nil && p.Value.Sign() >= 0 && p.Price.Sign() >= 0,
	}
	results[CheckCanClaim], results[CheckSettlementPeriod] = v.onChainChecks(ctx, p)

	var failed []Check
	for c := CheckChannelValue; c <= CheckSettlementPeriod; c++ {
		if results[c] {
			continue
		}
		failed = append(failed, c)
		v.log.Log().WithFields(log.Fields{
			"channel": p.ChannelID,
			"check":   c.String(),
		}).Warn("Payment check failed")
	}
	return failed
}

func (v *Validator) onChainChecks(ctx context.Context, p *Payment) (canClaim, settlementPeriod bool) {
	contract, err := v.contracts.For(p.TokenContract)
	if err != nil {
		v.log.Log().WithError(err).Warn("No contract for payment")
		return false, false
	}
	if p.Value != nil {
		canClaim = contract.CanClaim(ctx, p.ChannelID, p.Value, p.Receiver, p.Signature)
	}

	onChain, err := contract.Channel(ctx, p.ChannelID)
	if err != nil {
		v.log.Log().WithError(err).Warn("Reading settlement period")
		return canClaim, false
	}
	if onChain == nil {
		return canClaim, false
	}
	return canClaim, cloneInt(onChain.SettlementPeriod).Cmp(v.minSettlementPeriod) >= 0
}
