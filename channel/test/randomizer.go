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

package test

import (
	"math/big"
	"math/rand"

	"github.com/ethereum/go-ethereum/common"

	"perun.network/micropay-backend/channel"
)

// NewRandomID draws a channel id from rng.
func NewRandomID(rng *rand.Rand) channel.ID {
	id, err := channel.RandomID(rng)
	if err != nil {
		panic(err)
	}
	return id
}

// NewRandomToken draws a token contract address from rng.
func NewRandomToken(rng *rand.Rand) common.Address {
	var addr common.Address
	rng.Read(addr[:])
	return addr
}

// NewRandomAmount draws an amount in [1, max].
func NewRandomAmount(rng *rand.Rand, max int64) *big.Int {
	return big.NewInt(rng.Int63n(max) + 1)
}

// NewRandomChannel draws an open native channel between sender and receiver
// holding value of which spent is used.
func NewRandomChannel(rng *rand.Rand, sender, receiver common.Address, value, spent *big.Int) *channel.PaymentChannel {
	return &channel.PaymentChannel{
		ID:               NewRandomID(rng),
		Sender:           sender,
		Receiver:         receiver,
		Value:            new(big.Int).Set(value),
		Spent:            new(big.Int).Set(spent),
		State:            channel.Open,
		SettlementPeriod: big.NewInt(DefaultSettlementPeriod),
		SettlingUntil:    new(big.Int),
	}
}
