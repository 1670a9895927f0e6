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
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"perun.network/micropay-backend/channel/types"
)

// IDLen is the length of a channel identifier in bytes.
const IDLen = 32

// ID identifies a channel on-chain and off-chain.
type ID [IDLen]byte

// RandomID draws a fresh channel id from rng. A nil rng uses crypto/rand.
func RandomID(rng io.Reader) (ID, error) {
	if rng == nil {
		rng = rand.Reader
	}
	var id ID
	if _, err := io.ReadFull(rng, id[:]); err != nil {
		return ID{}, errors.Wrap(err, "drawing channel id")
	}
	return id, nil
}

// ParseID decodes the canonical text form, 0x followed by 64 hex digits.
func ParseID(s string) (ID, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return ID{}, errors.Errorf("channel id %q: missing 0x prefix", s)
	}
	b, err := hexutil.Decode(strings.ToLower(s))
	if err != nil {
		return ID{}, errors.Wrapf(err, "channel id %q", s)
	}
	if len(b) != IDLen {
		return ID{}, errors.Errorf("channel id %q: expected %d bytes, got %d", s, IDLen, len(b))
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

func (id ID) String() string {
	return hexutil.Encode(id[:])
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// State is the lifecycle phase of a channel.
type State int

const (
	// Impossible is reported while reconciling a channel the contract has no
	// consistent view of. It is never persisted.
	Impossible State = -1
	Open       State = 0
	Settling   State = 1
	Settled    State = 2
)

func (s State) String() string {
	switch s {
	case Impossible:
		return "impossible"
	case Open:
		return "open"
	case Settling:
		return "settling"
	case Settled:
		return "settled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// PaymentChannel is the merged local view of a unidirectional channel.
type PaymentChannel struct {
	ID       ID
	Sender   common.Address
	Receiver common.Address
	// Value is the total amount escrowed on-chain.
	Value *big.Int
	// Spent is the cumulative amount claimed off-chain so far.
	Spent            *big.Int
	State            State
	TokenContract    common.Address
	SettlementPeriod *big.Int
	// SettlingUntil is the block after which settle is callable, 0 while open.
	SettlingUntil *big.Int
}

// Asset returns what the channel escrows.
func (c *PaymentChannel) Asset() types.Asset {
	return types.AssetOf(c.TokenContract)
}

// Available returns the escrow not yet spent.
func (c *PaymentChannel) Available() *big.Int {
	return new(big.Int).Sub(c.Value, c.Spent)
}

// IsUsable reports whether the channel is open and can cover amount.
func (c *PaymentChannel) IsUsable(amount *big.Int) bool {
	return c.State == Open && c.Available().Cmp(amount) >= 0
}

// Clone returns a deep copy of c.
func (c *PaymentChannel) Clone() *PaymentChannel {
	clone := *c
	clone.Value = cloneInt(c.Value)
	clone.Spent = cloneInt(c.Spent)
	clone.SettlementPeriod = cloneInt(c.SettlementPeriod)
	clone.SettlingUntil = cloneInt(c.SettlingUntil)
	return &clone
}

// ChannelFromPayment builds the channel implied by a payment: the escrow is
// the payment's channel value and the spend is the payment's value.
func ChannelFromPayment(p *Payment) *PaymentChannel {
	return &PaymentChannel{
		ID:               p.ChannelID,
		Sender:           p.Sender,
		Receiver:         p.Receiver,
		Value:            cloneInt(p.ChannelValue),
		Spent:            cloneInt(p.Value),
		State:            Open,
		TokenContract:    p.TokenContract,
		SettlementPeriod: new(big.Int),
		SettlingUntil:    new(big.Int),
	}
}

func cloneInt(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}
