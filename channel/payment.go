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
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"perun.network/micropay-backend/wire"
)

// Payment is a signed claim on a channel's escrow.
type Payment struct {
	ChannelID ID
	Sender    common.Address
	Receiver  common.Address
	// Price is the increment this payment adds.
	Price *big.Int
	// Value is the new cumulative total.
	Value *big.Int
	// ChannelValue is the escrow total at signing time.
	ChannelValue  *big.Int
	Signature     wire.Signature
	Meta          string
	Token         string
	TokenContract common.Address
	CreatedAt     time.Time
}

// Clone returns a deep copy of p.
func (p *Payment) Clone() *Payment {
	clone := *p
	clone.Price = cloneInt(p.Price)
	clone.Value = cloneInt(p.Value)
	clone.ChannelValue = cloneInt(p.ChannelValue)
	return &clone
}

// jsonPayment is the wire form exchanged between sender and receiver.
type jsonPayment struct {
	ChannelID     ID              `json:"channelId"`
	Sender        common.Address  `json:"sender"`
	Receiver      common.Address  `json:"receiver"`
	Price         string          `json:"price"`
	Value         string          `json:"value"`
	ChannelValue  string          `json:"channelValue"`
	V             uint8           `json:"v"`
	R             string          `json:"r"`
	S             string          `json:"s"`
	Meta          string          `json:"meta"`
	Token         string          `json:"token,omitempty"`
	TokenContract *common.Address `json:"tokenContract,omitempty"`
	CreatedAt     int64           `json:"createdAt,omitempty"`
}

// MarshalJSON encodes the payment in its wire format.
func (p Payment) MarshalJSON() ([]byte, error) {
	v, r, s := p.Signature.Parts()
	jp := jsonPayment{
		ChannelID:    p.ChannelID,
		Sender:       p.Sender,
		Receiver:     p.Receiver,
		Price:        cloneInt(p.Price).String(),
		Value:        cloneInt(p.Value).String(),
		ChannelValue: cloneInt(p.ChannelValue).String(),
		V:            v,
		R:            r.Hex(),
		S:            s.Hex(),
		Meta:         p.Meta,
		Token:        p.Token,
	}
	if p.TokenContract != (common.Address{}) {
		token := p.TokenContract
		jp.TokenContract = &token
	}
	if !p.CreatedAt.IsZero() {
		jp.CreatedAt = p.CreatedAt.UnixMilli()
	}
	return json.Marshal(jp)
}

// UnmarshalJSON decodes the payment wire format.
func (p *Payment) UnmarshalJSON(data []byte) error {
	var jp jsonPayment
	if err := json.Unmarshal(data, &jp); err != nil {
		return err
	}

	amounts := make([]*big.Int, 3)
	for i, field := range []struct{ name, val string }{
		{"price", jp.Price}, {"value", jp.Value}, {"channelValue", jp.ChannelValue},
	} {
		x, ok := new(big.Int).SetString(field.val, 10)
		if !ok {
			return errors.Errorf("payment %s: invalid amount %q", field.name, field.val)
		}
		amounts[i] = x
	}

	r, err := hexutil.Decode(jp.R)
	if err != nil {
		return errors.Wrap(err, "payment r")
	}
	s, err := hexutil.Decode(jp.S)
	if err != nil {
		return errors.Wrap(err, "payment s")
	}
	sig, err := wire.SignatureFromParts(jp.V, common.BytesToHash(r), common.BytesToHash(s))
	if err != nil {
		return err
	}

	*p = Payment{
		ChannelID:    jp.ChannelID,
		Sender:       jp.Sender,
		Receiver:     jp.Receiver,
		Price:        amounts[0],
		Value:        amounts[1],
		ChannelValue: amounts[2],
		Signature:    sig,
		Meta:         jp.Meta,
		Token:        jp.Token,
	}
	if jp.TokenContract != nil {
		p.TokenContract = *jp.TokenContract
	}
	if jp.CreatedAt != 0 {
		p.CreatedAt = time.UnixMilli(jp.CreatedAt).UTC()
	}
	return nil
}
