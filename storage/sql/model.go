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

// Package sql is the gorm implementation of the storage contracts for
// deployments sharing one MySQL database between several paywall servers.
package sql

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"perun.network/micropay-backend/channel"
)

// Channel is the channel table row.
type Channel struct {
	ChannelID        string          `gorm:"primaryKey;type:varchar(66)"`
	Sender           string          `gorm:"index;type:varchar(42)"`
	Receiver         string          `gorm:"index;type:varchar(42)"`
	Value            decimal.Decimal `gorm:"type:DECIMAL(65,0)"`
	Spent            decimal.Decimal `gorm:"type:DECIMAL(65,0)"`
	State            int             `gorm:"index"`
	TokenContract    string          `gorm:"type:varchar(42)"`
	SettlementPeriod decimal.Decimal `gorm:"type:DECIMAL(65,0)"`
	SettlingUntil    decimal.Decimal `gorm:"type:DECIMAL(65,0)"`
}

func (Channel) TableName() string {
	return "channel"
}

// Payment is the payment table row.
type Payment struct {
	ID            uint64          `gorm:"primaryKey;autoIncrement:true"`
	ChannelID     string          `gorm:"index;type:varchar(66)"`
	Token         string          `gorm:"index:idx_payment_token;type:varchar(255)"`
	Sender        string          `gorm:"type:varchar(42)"`
	Receiver      string          `gorm:"type:varchar(42)"`
	Price         decimal.Decimal `gorm:"type:DECIMAL(65,0)"`
	Value         decimal.Decimal `gorm:"index;type:DECIMAL(65,0)"`
	ChannelValue  decimal.Decimal `gorm:"type:DECIMAL(65,0)"`
	V             uint8
	R             string    `gorm:"type:varchar(66)"`
	S             string    `gorm:"type:varchar(66)"`
	Meta          string    `gorm:"type:text"`
	TokenContract string    `gorm:"type:varchar(42)"`
	CreatedAt     time.Time `gorm:"type:datetime(3);autoCreateTime:false"`
}

func (Payment) TableName() string {
	return "payment"
}

// Token is the token table row.
type Token struct {
	Token     string `gorm:"primaryKey;type:varchar(255)"`
	ChannelID string `gorm:"index;type:varchar(66)"`
}

func (Token) TableName() string {
	return "token"
}

// SchemaVersion holds the single row recording the applied schema version.
type SchemaVersion struct {
	ID      uint `gorm:"primaryKey"`
	Version uint32
}

func (SchemaVersion) TableName() string {
	return "schema_version"
}

// amountDigits is the widest DECIMAL MySQL can store.
const amountDigits = 65

var (
	ErrAmountTooLarge = errors.New("amount exceeds 65 decimal digits")

	maxAmount = new(big.Int).Sub(new(big.Int).Exp(big.NewInt(10), big.NewInt(amountDigits), nil), big.NewInt(1))
)

// checkAmounts fails if any amount does not fit an amount column.
func checkAmounts(xs ...*big.Int) error {
	for _, x := range xs {
		if x != nil && x.CmpAbs(maxAmount) > 0 {
			return errors.Wrapf(ErrAmountTooLarge, "%v", x)
		}
	}
	return nil
}

func toDecimal(x *big.Int) decimal.Decimal {
	if x == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(x, 0)
}

func toChannelRow(ch *channel.PaymentChannel) *Channel {
	return &Channel{
		ChannelID:        ch.ID.String(),
		Sender:           ch.Sender.Hex(),
		Receiver:         ch.Receiver.Hex(),
		Value:            toDecimal(ch.Value),
		Spent:            toDecimal(ch.Spent),
		State:            int(ch.State),
		TokenContract:    ch.TokenContract.Hex(),
		SettlementPeriod: toDecimal(ch.SettlementPeriod),
		SettlingUntil:    toDecimal(ch.SettlingUntil),
	}
}

func (c *Channel) toChannel() (*channel.PaymentChannel, error) {
	id, err := channel.ParseID(c.ChannelID)
	if err != nil {
		return nil, err
	}
	return &channel.PaymentChannel{
		ID:               id,
		Sender:           common.HexToAddress(c.Sender),
		Receiver:         common.HexToAddress(c.Receiver),
		Value:            c.Value.BigInt(),
		Spent:            c.Spent.BigInt(),
		State:            channel.State(c.State),
		TokenContract:    common.HexToAddress(c.TokenContract),
		SettlementPeriod: c.SettlementPeriod.BigInt(),
		SettlingUntil:    c.SettlingUntil.BigInt(),
	}, nil
}

func toPaymentRow(token string, p *channel.Payment) *Payment {
	v, r, s := p.Signature.Parts()
	return &Payment{
		ChannelID:     p.ChannelID.String(),
		Token:         token,
		Sender:        p.Sender.Hex(),
		Receiver:      p.Receiver.Hex(),
		Price:         toDecimal(p.Price),
		Value:         toDecimal(p.Value),
		ChannelValue:  toDecimal(p.ChannelValue),
		V:             v,
		R:             r.Hex(),
		S:             s.Hex(),
		Meta:          p.Meta,
		TokenContract: p.TokenContract.Hex(),
		CreatedAt:     p.CreatedAt.UTC(),
	}
}

func (r *Payment) toPayment() (*channel.Payment, error) {
	id, err := channel.ParseID(r.ChannelID)
	if err != nil {
		return nil, err
	}
	sig, err := wireSignature(r.V, r.R, r.S)
	if err != nil {
		return nil, err
	}
	return &channel.Payment{
		ChannelID:     id,
		Sender:        common.HexToAddress(r.Sender),
		Receiver:      common.HexToAddress(r.Receiver),
		Price:         r.Price.BigInt(),
		Value:         r.Value.BigInt(),
		ChannelValue:  r.ChannelValue.BigInt(),
		Signature:     sig,
		Meta:          r.Meta,
		Token:         r.Token,
		TokenContract: common.HexToAddress(r.TokenContract),
		CreatedAt:     r.CreatedAt.UTC(),
	}, nil
}
