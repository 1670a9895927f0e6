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

package sql

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"perun.network/micropay-backend/channel"
	"perun.network/micropay-backend/storage"
)

type channelStore struct {
	db *gorm.DB
}

func (s *channelStore) Save(ctx context.Context, ch *channel.PaymentChannel) error {
	if err := checkChannelAmounts(ch); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Channel{}).Where("channel_id = ?", ch.ID.String()).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return errors.Wrapf(storage.ErrExists, "channel %v", ch.ID)
		}
		return tx.Create(toChannelRow(ch)).Error
	})
}

func (s *channelStore) SaveOrUpdate(ctx context.Context, ch *channel.PaymentChannel) error {
	if err := checkChannelAmounts(ch); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "spent"}),
	}).Create(toChannelRow(ch)).Error
}

func (s *channelStore) FirstByID(ctx context.Context, id channel.ID) (*channel.PaymentChannel, error) {
	return s.first(ctx, "channel "+id.String(), "channel_id = ?", id.String())
}

func (s *channelStore) All(ctx context.Context) ([]*channel.PaymentChannel, error) {
	return s.find(ctx, s.db.WithContext(ctx))
}

func (s *channelStore) AllOpen(ctx context.Context) ([]*channel.PaymentChannel, error) {
	return s.find(ctx, s.db.WithContext(ctx).Where("state = ?", int(channel.Open)))
}

func (s *channelStore) AllSettling(ctx context.Context) ([]*channel.PaymentChannel, error) {
	return s.find(ctx, s.db.WithContext(ctx).Where("state = ?", int(channel.Settling)))
}

func (s *channelStore) FindUsable(ctx context.Context, sender, receiver common.Address, amount *big.Int, tokenContract common.Address) (*channel.PaymentChannel, error) {
	if checkAmounts(amount) != nil {
		return nil, errors.Wrap(storage.ErrNotFound, "usable channel")
	}
	return s.first(ctx, "usable channel",
		"sender = ? AND receiver = ? AND token_contract = ? AND state = ? AND value - spent >= ?",
		sender.Hex(), receiver.Hex(), tokenContract.Hex(), int(channel.Open), toDecimal(amount))
}

func (s *channelStore) FindBySenderReceiverChannelID(ctx context.Context, sender, receiver common.Address, id channel.ID) (*channel.PaymentChannel, error) {
	return s.first(ctx, "channel "+id.String(),
		"channel_id = ? AND sender = ? AND receiver = ?", id.String(), sender.Hex(), receiver.Hex())
}

func (s *channelStore) UpdateState(ctx context.Context, id channel.ID, state channel.State) error {
	return s.update(ctx, id, "state", int(state))
}

func (s *channelStore) UpdateSettlingUntil(ctx context.Context, id channel.ID, settlingUntil *big.Int) error {
	if err := checkAmounts(settlingUntil); err != nil {
		return err
	}
	return s.update(ctx, id, "settling_until", toDecimal(settlingUntil))
}

func (s *channelStore) Deposit(ctx context.Context, id channel.ID, value *big.Int) error {
	if err := checkAmounts(value); err != nil {
		return err
	}
	return s.update(ctx, id, "value", gorm.Expr("value + ?", toDecimal(value)))
}

// update sets one column. MySQL reports unchanged rows as unaffected, so a
// miss is confirmed with a count.
func (s *channelStore) update(ctx context.Context, id channel.ID, column string, value interface{}) error {
	db := s.db.WithContext(ctx)
	res := db.Model(&Channel{}).Where("channel_id = ?", id.String()).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := db.Model(&Channel{}).Where("channel_id = ?", id.String()).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(storage.ErrNotFound, "channel %v", id)
	}
	return nil
}

func (s *channelStore) first(ctx context.Context, what string, query string, args ...interface{}) (*channel.PaymentChannel, error) {
	var row Channel
	if err := s.db.WithContext(ctx).Where(query, args...).Order("channel_id").First(&row).Error; err != nil {
		return nil, notFound(err, "%s", what)
	}
	return row.toChannel()
}

func (s *channelStore) find(_ context.Context, q *gorm.DB) ([]*channel.PaymentChannel, error) {
	var rows []Channel
	if err := q.Order("channel_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	chs := make([]*channel.PaymentChannel, 0, len(rows))
	for i := range rows {
		ch, err := rows[i].toChannel()
		if err != nil {
			return nil, err
		}
		chs = append(chs, ch)
	}
	return chs, nil
}

func checkChannelAmounts(ch *channel.PaymentChannel) error {
	return checkAmounts(ch.Value, ch.Spent, ch.SettlementPeriod, ch.SettlingUntil)
}

type paymentStore struct {
	db *gorm.DB
}

func (s *paymentStore) Save(ctx context.Context, token string, p *channel.Payment) error {
	if err := checkAmounts(p.Price, p.Value, p.ChannelValue); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(toPaymentRow(token, p)).Error
}

func (s *paymentStore) FirstMaximum(ctx context.Context, id channel.ID) (*channel.Payment, error) {
	var row Payment
	err := s.db.WithContext(ctx).Where("channel_id = ?", id.String()).Order("value DESC").Order("id").First(&row).Error
	if err != nil {
		return nil, notFound(err, "payment on channel %v", id)
	}
	return row.toPayment()
}

func (s *paymentStore) FindByToken(ctx context.Context, token string) (*channel.Payment, error) {
	var row Payment
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(&row).Error; err != nil {
		return nil, notFound(err, "payment for token %q", token)
	}
	return row.toPayment()
}

func (s *paymentStore) FindByChannel(ctx context.Context, id channel.ID) ([]*channel.Payment, error) {
	var rows []Payment
	if err := s.db.WithContext(ctx).Where("channel_id = ?", id.String()).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	ps := make([]*channel.Payment, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toPayment()
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return ps, nil
}

type tokenStore struct {
	db *gorm.DB
}

func (s *tokenStore) Save(ctx context.Context, token string, id channel.ID) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Token{Token: token, ChannelID: id.String()}).Error
}

func (s *tokenStore) IsPresent(ctx context.Context, token string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Token{}).Where("token = ?", token).Count(&n).Error
	return n > 0, err
}
