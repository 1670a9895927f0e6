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

// Package redis provides a token store shared by several paywall servers.
package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"perun.network/micropay-backend/channel"
	"perun.network/micropay-backend/storage"
)

const tokenKey = "token"

// BuildTokenKey returns the key under which token is stored.
func BuildTokenKey(token string) string {
	return tokenKey + "_" + token
}

// TokenStore keeps tokens as plain keys holding the channel id.
type TokenStore struct {
	rds *redis.Client
	// ttl bounds how long an issued token proves acceptance. Zero keeps
	// tokens forever.
	ttl time.Duration
}

var _ storage.TokenStore = (*TokenStore)(nil)

// NewTokenStore wraps an existing client.
func NewTokenStore(rds *redis.Client, ttl time.Duration) *TokenStore {
	return &TokenStore{rds: rds, ttl: ttl}
}

// Dial connects to the Redis server at addr and checks it is reachable.
func Dial(ctx context.Context, addr string, ttl time.Duration) (*TokenStore, error) {
	rds := redis.NewClient(&redis.Options{Addr: addr})
	if err := rds.Ping(ctx).Err(); err != nil {
		rds.Close()
		return nil, errors.Wrapf(err, "connecting to redis at %s", addr)
	}
	return NewTokenStore(rds, ttl), nil
}

func (s *TokenStore) Save(ctx context.Context, token string, id channel.ID) error {
	return errors.WithMessage(s.rds.Set(ctx, BuildTokenKey(token), id.String(), s.ttl).Err(), "saving token")
}

func (s *TokenStore) IsPresent(ctx context.Context, token string) (bool, error) {
	n, err := s.rds.Exists(ctx, BuildTokenKey(token)).Result()
	if err != nil {
		return false, errors.WithMessage(err, "looking up token")
	}
	return n > 0, nil
}

// Close closes the client.
func (s *TokenStore) Close() error {
	return s.rds.Close()
}
