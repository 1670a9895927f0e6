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

package wallet

import (
	"crypto/ecdsa"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"perun.network/micropay-backend/wire"
)

// Account is a secp256k1 key able to sign payment digests.
type Account struct {
	// privateKey is the private key of the account.
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewAccount wraps an existing private key.
func NewAccount(key *ecdsa.PrivateKey) *Account {
	return &Account{privateKey: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// NewRandomAccount draws a fresh key from rng.
func NewRandomAccount(rng io.Reader) (*Account, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rng)
	if err != nil {
		return nil, errors.Wrap(err, "generating key")
	}
	return NewAccount(key), nil
}

// LoadAccount reads a hex encoded private key from file.
func LoadAccount(file string) (*Account, error) {
	key, err := crypto.LoadECDSA(file)
	if err != nil {
		return nil, errors.Wrapf(err, "loading key from %s", file)
	}
	return NewAccount(key), nil
}

// Address returns the account's on-chain address.
func (a *Account) Address() common.Address {
	return a.address
}

// PrivateKey exposes the key for transaction signing.
func (a *Account) PrivateKey() *ecdsa.PrivateKey {
	return a.privateKey
}

// SignDigest signs the personal-sign hash of digest, the form the escrow
// contract recovers payment signatures from.
func (a *Account) SignDigest(digest common.Hash) (wire.Signature, error) {
	raw, err := crypto.Sign(wire.SigningHash(digest).Bytes(), a.privateKey)
	if err != nil {
		return wire.Signature{}, errors.Wrap(err, "signing digest")
	}
	return wire.SignatureFromBytes(raw)
}
