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

package wire

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// PaymentDigest computes the digest the unidirectional contract signs off
// on: keccak256(contract || channelId || uint256(value)), with the token
// contract appended for token channels. It matches abi.encodePacked in the
// contract's paymentDigest view.
func PaymentDigest(contract common.Address, channelID [32]byte, value *big.Int, tokenContract common.Address) common.Hash {
	parts := [][]byte{
		contract.Bytes(),
		channelID[:],
		math.U256Bytes(new(big.Int).Set(value)),
	}
	if tokenContract != (common.Address{}) {
		parts = append(parts, tokenContract.Bytes())
	}
	return crypto.Keccak256Hash(parts...)
}

// SigningHash is the personal-sign hash of a payment digest, the value the
// contract hands to ecrecover.
func SigningHash(digest common.Hash) common.Hash {
	return common.BytesToHash(accounts.TextHash(digest.Bytes()))
}

// RecoverSigner returns the address that produced sig over digest.
func RecoverSigner(digest common.Hash, sig Signature) (common.Address, error) {
	pub, err := crypto.SigToPub(SigningHash(digest).Bytes(), sig.recoverable())
	if err != nil {
		return common.Address{}, errors.WithMessage(ErrInvalidSignature, err.Error())
	}
	return crypto.PubkeyToAddress(*pub), nil
}
