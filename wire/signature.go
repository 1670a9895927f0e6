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
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

const (
	// SignatureLength is the length of the compact r || s || v form.
	SignatureLength = crypto.SignatureLength
	// recoveryOffset is added to the recovery id to obtain the Ethereum v value.
	recoveryOffset = 27
)

var ErrInvalidSignature = errors.New("invalid signature")

// Signature is a secp256k1 signature in compact form r || s || v, with v in
// {27, 28} as expected by the on-chain ecrecover.
type Signature [SignatureLength]byte

// SignatureFromParts assembles a signature from its v, r and s parts.
func SignatureFromParts(v uint8, r, s common.Hash) (Signature, error) {
	if v < recoveryOffset {
		v += recoveryOffset
	}
	if v != recoveryOffset && v != recoveryOffset+1 {
		return Signature{}, errors.Wrapf(ErrInvalidSignature, "v must be 27 or 28, got %d", v)
	}
	var sig Signature
	copy(sig[:32], r[:])
	copy(sig[32:64], s[:])
	sig[64] = v
	return sig, nil
}

// SignatureFromBytes decodes the compact form. A v value of 0 or 1 is
// normalized to 27 or 28.
func SignatureFromBytes(b []byte) (Signature, error) {
	if len(b) != SignatureLength {
		return Signature{}, errors.Wrapf(ErrInvalidSignature, "expected %d bytes, got %d", SignatureLength, len(b))
	}
	return SignatureFromParts(b[64], common.BytesToHash(b[:32]), common.BytesToHash(b[32:64]))
}

// ParseSignature decodes a 0x-prefixed hex signature.
func ParseSignature(s string) (Signature, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Signature{}, errors.WithMessage(ErrInvalidSignature, err.Error())
	}
	return SignatureFromBytes(b)
}

// Parts splits the signature into v, r and s.
func (s Signature) Parts() (v uint8, r, sPart common.Hash) {
	return s[64], common.BytesToHash(s[:32]), common.BytesToHash(s[32:64])
}

// V returns the Ethereum recovery value (27 or 28).
func (s Signature) V() uint8 { return s[64] }

// R returns the r part.
func (s Signature) R() common.Hash { return common.BytesToHash(s[:32]) }

// S returns the s part.
func (s Signature) S() common.Hash { return common.BytesToHash(s[32:64]) }

// Bytes returns the compact form handed to the contract.
func (s Signature) Bytes() []byte {
	b := make([]byte, SignatureLength)
	copy(b, s[:])
	return b
}

// IsZero reports whether the signature is unset.
func (s Signature) IsZero() bool {
	return s == Signature{}
}

func (s Signature) String() string {
	return hexutil.Encode(s[:])
}

// MarshalText implements encoding.TextMarshaler.
func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Signature) UnmarshalText(text []byte) error {
	sig, err := ParseSignature(string(text))
	if err != nil {
		return err
	}
	*s = sig
	return nil
}

// recoverable returns the signature in the form crypto.SigToPub expects,
// with the recovery id in {0, 1}.
func (s Signature) recoverable() []byte {
	b := s.Bytes()
	b[64] -= recoveryOffset
	return b
}
