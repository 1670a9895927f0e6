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

package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AssetKind tells which contract escrows a channel's funds.
type AssetKind int

const (
	// NativeKind channels escrow the chain's native coin.
	NativeKind AssetKind = iota
	// TokenKind channels escrow an ERC20 token.
	TokenKind
)

func (k AssetKind) String() string {
	switch k {
	case NativeKind:
		return "native"
	case TokenKind:
		return "token"
	default:
		return fmt.Sprintf("AssetKind(%d)", int(k))
	}
}

// Asset represents what a channel escrows. The zero value is the native asset.
type Asset struct {
	token common.Address
}

// NativeAsset returns the native asset.
func NativeAsset() Asset {
	return Asset{}
}

// AssetOf returns the asset escrowed under tokenContract. A zero address
// yields the native asset.
func AssetOf(tokenContract common.Address) Asset {
	return Asset{token: tokenContract}
}

// Kind returns whether the asset is native or a token.
func (a Asset) Kind() AssetKind {
	if a.token == (common.Address{}) {
		return NativeKind
	}
	return TokenKind
}

// IsNative reports whether the asset is the chain's native coin.
func (a Asset) IsNative() bool {
	return a.Kind() == NativeKind
}

// TokenContract returns the ERC20 contract address, zero for native assets.
func (a Asset) TokenContract() common.Address {
	return a.token
}

func (a Asset) String() string {
	if a.IsNative() {
		return NativeKind.String()
	}
	return a.token.Hex()
}
