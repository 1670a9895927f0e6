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

package client

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// The ABIs below cover the subset of the escrow contracts the adapter calls.

const unidirectionalABI = `[
{"type":"function","name":"open","stateMutability":"payable","inputs":[{"name":"channelId","type":"bytes32"},{"name":"receiver","type":"address"},{"name":"settlingPeriod","type":"uint256"}],"outputs":[]},
{"type":"function","name":"deposit","stateMutability":"payable","inputs":[{"name":"channelId","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"claim","stateMutability":"nonpayable","inputs":[{"name":"channelId","type":"bytes32"},{"name":"payment","type":"uint256"},{"name":"signature","type":"bytes"}],"outputs":[]},
{"type":"function","name":"startSettling","stateMutability":"nonpayable","inputs":[{"name":"channelId","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"settle","stateMutability":"nonpayable","inputs":[{"name":"channelId","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"channels","stateMutability":"view","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"sender","type":"address"},{"name":"receiver","type":"address"},{"name":"value","type":"uint256"},{"name":"settlingPeriod","type":"uint256"},{"name":"settlingUntil","type":"uint256"}]},
{"type":"function","name":"isPresent","stateMutability":"view","inputs":[{"name":"channelId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"isOpen","stateMutability":"view","inputs":[{"name":"channelId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"isSettling","stateMutability":"view","inputs":[{"name":"channelId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"isAbsent","stateMutability":"view","inputs":[{"name":"channelId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"paymentDigest","stateMutability":"view","inputs":[{"name":"channelId","type":"bytes32"},{"name":"payment","type":"uint256"}],"outputs":[{"name":"","type":"bytes32"}]},
{"type":"function","name":"canClaim","stateMutability":"view","inputs":[{"name":"channelId","type":"bytes32"},{"name":"payment","type":"uint256"},{"name":"origin","type":"address"},{"name":"signature","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]}
]`

const tokenUnidirectionalABI = `[
{"type":"function","name":"open","stateMutability":"nonpayable","inputs":[{"name":"channelId","type":"bytes32"},{"name":"receiver","type":"address"},{"name":"settlingPeriod","type":"uint256"},{"name":"tokenContract","type":"address"},{"name":"value","type":"uint256"}],"outputs":[]},
{"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"channelId","type":"bytes32"},{"name":"value","type":"uint256"}],"outputs":[]},
{"type":"function","name":"claim","stateMutability":"nonpayable","inputs":[{"name":"channelId","type":"bytes32"},{"name":"payment","type":"uint256"},{"name":"signature","type":"bytes"}],"outputs":[]},
{"type":"function","name":"startSettling","stateMutability":"nonpayable","inputs":[{"name":"channelId","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"settle","stateMutability":"nonpayable","inputs":[{"name":"channelId","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"channels","stateMutability":"view","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"sender","type":"address"},{"name":"receiver","type":"address"},{"name":"value","type":"uint256"},{"name":"settlingPeriod","type":"uint256"},{"name":"settlingUntil","type":"uint256"},{"name":"tokenContract","type":"address"}]},
{"type":"function","name":"isPresent","stateMutability":"view","inputs":[{"name":"channelId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"isOpen","stateMutability":"view","inputs":[{"name":"channelId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"isSettling","stateMutability":"view","inputs":[{"name":"channelId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"isAbsent","stateMutability":"view","inputs":[{"name":"channelId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"paymentDigest","stateMutability":"view","inputs":[{"name":"channelId","type":"bytes32"},{"name":"payment","type":"uint256"},{"name":"tokenContract","type":"address"}],"outputs":[{"name":"","type":"bytes32"}]},
{"type":"function","name":"canClaim","stateMutability":"view","inputs":[{"name":"channelId","type":"bytes32"},{"name":"payment","type":"uint256"},{"name":"origin","type":"address"},{"name":"signature","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]}
]`

const erc20ABI = `[
{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	UnidirectionalABI      = mustParseABI(unidirectionalABI)
	TokenUnidirectionalABI = mustParseABI(tokenUnidirectionalABI)
	ERC20ABI               = mustParseABI(erc20ABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
