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

package client_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"perun.network/micropay-backend/client"
)

func TestABIs(t *testing.T) {
	for _, m := range []string{"open", "deposit", "claim", "startSettling", "settle", "channels", "isOpen", "isSettling", "isAbsent", "paymentDigest", "canClaim"} {
		require.Contains(t, client.UnidirectionalABI.Methods, m)
		require.Contains(t, client.TokenUnidirectionalABI.Methods, m)
	}
	require.Len(t, client.UnidirectionalABI.Methods["open"].Inputs, 3)
	require.Len(t, client.TokenUnidirectionalABI.Methods["open"].Inputs, 5)
	require.Len(t, client.UnidirectionalABI.Methods["paymentDigest"].Inputs, 2)
	require.Len(t, client.TokenUnidirectionalABI.Methods["paymentDigest"].Inputs, 3)
	require.Len(t, client.TokenUnidirectionalABI.Methods["channels"].Outputs, 6)
	require.Contains(t, client.ERC20ABI.Methods, "approve")
}
