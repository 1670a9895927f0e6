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

package channel_test

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"

	"perun.network/micropay-backend/channel"
	chtest "perun.network/micropay-backend/channel/test"
)

func TestPaymentWireFormat(t *testing.T) {
	s := chtest.NewSetup(t)
	token := chtest.NewRandomToken(s.Rng)
	ch := s.OpenChannel(t, 1000, token)
	pm := channel.NewPaymentManager(s.Chain.Selector(s.Sender.Address()), s.Sender, clock.NewTestClock(testTime))
	p, err := pm.BuildPaymentForChannel(context.Background(), ch, big.NewInt(7), big.NewInt(7), "GET /article")
	require.NoError(t, err)

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	require.Equal(t, ch.ID.String(), fields["channelId"])
	require.Equal(t, "7", fields["value"])
	require.Equal(t, "1000", fields["channelValue"])
	require.Contains(t, []interface{}{float64(27), float64(28)}, fields["v"])
	require.NotContains(t, fields, "token")
	require.Contains(t, fields, "tokenContract")

	var decoded channel.Payment
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, *p, decoded)

	contract, err := s.Chain.Selector(s.Receiver.Address()).For(decoded.TokenContract)
	require.NoError(t, err)
	require.True(t, contract.CanClaim(context.Background(), decoded.ChannelID, decoded.Value, s.Receiver.Address(), decoded.Signature))
}

func TestPaymentRejectsMalformedAmounts(t *testing.T) {
	var p channel.Payment
	err := json.Unmarshal([]byte(`{"channelId":"0x0000000000000000000000000000000000000000000000000000000000000001","price":"x","value":"1","channelValue":"1","v":27,"r":"0x00","s":"0x00"}`), &p)
	require.Error(t, err)
}
