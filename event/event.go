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

// Package event carries channel lifecycle notifications from the payment
// manager to interested observers.
package event

import (
	"fmt"

	"perun.network/micropay-backend/channel"
)

// Type is the kind of a lifecycle event.
type Type int

const (
	// WillOpenChannel is emitted before the open transaction is sent.
	WillOpenChannel Type = iota
	// DidOpenChannel is emitted after the opened channel is persisted.
	DidOpenChannel
	// WillCloseChannel is emitted before the close path starts.
	WillCloseChannel
	// DidCloseChannel is emitted after the close path persisted its result.
	DidCloseChannel
)

func (t Type) String() string {
	switch t {
	case WillOpenChannel:
		return "willOpenChannel"
	case DidOpenChannel:
		return "didOpenChannel"
	case WillCloseChannel:
		return "willCloseChannel"
	case DidCloseChannel:
		return "didCloseChannel"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Event is one lifecycle notification. Channel is a snapshot taken when the
// event was emitted; Receipt is set only for the Did* events.
type Event struct {
	Type    Type
	Channel *channel.PaymentChannel
	Receipt *channel.Receipt
}
