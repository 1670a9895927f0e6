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

package channel

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrChannelNotFound  = errors.New("channel not found")
	ErrOverspend        = errors.New("payment exceeds channel value")
	ErrAlreadySettled   = errors.New("channel is already settled")
	ErrNoPaymentToClaim = errors.New("cannot claim unknown channel")
	ErrChannelMismatch  = errors.New("payment does not match channel")
	ErrPaymentNotValid  = errors.New("payment not valid")
	ErrNotParticipant   = errors.New("account is neither sender nor receiver")
)

// InvalidPaymentError is returned when a received payment fails validation.
// It matches ErrPaymentNotValid under errors.Is.
type InvalidPaymentError struct {
	ChannelID ID
	Failed    []Check
}

func (e *InvalidPaymentError) Error() string {
	names := make([]string, len(e.Failed))
	for i, c := range e.Failed {
		names[i] = c.String()
	}
	return fmt.Sprintf("%v for channel %v: failed %s", ErrPaymentNotValid, e.ChannelID, strings.Join(names, ", "))
}

// Is makes InvalidPaymentError match ErrPaymentNotValid.
func (e *InvalidPaymentError) Is(target error) bool {
	return target == ErrPaymentNotValid
}
