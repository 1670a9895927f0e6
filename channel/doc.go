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

// Package channel contains the building blocks of unidirectional payment channels on an EVM chain.
// These consist of the channel and payment types, the Contract interface to the on-chain escrow and the
// Selector choosing between native and token escrows. On top of them, the Inflator reconciles stored
// channels with the chain, the Validator decides whether a received payment is acceptable and the
// PaymentManager builds signed payments.
package channel
