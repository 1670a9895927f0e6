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
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Header names of the paywall handshake a resource server answers with.
const (
	HeaderVersion       = "Paywall-Version"
	HeaderPrice         = "Paywall-Price"
	HeaderAddress       = "Paywall-Address"
	HeaderGateway       = "Paywall-Gateway"
	HeaderTokenContract = "Paywall-Token-Address"
	HeaderMeta          = "Paywall-Meta"

	// ProtocolVersion is the paywall protocol version spoken by this module.
	ProtocolVersion = "0.0.3"
)

var ErrMissingPaywallHeader = errors.New("missing paywall header")

// PaywallHeaders are the terms a paywall demands for a resource.
type PaywallHeaders struct {
	Version       string
	Price         *big.Int
	Receiver      common.Address
	Gateway       string
	TokenContract common.Address
	Meta          string
}

// ParsePaywallHeaders extracts the paywall terms from a response header.
func ParsePaywallHeaders(h http.Header) (*PaywallHeaders, error) {
	required := []string{HeaderPrice, HeaderAddress, HeaderGateway}
	for _, name := range required {
		if h.Get(name) == "" {
			return nil, errors.Wrap(ErrMissingPaywallHeader, name)
		}
	}

	price, ok := new(big.Int).SetString(h.Get(HeaderPrice), 10)
	if !ok || price.Sign() < 0 {
		return nil, errors.Errorf("invalid %s header: %q", HeaderPrice, h.Get(HeaderPrice))
	}
	if !common.IsHexAddress(h.Get(HeaderAddress)) {
		return nil, errors.Errorf("invalid %s header: %q", HeaderAddress, h.Get(HeaderAddress))
	}

	p := &PaywallHeaders{
		Version:  h.Get(HeaderVersion),
		Price:    price,
		Receiver: common.HexToAddress(h.Get(HeaderAddress)),
		Gateway:  h.Get(HeaderGateway),
		Meta:     h.Get(HeaderMeta),
	}
	if token := h.Get(HeaderTokenContract); token != "" {
		if !common.IsHexAddress(token) {
			return nil, errors.Errorf("invalid %s header: %q", HeaderTokenContract, token)
		}
		p.TokenContract = common.HexToAddress(token)
	}
	return p, nil
}

// Write sets the paywall terms on h.
func (p *PaywallHeaders) Write(h http.Header) {
	version := p.Version
	if version == "" {
		version = ProtocolVersion
	}
	h.Set(HeaderVersion, version)
	h.Set(HeaderPrice, p.Price.String())
	h.Set(HeaderAddress, p.Receiver.Hex())
	h.Set(HeaderGateway, p.Gateway)
	if p.TokenContract != (common.Address{}) {
		h.Set(HeaderTokenContract, p.TokenContract.Hex())
	}
	if p.Meta != "" {
		h.Set(HeaderMeta, p.Meta)
	}
}
