// Copyright 2025 Blink Labs Software
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

package bitnet

// Network definitions
var (
	NetworkInvalid = Network{
		Id:   0,
		Name: "invalid",
	}
	NetworkMainnet = Network{
		Id:           1,
		Name:         "mainnet",
		NetworkMagic: 0xD9B4BEF9,
		DefaultPort:  8333,
	}
	NetworkTestnet = Network{
		Id:           2,
		Name:         "testnet",
		NetworkMagic: 0x0709110B,
		DefaultPort:  18333,
	}
	NetworkRegtest = Network{
		Id:           3,
		Name:         "regtest",
		NetworkMagic: 0xDAB5BFFA,
		DefaultPort:  18444,
	}
)

// List of valid networks for use in lookup functions
var networks = []Network{
	NetworkInvalid,
	NetworkMainnet,
	NetworkTestnet,
	NetworkRegtest,
}

// NetworkByName returns a predefined network by name
func NetworkByName(name string) (Network, bool) {
	for _, network := range networks {
		if network.Name == name {
			return network, true
		}
	}
	return NetworkInvalid, false
}

// NetworkByNetworkMagic returns a predefined network by network magic
func NetworkByNetworkMagic(networkMagic uint32) (Network, bool) {
	for _, network := range networks {
		if network.NetworkMagic == networkMagic {
			return network, true
		}
	}
	return NetworkInvalid, false
}

// Network represents a network
type Network struct {
	Id           uint8
	Name         string
	NetworkMagic uint32
	DefaultPort  uint16
}

func (n Network) String() string {
	return n.Name
}
