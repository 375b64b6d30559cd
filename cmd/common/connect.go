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

package common

import (
	"fmt"
	"os"

	"github.com/blinklabs-io/gobitnet"
)

// CreateClientConnection establishes a client connection to the address
// from the provided global flags. Any failure is fatal
func CreateClientConnection(
	f *GlobalFlags,
	opts ...bitnet.ConnectionOptionFunc,
) *bitnet.Connection {
	var networkMagic uint32
	if f.NetworkMagic > 0 {
		networkMagic = uint32(f.NetworkMagic) // #nosec G115
	} else {
		network, ok := bitnet.NetworkByName(f.Network)
		if !ok {
			fmt.Printf("unknown network: %s\n", f.Network)
			os.Exit(1)
		}
		networkMagic = network.NetworkMagic
	}
	connOpts := []bitnet.ConnectionOptionFunc{
		bitnet.WithNetworkMagic(networkMagic),
	}
	connOpts = append(connOpts, opts...)
	conn, err := bitnet.NewConnection(connOpts...)
	if err != nil {
		fmt.Printf("connection failed: %s\n", err)
		os.Exit(1)
	}
	if err := conn.Dial("tcp", f.Address); err != nil {
		fmt.Printf("connection failed: %s\n", err)
		os.Exit(1)
	}
	return conn
}
