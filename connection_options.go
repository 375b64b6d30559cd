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

import (
	"log/slog"
	"net"
	"time"

	"github.com/blinklabs-io/gobitnet/protocol/blockfetch"
)

// ConnectionOptionFunc is a type that represents functions that modify the
// Connection config
type ConnectionOptionFunc func(*Connection)

// WithConnection specifies an existing connection to use. The handshake is
// performed when the Connection object is created
func WithConnection(conn net.Conn) ConnectionOptionFunc {
	return func(c *Connection) {
		c.conn = conn
	}
}

// WithNetwork specifies the network
func WithNetwork(network Network) ConnectionOptionFunc {
	return func(c *Connection) {
		c.networkMagic = network.NetworkMagic
	}
}

// WithNetworkMagic specifies the network magic value
func WithNetworkMagic(networkMagic uint32) ConnectionOptionFunc {
	return func(c *Connection) {
		c.networkMagic = networkMagic
	}
}

// WithServer specifies whether to act as a server
func WithServer(server bool) ConnectionOptionFunc {
	return func(c *Connection) {
		c.server = server
	}
}

// WithLogger specifies the logger
func WithLogger(logger *slog.Logger) ConnectionOptionFunc {
	return func(c *Connection) {
		c.logger = logger
	}
}

// WithErrorChan specifies the error channel to use. If none is provided, a
// buffered channel will be created
func WithErrorChan(errorChan chan error) ConnectionOptionFunc {
	return func(c *Connection) {
		c.errorChan = errorChan
	}
}

// WithBlockFetchConfig specifies the block-fetch protocol config
func WithBlockFetchConfig(cfg blockfetch.Config) ConnectionOptionFunc {
	return func(c *Connection) {
		c.blockFetchConfig = &cfg
	}
}

// WithHandshakeTimeout specifies the timeout for the handshake operation
func WithHandshakeTimeout(timeout time.Duration) ConnectionOptionFunc {
	return func(c *Connection) {
		c.handshakeTimeout = timeout
	}
}
