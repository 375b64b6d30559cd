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

// Package bitnet implements the networking layer for a simple peer-to-peer
// block distribution network
package bitnet

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/blinklabs-io/gobitnet/muxer"
	"github.com/blinklabs-io/gobitnet/protocol"
	"github.com/blinklabs-io/gobitnet/protocol/blockfetch"
	"github.com/blinklabs-io/gobitnet/protocol/handshake"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Connection represents a connection to a remote peer. It wraps the
// underlying network connection with the muxer and the mini-protocols
type Connection struct {
	conn                  net.Conn
	networkMagic          uint32
	server                bool
	logger                *slog.Logger
	errorChan             chan error
	protoErrorChan        chan error
	handshakeFinishedChan chan struct{}
	handshakeVersion      uint16
	handshakeTimeout      time.Duration
	doneChan              chan struct{}
	onceClose             sync.Once
	waitGroup             sync.WaitGroup
	muxer                 *muxer.Muxer
	handshake             *handshake.Handshake
	blockFetch            *blockfetch.BlockFetch
	blockFetchConfig      *blockfetch.Config
}

// NewConnection returns a new Connection object with the provided options.
// If a connection is provided via WithConnection, the handshake is
// performed before returning
func NewConnection(options ...ConnectionOptionFunc) (*Connection, error) {
	c := &Connection{
		networkMagic:          NetworkMainnet.NetworkMagic,
		handshakeFinishedChan: make(chan struct{}),
		doneChan:              make(chan struct{}),
		protoErrorChan:        make(chan error, 10),
	}
	// Apply provided options functions
	for _, option := range options {
		option(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.errorChan == nil {
		c.errorChan = make(chan error, 10)
	}
	if c.conn != nil {
		if err := c.setupConnection(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Dial establishes a connection to the given address and performs the
// protocol handshake
func (c *Connection) Dial(proto string, address string) error {
	if c.conn != nil {
		return errors.New("connection already established")
	}
	conn, err := net.Dial(proto, address)
	if err != nil {
		return err
	}
	c.conn = conn
	return c.setupConnection()
}

// Close shuts down the connection
func (c *Connection) Close() error {
	c.onceClose.Do(func() {
		close(c.doneChan)
		if c.muxer != nil {
			c.muxer.Stop()
		}
		if c.conn != nil {
			c.conn.Close()
		}
		// Wait for the error loop to finish
		c.waitGroup.Wait()
	})
	return nil
}

// ErrorChan returns the channel for asynchronous connection errors
func (c *Connection) ErrorChan() chan error {
	return c.errorChan
}

// BlockFetch returns the block-fetch protocol handler
func (c *Connection) BlockFetch() *blockfetch.BlockFetch {
	return c.blockFetch
}

// Handshake returns the handshake protocol handler
func (c *Connection) Handshake() *handshake.Handshake {
	return c.handshake
}

// ProtocolVersion returns the protocol version negotiated during the
// handshake
func (c *Connection) ProtocolVersion() uint16 {
	return c.handshakeVersion
}

// ID returns a stable identifier for the remote peer
func (c *Connection) ID() string {
	return c.conn.RemoteAddr().String()
}

// RequestBlocks asks the remote peer to send the given blocks. This allows
// a client Connection to be used as a fetcher peer
func (c *Connection) RequestBlocks(hashes []chainhash.Hash) error {
	if c.server {
		return errors.New("cannot request blocks on a server connection")
	}
	err := c.blockFetch.Client.RequestBlocks(hashes)
	if errors.Is(err, protocol.ErrProtocolShuttingDown) {
		// Present a shutting-down protocol the same as a closed connection
		return io.EOF
	}
	return err
}

// Done returns a channel that is closed when the connection shuts down
func (c *Connection) Done() <-chan struct{} {
	return c.doneChan
}

// setupConnection establishes the muxer, configures and starts the
// mini-protocols, and performs the protocol handshake
func (c *Connection) setupConnection() error {
	c.muxer = muxer.New(c.conn)
	protoOptions := protocol.ProtocolOptions{
		Muxer:     c.muxer,
		Logger:    c.logger,
		ErrorChan: c.protoErrorChan,
	}
	if c.server {
		protoOptions.Role = protocol.ProtocolRoleServer
	} else {
		protoOptions.Role = protocol.ProtocolRoleClient
	}
	handshakeOpts := []handshake.HandshakeOptionFunc{
		handshake.WithProtocolVersions(ProtocolVersions()),
		handshake.WithNetworkMagic(c.networkMagic),
		handshake.WithFinishedFunc(c.handleHandshakeFinished),
	}
	if c.handshakeTimeout > 0 {
		handshakeOpts = append(
			handshakeOpts,
			handshake.WithTimeout(c.handshakeTimeout),
		)
	}
	handshakeConfig := handshake.NewConfig(handshakeOpts...)
	c.handshake = handshake.New(protoOptions, &handshakeConfig)
	c.blockFetch = blockfetch.New(protoOptions, c.blockFetchConfig)
	// Start the handshake
	if c.server {
		c.handshake.Server.Start()
	} else {
		c.handshake.Client.Start()
	}
	// Wait for the handshake to complete
	select {
	case err, ok := <-c.muxer.ErrorChan():
		if !ok {
			err = io.EOF
		}
		c.Close()
		return fmt.Errorf("handshake failed: %w", err)
	case err := <-c.protoErrorChan:
		c.Close()
		return fmt.Errorf("handshake failed: %w", err)
	case <-c.handshakeFinishedChan:
	}
	// Start the block-fetch protocol before unblocking the muxer read loop
	// so its protocol ID is registered before any peer traffic arrives
	if c.server {
		c.blockFetch.Server.Start()
	} else {
		c.blockFetch.Client.Start()
	}
	// Unblock the muxer read loop now that the handshake is complete
	c.muxer.Start()
	c.waitGroup.Add(1)
	go c.errorLoop()
	return nil
}

func (c *Connection) handleHandshakeFinished(
	ctx handshake.CallbackContext,
	version uint16,
) error {
	c.handshakeVersion = version
	c.logger.Debug(
		"handshake finished",
		"component", "network",
		"connection_id", c.ID(),
		"version", version,
	)
	close(c.handshakeFinishedChan)
	return nil
}

// errorLoop propagates muxer and protocol errors to the consumer and shuts
// the connection down on the first error
func (c *Connection) errorLoop() {
	var err error
	var ok bool
	select {
	case <-c.doneChan:
		c.waitGroup.Done()
		return
	case err, ok = <-c.muxer.ErrorChan():
		if !ok {
			err = io.EOF
		}
	case err, ok = <-c.protoErrorChan:
		if !ok {
			err = nil
		}
	}
	if err != nil {
		select {
		case c.errorChan <- err:
		default:
		}
	}
	// Mark the loop done before Close so its wait doesn't include us
	c.waitGroup.Done()
	c.Close()
}
