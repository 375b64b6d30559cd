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

// Package blockfetch implements the block-fetch mini-protocol used to
// request blocks from a remote peer
package blockfetch

import (
	"github.com/blinklabs-io/gobitnet/protocol"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	ProtocolName = "block-fetch"
	ProtocolId   = 1
)

var (
	stateIdle = protocol.NewState(1, "Idle")
	stateDone = protocol.NewState(2, "Done")
)

// StateMap represents the state machine for the block-fetch protocol.
// Requests and blocks flow in both directions while idle, so the protocol
// stays in the Idle state until the client signals it's done
var StateMap = protocol.StateMap{
	stateIdle: protocol.StateMapEntry{
		Agency: protocol.AgencyClient,
		Transitions: []protocol.StateTransition{
			{
				MsgType:  MessageTypeRequestBlocks,
				NewState: stateIdle,
			},
			{
				MsgType:  MessageTypeBlock,
				NewState: stateIdle,
			},
			{
				MsgType:  MessageTypeDone,
				NewState: stateDone,
			},
		},
	},
	stateDone: protocol.StateMapEntry{
		Agency: protocol.AgencyNone,
	},
}

// BlockFetch is a wrapper object that holds the client and server instances
type BlockFetch struct {
	Client *Client
	Server *Server
}

// Config is used to configure the BlockFetch protocol instance
type Config struct {
	BlockFunc    BlockFunc
	GetBlockFunc GetBlockFunc
}

// CallbackContext is provided as an argument to the user callback functions
type CallbackContext struct {
	Client *Client
	Server *Server
}

// BlockFunc is a callback function for when a block arrives from the
// remote peer
type BlockFunc func(CallbackContext, *btcutil.Block) error

// GetBlockFunc is a callback function used by the server to look up the
// serialized bytes for a requested block
type GetBlockFunc func(CallbackContext, *chainhash.Hash) ([]byte, error)

// New returns a new BlockFetch object
func New(protoOptions protocol.ProtocolOptions, cfg *Config) *BlockFetch {
	b := &BlockFetch{
		Client: NewClient(protoOptions, cfg),
		Server: NewServer(protoOptions, cfg),
	}
	return b
}

// BlockFetchOptionFunc represents a function used to modify the BlockFetch
// protocol config
type BlockFetchOptionFunc func(*Config)

// NewConfig returns a new BlockFetch config object with the provided
// options
func NewConfig(options ...BlockFetchOptionFunc) Config {
	c := Config{}
	// Apply provided options functions
	for _, option := range options {
		option(&c)
	}
	return c
}

// WithBlockFunc specifies the Block callback function
func WithBlockFunc(blockFunc BlockFunc) BlockFetchOptionFunc {
	return func(c *Config) {
		c.BlockFunc = blockFunc
	}
}

// WithGetBlockFunc specifies the GetBlock callback function used by the
// server
func WithGetBlockFunc(getBlockFunc GetBlockFunc) BlockFetchOptionFunc {
	return func(c *Config) {
		c.GetBlockFunc = getBlockFunc
	}
}
