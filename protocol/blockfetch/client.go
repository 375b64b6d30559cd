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

package blockfetch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/blinklabs-io/gobitnet/protocol"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Client implements the BlockFetch client
type Client struct {
	*protocol.Protocol
	config          *Config
	callbackContext CallbackContext
	onceStart       sync.Once
	onceStop        sync.Once
}

// NewClient returns a new BlockFetch client object
func NewClient(protoOptions protocol.ProtocolOptions, cfg *Config) *Client {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	c := &Client{
		config: cfg,
	}
	c.callbackContext = CallbackContext{
		Client: c,
	}
	protoConfig := protocol.ProtocolConfig{
		Name:                ProtocolName,
		ProtocolId:          ProtocolId,
		Muxer:               protoOptions.Muxer,
		Logger:              protoOptions.Logger,
		ErrorChan:           protoOptions.ErrorChan,
		Role:                protocol.ProtocolRoleClient,
		MessageHandlerFunc:  c.messageHandler,
		MessageFromCborFunc: NewMsgFromCbor,
		StateMap:            StateMap,
		InitialState:        stateIdle,
	}
	c.Protocol = protocol.New(protoConfig)
	return c
}

// Start begins the protocol
func (c *Client) Start() {
	c.onceStart.Do(func() {
		c.Protocol.Start()
	})
}

// Stop tells the remote peer we're done requesting blocks
func (c *Client) Stop() error {
	var err error
	c.onceStop.Do(func() {
		msg := NewMsgDone()
		err = c.SendMessage(msg)
	})
	return err
}

// RequestBlocks asks the remote peer to send the given blocks. It returns
// once the request is queued, and the blocks arrive via the Block callback
func (c *Client) RequestBlocks(hashes []chainhash.Hash) error {
	msg := NewMsgRequestBlocks(hashes)
	return c.SendMessage(msg)
}

func (c *Client) messageHandler(msg protocol.Message) error {
	var err error
	switch msg.Type() {
	case MessageTypeBlock:
		err = c.handleBlock(msg)
	default:
		err = fmt.Errorf(
			"%s: received unexpected message type %d",
			ProtocolName,
			msg.Type(),
		)
	}
	return err
}

func (c *Client) handleBlock(msg protocol.Message) error {
	if c.config.BlockFunc == nil {
		return errors.New(
			"received block-fetch Block message but no callback function is defined",
		)
	}
	msgBlock := msg.(*MsgBlock)
	block, err := btcutil.NewBlockFromBytes(msgBlock.BlockData)
	if err != nil {
		return fmt.Errorf("%s: decode block: %w", ProtocolName, err)
	}
	// Call the user callback function
	return c.config.BlockFunc(c.callbackContext, block)
}
