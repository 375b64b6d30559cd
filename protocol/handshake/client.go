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

package handshake

import (
	"errors"
	"fmt"
	"sync"

	"github.com/blinklabs-io/gobitnet/protocol"
)

// Client implements the Handshake client
type Client struct {
	*protocol.Protocol
	config          *Config
	callbackContext CallbackContext
	onceStart       sync.Once
}

// NewClient returns a new Handshake client object
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
	// Update state map with timeout for waiting on the server's reply
	stateMap := StateMap.Copy()
	if entry, ok := stateMap[stateConfirm]; ok {
		entry.Timeout = cfg.Timeout
		stateMap[stateConfirm] = entry
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
		StateMap:            stateMap,
		InitialState:        statePropose,
	}
	c.Protocol = protocol.New(protoConfig)
	return c
}

// Start begins the handshake process by sending our supported protocol
// versions to the remote peer
func (c *Client) Start() {
	c.onceStart.Do(func() {
		c.Protocol.Start()
		msg := NewMsgProposeVersions(
			c.config.ProtocolVersions,
			c.config.NetworkMagic,
		)
		if err := c.SendMessage(msg); err != nil {
			c.SendError(err)
		}
	})
}

func (c *Client) messageHandler(msg protocol.Message) error {
	var err error
	switch msg.Type() {
	case MessageTypeAcceptVersion:
		err = c.handleAcceptVersion(msg)
	case MessageTypeRefuse:
		err = c.handleRefuse(msg)
	default:
		err = fmt.Errorf(
			"%s: received unexpected message type %d",
			ProtocolName,
			msg.Type(),
		)
	}
	return err
}

func (c *Client) handleAcceptVersion(msg protocol.Message) error {
	if c.config.FinishedFunc == nil {
		return errors.New(
			"received handshake AcceptVersion message but no callback function is defined",
		)
	}
	msgAccept := msg.(*MsgAcceptVersion)
	return c.config.FinishedFunc(c.callbackContext, msgAccept.Version)
}

func (c *Client) handleRefuse(msg protocol.Message) error {
	msgRefuse := msg.(*MsgRefuse)
	switch msgRefuse.Reason {
	case RefuseReasonVersionMismatch:
		return fmt.Errorf(
			"%s: refused by peer: no mutually supported protocol version",
			ProtocolName,
		)
	case RefuseReasonNetworkMismatch:
		return fmt.Errorf(
			"%s: refused by peer: network magic mismatch",
			ProtocolName,
		)
	default:
		return fmt.Errorf(
			"%s: refused by peer: unknown reason %d",
			ProtocolName,
			msgRefuse.Reason,
		)
	}
}
