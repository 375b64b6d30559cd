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

	"github.com/blinklabs-io/gobitnet/protocol"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Server implements the BlockFetch server
type Server struct {
	*protocol.Protocol
	config          *Config
	callbackContext CallbackContext
}

// NewServer returns a new BlockFetch server object
func NewServer(protoOptions protocol.ProtocolOptions, cfg *Config) *Server {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	s := &Server{
		config: cfg,
	}
	s.callbackContext = CallbackContext{
		Server: s,
	}
	protoConfig := protocol.ProtocolConfig{
		Name:                ProtocolName,
		ProtocolId:          ProtocolId,
		Muxer:               protoOptions.Muxer,
		Logger:              protoOptions.Logger,
		ErrorChan:           protoOptions.ErrorChan,
		Role:                protocol.ProtocolRoleServer,
		MessageHandlerFunc:  s.messageHandler,
		MessageFromCborFunc: NewMsgFromCbor,
		StateMap:            StateMap,
		InitialState:        stateIdle,
	}
	s.Protocol = protocol.New(protoConfig)
	return s
}

func (s *Server) messageHandler(msg protocol.Message) error {
	var err error
	switch msg.Type() {
	case MessageTypeRequestBlocks:
		err = s.handleRequestBlocks(msg)
	case MessageTypeDone:
		err = s.handleDone()
	default:
		err = fmt.Errorf(
			"%s: received unexpected message type %d",
			ProtocolName,
			msg.Type(),
		)
	}
	return err
}

func (s *Server) handleRequestBlocks(msg protocol.Message) error {
	if s.config.GetBlockFunc == nil {
		return errors.New(
			"received block-fetch RequestBlocks message but no callback function is defined",
		)
	}
	msgRequest := msg.(*MsgRequestBlocks)
	for _, hashBytes := range msgRequest.BlockHashes {
		hash, err := chainhash.NewHash(hashBytes)
		if err != nil {
			return fmt.Errorf("%s: invalid block hash: %w", ProtocolName, err)
		}
		blockData, err := s.config.GetBlockFunc(s.callbackContext, hash)
		if err != nil {
			// We don't have this block. The peer will request it from
			// someone else when its retry deadline expires
			s.Logger().Debug(
				"block not available",
				"component", "network",
				"protocol", ProtocolName,
				"hash", hash.String(),
			)
			continue
		}
		msgBlock := NewMsgBlock(blockData)
		if err := s.SendMessage(msgBlock); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleDone() error {
	// Nothing to do. The state transition takes care of protocol shutdown
	return nil
}
