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
	"fmt"

	"github.com/blinklabs-io/gobitnet/protocol"
)

// Server implements the Handshake server
type Server struct {
	*protocol.Protocol
	config          *Config
	callbackContext CallbackContext
}

// NewServer returns a new Handshake server object
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
	// Update state map with timeout for waiting on the client's proposal
	stateMap := StateMap.Copy()
	if entry, ok := stateMap[statePropose]; ok {
		entry.Timeout = cfg.Timeout
		stateMap[statePropose] = entry
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
		StateMap:            stateMap,
		InitialState:        statePropose,
	}
	s.Protocol = protocol.New(protoConfig)
	return s
}

func (s *Server) messageHandler(msg protocol.Message) error {
	var err error
	switch msg.Type() {
	case MessageTypeProposeVersions:
		err = s.handleProposeVersions(msg)
	default:
		err = fmt.Errorf(
			"%s: received unexpected message type %d",
			ProtocolName,
			msg.Type(),
		)
	}
	return err
}

func (s *Server) handleProposeVersions(msg protocol.Message) error {
	msgPropose := msg.(*MsgProposeVersions)
	if msgPropose.NetworkMagic != s.config.NetworkMagic {
		msgRefuse := NewMsgRefuse(RefuseReasonNetworkMismatch)
		if err := s.SendMessage(msgRefuse); err != nil {
			return err
		}
		return fmt.Errorf(
			"%s: refusing peer: network magic mismatch: %d",
			ProtocolName,
			msgPropose.NetworkMagic,
		)
	}
	// Pick the highest mutually supported protocol version
	var version uint16
	var found bool
	for _, ourVersion := range s.config.ProtocolVersions {
		for _, theirVersion := range msgPropose.ProtocolVersions {
			if ourVersion == theirVersion && (!found || ourVersion > version) {
				version = ourVersion
				found = true
			}
		}
	}
	if !found {
		msgRefuse := NewMsgRefuse(RefuseReasonVersionMismatch)
		if err := s.SendMessage(msgRefuse); err != nil {
			return err
		}
		return fmt.Errorf(
			"%s: refusing peer: no mutually supported protocol version",
			ProtocolName,
		)
	}
	msgAccept := NewMsgAcceptVersion(version)
	if err := s.SendMessage(msgAccept); err != nil {
		return err
	}
	if s.config.FinishedFunc != nil {
		return s.config.FinishedFunc(s.callbackContext, version)
	}
	return nil
}
