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

// Package protocol provides the common functionality for mini-protocols
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/gobitnet/cbor"
	"github.com/blinklabs-io/gobitnet/muxer"
)

// ProtocolRole identifies whether a protocol instance acts as the client or
// the server
type ProtocolRole uint

const (
	ProtocolRoleNone   ProtocolRole = 0
	ProtocolRoleClient ProtocolRole = 1
	ProtocolRoleServer ProtocolRole = 2
)

// MessageHandlerFunc represents a function that handles an incoming message
type MessageHandlerFunc func(Message) error

// MessageFromCborFunc represents a function that parses a mini-protocol
// message from CBOR
type MessageFromCborFunc func(uint, []byte) (Message, error)

// ProtocolConfig provides the configuration for a mini-protocol instance
type ProtocolConfig struct {
	Name                string
	ProtocolId          uint16
	Muxer               *muxer.Muxer
	Logger              *slog.Logger
	ErrorChan           chan error
	Role                ProtocolRole
	MessageHandlerFunc  MessageHandlerFunc
	MessageFromCborFunc MessageFromCborFunc
	StateMap            StateMap
	InitialState        State
}

// ProtocolOptions provides common arguments for mini-protocols when creating
// them from a connection
type ProtocolOptions struct {
	Muxer     *muxer.Muxer
	Logger    *slog.Logger
	ErrorChan chan error
	Role      ProtocolRole
	Version   uint16
}

// Protocol implements the shared mini-protocol machinery: sending and
// receiving messages over the muxer and tracking the protocol state
type Protocol struct {
	config       ProtocolConfig
	doneChan     chan struct{}
	onceStart    sync.Once
	onceDone     sync.Once
	sendChan     chan *muxer.Segment
	recvChan     chan *muxer.Segment
	recvBuffer   *bytes.Buffer
	stateMutex   sync.Mutex
	currentState State
}

// New returns a new Protocol object
func New(config ProtocolConfig) *Protocol {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p := &Protocol{
		config:     config,
		doneChan:   make(chan struct{}),
		recvBuffer: bytes.NewBuffer(nil),
	}
	return p
}

// Start registers the protocol with the muxer and starts the receive loop
func (p *Protocol) Start() {
	p.onceStart.Do(func() {
		p.config.Logger.Debug(
			"starting protocol",
			"component", "network",
			"protocol", p.config.Name,
			"role", p.Role(),
		)
		p.sendChan, p.recvChan = p.config.Muxer.RegisterProtocol(
			p.config.ProtocolId,
		)
		p.currentState = p.config.InitialState
		go p.recvLoop()
	})
}

// Logger returns the protocol logger
func (p *Protocol) Logger() *slog.Logger {
	return p.config.Logger
}

// Role returns "client" or "server" based on the protocol role
func (p *Protocol) Role() string {
	if p.config.Role == ProtocolRoleServer {
		return "server"
	}
	return "client"
}

// DoneChan returns a channel that will be closed when the protocol shuts down
func (p *Protocol) DoneChan() <-chan struct{} {
	return p.doneChan
}

// SendMessage appends a message to the send queue. The message is subject to
// the protocol state rules, and sending a message that isn't valid for the
// current state is an error
func (p *Protocol) SendMessage(msg Message) error {
	p.config.Logger.Debug(
		fmt.Sprintf("sending message type %d", msg.Type()),
		"component", "network",
		"protocol", p.config.Name,
		"role", p.Role(),
	)
	if err := p.transitionState(msg); err != nil {
		return fmt.Errorf("%s: error sending message: %w", p.config.Name, err)
	}
	// Use the raw CBOR from the message, if available. This is used when
	// passing a message through without re-encoding it
	data := msg.Cbor()
	if data == nil {
		var err error
		data, err = cbor.Encode(msg)
		if err != nil {
			return err
		}
	}
	// Break the message into muxer segments, if necessary
	isResponse := p.config.Role == ProtocolRoleServer
	for {
		chunk := data
		if len(chunk) > muxer.SegmentMaxPayloadLength {
			chunk = data[:muxer.SegmentMaxPayloadLength]
		}
		segment := muxer.NewSegment(p.config.ProtocolId, chunk, isResponse)
		select {
		case <-p.doneChan:
			return ErrProtocolShuttingDown
		case p.sendChan <- segment:
		}
		data = data[len(chunk):]
		if len(data) == 0 {
			break
		}
	}
	return nil
}

func (p *Protocol) recvLoop() {
	leftoverData := false
	for {
		// Don't grab the next segment from the muxer if we still have data in
		// the buffer
		if !leftoverData {
			if !p.readSegment() {
				return
			}
		}
		leftoverData = false
		// Decode message into generic list to determine the message type
		var tmpMsg []cbor.RawMessage
		numBytesRead, err := cbor.Decode(p.recvBuffer.Bytes(), &tmpMsg)
		if err != nil {
			if errors.Is(err, io.EOF) ||
				errors.Is(err, io.ErrUnexpectedEOF) {
				// This is probably a multi-segment message, so we wait for
				// more data
				continue
			}
			p.SendError(
				fmt.Errorf("%s: decode error: %w", p.config.Name, err),
			)
			return
		}
		if len(tmpMsg) == 0 {
			p.SendError(
				fmt.Errorf("%s: decode error: empty message", p.config.Name),
			)
			return
		}
		var msgType uint
		if _, err := cbor.Decode(tmpMsg[0], &msgType); err != nil {
			p.SendError(
				fmt.Errorf("%s: decode error: %w", p.config.Name, err),
			)
			return
		}
		// Create Message object from CBOR
		msgData := p.recvBuffer.Bytes()[:numBytesRead]
		msg, err := p.config.MessageFromCborFunc(msgType, msgData)
		if err != nil {
			p.SendError(err)
			return
		}
		if msg == nil {
			p.SendError(fmt.Errorf(
				"%s: received unknown message type: %d",
				p.config.Name,
				msgType,
			))
			return
		}
		p.config.Logger.Debug(
			fmt.Sprintf("received message type %d", msg.Type()),
			"component", "network",
			"protocol", p.config.Name,
			"role", p.Role(),
		)
		if err := p.transitionState(msg); err != nil {
			p.SendError(fmt.Errorf(
				"%s: error handling message: %w",
				p.config.Name,
				err,
			))
			return
		}
		if err := p.config.MessageHandlerFunc(msg); err != nil {
			p.SendError(err)
			return
		}
		if numBytesRead < p.recvBuffer.Len() {
			// There is another message in the same muxer segment, so we
			// preserve the remaining data for the next loop iteration
			p.recvBuffer = bytes.NewBuffer(
				p.recvBuffer.Bytes()[numBytesRead:],
			)
			leftoverData = true
		} else {
			p.recvBuffer.Reset()
		}
	}
}

// readSegment waits for the next segment from the muxer and appends its
// payload to the receive buffer. It returns false when the receive loop
// should exit
func (p *Protocol) readSegment() bool {
	// Set a timeout waiting for the next message if the current state
	// defines one and the agency is on the remote side
	var timeoutChan <-chan time.Time
	p.stateMutex.Lock()
	entry := p.config.StateMap[p.currentState]
	stateName := p.currentState.Name
	p.stateMutex.Unlock()
	if entry.Timeout > 0 && !p.hasAgency(entry.Agency) {
		timer := time.NewTimer(entry.Timeout)
		defer timer.Stop()
		timeoutChan = timer.C
	}
	select {
	case <-p.doneChan:
		return false
	case <-timeoutChan:
		p.SendError(fmt.Errorf(
			"%s: timed out waiting for message in state %s",
			p.config.Name,
			stateName,
		))
		return false
	case segment, ok := <-p.recvChan:
		if !ok {
			// Muxer is shutting down
			p.shutdown()
			return false
		}
		p.recvBuffer.Write(segment.Payload)
		return true
	}
}

func (p *Protocol) hasAgency(agency uint) bool {
	switch agency {
	case AgencyClient:
		return p.config.Role == ProtocolRoleClient
	case AgencyServer:
		return p.config.Role == ProtocolRoleServer
	}
	return false
}

// transitionState applies the state transition for the given message. Once
// the protocol reaches a state where neither side has agency, the protocol
// is done and the done channel is closed
func (p *Protocol) transitionState(msg Message) error {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	entry, ok := p.config.StateMap[p.currentState]
	if !ok {
		return fmt.Errorf("invalid protocol state: %s", p.currentState)
	}
	for _, transition := range entry.Transitions {
		if transition.MsgType == msg.Type() {
			p.currentState = transition.NewState
			if p.config.StateMap[transition.NewState].Agency == AgencyNone {
				p.shutdown()
			}
			return nil
		}
	}
	return fmt.Errorf(
		"message type %d not allowed in state %s",
		msg.Type(),
		p.currentState,
	)
}

// SendError sends an error to the consumer and shuts the protocol down
func (p *Protocol) SendError(err error) {
	select {
	case <-p.doneChan:
		// Drop errors during shutdown
	case p.config.ErrorChan <- err:
	}
	p.shutdown()
}

func (p *Protocol) shutdown() {
	p.onceDone.Do(func() {
		close(p.doneChan)
	})
}
