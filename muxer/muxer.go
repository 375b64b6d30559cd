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

// Package muxer implements the segment framing used to multiplex multiple
// mini-protocols over a single connection
package muxer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
)

// Muxer wraps a net.Conn and routes segments to and from the registered
// mini-protocols
type Muxer struct {
	conn              net.Conn
	sendMutex         sync.Mutex
	protocolMutex     sync.Mutex
	startChan         chan struct{}
	doneChan          chan struct{}
	onceStop          sync.Once
	errorChan         chan error
	protocolSenders   map[uint16]chan *Segment
	protocolReceivers map[uint16]chan *Segment
}

// New creates a new Muxer for the given connection and starts its read loop.
// Only a single segment is read before Start() is called, which allows the
// handshake to complete before the other protocols see any traffic
func New(conn net.Conn) *Muxer {
	m := &Muxer{
		conn:              conn,
		startChan:         make(chan struct{}, 1),
		doneChan:          make(chan struct{}),
		errorChan:         make(chan error, 10),
		protocolSenders:   make(map[uint16]chan *Segment),
		protocolReceivers: make(map[uint16]chan *Segment),
	}
	go m.readLoop()
	return m
}

// Start unblocks the read loop to process segments for all registered
// protocols
func (m *Muxer) Start() {
	select {
	case m.startChan <- struct{}{}:
	default:
	}
}

// Stop shuts down the muxer
func (m *Muxer) Stop() {
	m.onceStop.Do(func() {
		// Close doneChan to signify that we're shutting down
		close(m.doneChan)
		// Close protocol receive channels
		// We rely on the individual mini-protocols to stop reading their
		// send channels on shutdown
		m.protocolMutex.Lock()
		for _, recvChan := range m.protocolReceivers {
			close(recvChan)
		}
		m.protocolMutex.Unlock()
		// Close errorChan to signify to consumer that we're shutting down
		close(m.errorChan)
	})
}

// ErrorChan returns the channel for asynchronous muxer errors
func (m *Muxer) ErrorChan() chan error {
	return m.errorChan
}

func (m *Muxer) sendError(err error) {
	// Immediately return if we're already shutting down
	select {
	case <-m.doneChan:
		return
	default:
	}
	// Send error to consumer
	m.errorChan <- err
	// Stop the muxer on any error
	m.Stop()
}

// RegisterProtocol registers a mini-protocol with the muxer and returns its
// send and receive channels. Registration must happen before traffic for
// the protocol arrives, since a segment for an unknown protocol is an error
func (m *Muxer) RegisterProtocol(
	protocolId uint16,
) (chan *Segment, chan *Segment) {
	senderChan := make(chan *Segment, 10)
	receiverChan := make(chan *Segment, 10)
	m.protocolMutex.Lock()
	m.protocolSenders[protocolId] = senderChan
	m.protocolReceivers[protocolId] = receiverChan
	m.protocolMutex.Unlock()
	// Start goroutine to handle outbound segments for the protocol
	go func() {
		for {
			select {
			case <-m.doneChan:
				return
			case segment := <-senderChan:
				if err := m.Send(segment); err != nil {
					m.sendError(err)
					return
				}
			}
		}
	}()
	return senderChan, receiverChan
}

// Send writes a single segment to the connection
func (m *Muxer) Send(segment *Segment) error {
	// We use a mutex to make sure only one protocol can send at a time
	m.sendMutex.Lock()
	defer m.sendMutex.Unlock()
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.BigEndian, segment.SegmentHeader); err != nil {
		return err
	}
	buf.Write(segment.Payload)
	if _, err := m.conn.Write(buf.Bytes()); err != nil {
		return err
	}
	return nil
}

func (m *Muxer) readLoop() {
	started := false
	for {
		// Break out of read loop if we're shutting down
		select {
		case <-m.doneChan:
			return
		default:
		}
		header := SegmentHeader{}
		if err := binary.Read(m.conn, binary.BigEndian, &header); err != nil {
			m.sendError(err)
			return
		}
		segment := &Segment{
			SegmentHeader: header,
			Payload:       make([]byte, header.PayloadLength),
		}
		// We use ReadFull because it guarantees to read the expected number
		// of bytes or return an error
		if _, err := io.ReadFull(m.conn, segment.Payload); err != nil {
			m.sendError(err)
			return
		}
		// Send segment to proper receiver
		m.protocolMutex.Lock()
		recvChan := m.protocolReceivers[segment.GetProtocolId()]
		m.protocolMutex.Unlock()
		if recvChan == nil {
			m.sendError(fmt.Errorf(
				"received segment for unknown protocol ID %d",
				segment.GetProtocolId(),
			))
			return
		}
		recvChan <- segment
		// Wait until the muxer is started to continue
		// We don't want to read more than one segment until the handshake
		// is complete
		if !started {
			select {
			case <-m.doneChan:
				return
			case <-m.startChan:
				started = true
			}
		}
	}
}
