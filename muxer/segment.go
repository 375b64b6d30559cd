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

package muxer

const (
	// SegmentProtocolIdResponseFlag is set on the protocol ID of segments
	// flowing in the responder direction
	SegmentProtocolIdResponseFlag = 0x8000

	// SegmentMaxPayloadLength is the maximum payload of a single segment.
	// Larger protocol messages are split across multiple segments
	SegmentMaxPayloadLength = 65535
)

// SegmentHeader is the on-the-wire header for a segment
type SegmentHeader struct {
	ProtocolId    uint16
	PayloadLength uint16
}

// Segment represents a chunk of data for a particular mini-protocol
type Segment struct {
	SegmentHeader
	Payload []byte
}

// NewSegment returns a new Segment for the given protocol and payload. The
// response flag marks segments flowing in the responder direction
func NewSegment(protocolId uint16, payload []byte, isResponse bool) *Segment {
	header := SegmentHeader{
		ProtocolId: protocolId,
	}
	if isResponse {
		header.ProtocolId = header.ProtocolId + SegmentProtocolIdResponseFlag
	}
	header.PayloadLength = uint16(len(payload)) // #nosec G115
	segment := &Segment{
		SegmentHeader: header,
		Payload:       payload,
	}
	return segment
}

func (s *SegmentHeader) IsRequest() bool {
	return (s.ProtocolId & SegmentProtocolIdResponseFlag) == 0
}

func (s *SegmentHeader) IsResponse() bool {
	return (s.ProtocolId & SegmentProtocolIdResponseFlag) > 0
}

// GetProtocolId returns the protocol ID with the response flag stripped
func (s *SegmentHeader) GetProtocolId() uint16 {
	if s.ProtocolId >= SegmentProtocolIdResponseFlag {
		return s.ProtocolId - SegmentProtocolIdResponseFlag
	}
	return s.ProtocolId
}
