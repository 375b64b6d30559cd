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
	"testing"

	"github.com/blinklabs-io/gobitnet/cbor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMsgFromCbor(t *testing.T) {
	msg := NewMsgProposeVersions([]uint16{1, 2}, 0xDAB5BFFA)
	data, err := cbor.Encode(msg)
	require.NoError(t, err)
	parsed, err := NewMsgFromCbor(MessageTypeProposeVersions, data)
	require.NoError(t, err)
	msgPropose, ok := parsed.(*MsgProposeVersions)
	require.True(t, ok)
	assert.Equal(t, []uint16{1, 2}, msgPropose.ProtocolVersions)
	assert.Equal(t, uint32(0xDAB5BFFA), msgPropose.NetworkMagic)
	assert.Equal(t, data, parsed.Cbor())
}

func TestNewMsgFromCborUnknownType(t *testing.T) {
	data, err := cbor.Encode(NewMsgAcceptVersion(1))
	require.NoError(t, err)
	parsed, err := NewMsgFromCbor(99, data)
	assert.NoError(t, err)
	assert.Nil(t, parsed)
}
