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
	"testing"

	"github.com/blinklabs-io/gobitnet/cbor"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMsgRequestBlocksHashRoundTrip(t *testing.T) {
	hash1 := chainhash.DoubleHashH([]byte("block1"))
	hash2 := chainhash.DoubleHashH([]byte("block2"))
	msg := NewMsgRequestBlocks([]chainhash.Hash{hash1, hash2})
	data, err := cbor.Encode(msg)
	require.NoError(t, err)
	parsed, err := NewMsgFromCbor(MessageTypeRequestBlocks, data)
	require.NoError(t, err)
	msgRequest, ok := parsed.(*MsgRequestBlocks)
	require.True(t, ok)
	require.Len(t, msgRequest.BlockHashes, 2)
	recovered1, err := chainhash.NewHash(msgRequest.BlockHashes[0])
	require.NoError(t, err)
	recovered2, err := chainhash.NewHash(msgRequest.BlockHashes[1])
	require.NoError(t, err)
	assert.Equal(t, hash1, *recovered1)
	assert.Equal(t, hash2, *recovered2)
}

func TestNewMsgFromCborDispatch(t *testing.T) {
	data, err := cbor.Encode(NewMsgDone())
	require.NoError(t, err)
	parsed, err := NewMsgFromCbor(MessageTypeDone, data)
	require.NoError(t, err)
	assert.IsType(t, &MsgDone{}, parsed)
	assert.Equal(t, uint8(MessageTypeDone), parsed.Type())
}
