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
	"fmt"

	"github.com/blinklabs-io/gobitnet/cbor"
	"github.com/blinklabs-io/gobitnet/protocol"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Message types
const (
	MessageTypeRequestBlocks = 0
	MessageTypeBlock         = 1
	MessageTypeDone          = 2
)

// NewMsgFromCbor parses a BlockFetch message from CBOR
func NewMsgFromCbor(msgType uint, data []byte) (protocol.Message, error) {
	var ret protocol.Message
	switch msgType {
	case MessageTypeRequestBlocks:
		ret = &MsgRequestBlocks{}
	case MessageTypeBlock:
		ret = &MsgBlock{}
	case MessageTypeDone:
		ret = &MsgDone{}
	}
	if ret == nil {
		return nil, nil
	}
	if _, err := cbor.Decode(data, ret); err != nil {
		return nil, fmt.Errorf("%s: decode error: %w", ProtocolName, err)
	}
	// Store the raw message CBOR
	ret.SetCbor(data)
	return ret, nil
}

type MsgRequestBlocks struct {
	protocol.MessageBase
	BlockHashes [][]byte
}

func NewMsgRequestBlocks(hashes []chainhash.Hash) *MsgRequestBlocks {
	blockHashes := make([][]byte, 0, len(hashes))
	for _, hash := range hashes {
		blockHashes = append(blockHashes, hash.CloneBytes())
	}
	m := &MsgRequestBlocks{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeRequestBlocks,
		},
		BlockHashes: blockHashes,
	}
	return m
}

type MsgBlock struct {
	protocol.MessageBase
	BlockData []byte
}

func NewMsgBlock(blockData []byte) *MsgBlock {
	m := &MsgBlock{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeBlock,
		},
		BlockData: blockData,
	}
	return m
}

type MsgDone struct {
	protocol.MessageBase
}

func NewMsgDone() *MsgDone {
	m := &MsgDone{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeDone,
		},
	}
	return m
}
