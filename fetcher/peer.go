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

package fetcher

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Peer represents a remote peer that can serve block requests
type Peer interface {
	// ID returns a stable identifier for the peer
	ID() string
	// RequestBlocks asks the peer to send the given blocks. It only queues
	// the request and does not wait for the blocks to arrive
	RequestBlocks(hashes []chainhash.Hash) error
	// Done returns a channel that is closed when the peer goes away
	Done() <-chan struct{}
}
