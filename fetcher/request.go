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
	"context"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BlockPoint names a block to fetch and its download priority. Lower
// priority values are fetched first, so the block height makes a natural
// priority when syncing the chain in order
type BlockPoint struct {
	Hash     chainhash.Hash
	Priority uint64
}

// BlockRequest tracks a single requested block until it resolves
type BlockRequest struct {
	hash     chainhash.Hash
	priority uint64
	doneChan chan struct{}
	onceDone sync.Once
	block    *btcutil.Block
	// peersTried records the peers this block was already requested from,
	// so a retry goes to a different peer. Guarded by the fetcher's batch
	// mutex
	peersTried map[string]struct{}
}

func newBlockRequest(point BlockPoint) *BlockRequest {
	return &BlockRequest{
		hash:       point.Hash,
		priority:   point.Priority,
		doneChan:   make(chan struct{}),
		peersTried: make(map[string]struct{}),
	}
}

// Hash returns the hash of the requested block
func (r *BlockRequest) Hash() chainhash.Hash {
	return r.hash
}

// Priority returns the download priority of the request
func (r *BlockRequest) Priority() uint64 {
	return r.priority
}

// Done returns a channel that is closed when the block arrives
func (r *BlockRequest) Done() <-chan struct{} {
	return r.doneChan
}

// Block returns the block, or nil if the request hasn't resolved yet
func (r *BlockRequest) Block() *btcutil.Block {
	select {
	case <-r.doneChan:
		return r.block
	default:
		return nil
	}
}

// Wait blocks until the block arrives or the context is canceled
func (r *BlockRequest) Wait(ctx context.Context) (*btcutil.Block, error) {
	select {
	case <-r.doneChan:
		return r.block, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve stores the block and marks the request done. Repeat deliveries
// are ignored
func (r *BlockRequest) resolve(block *btcutil.Block) {
	r.onceDone.Do(func() {
		r.block = block
		close(r.doneChan)
	})
}

func (r *BlockRequest) resolved() bool {
	select {
	case <-r.doneChan:
		return true
	default:
		return false
	}
}

func (r *BlockRequest) triedBy(peerId string) bool {
	_, ok := r.peersTried[peerId]
	return ok
}

func (r *BlockRequest) markTried(peerId string) {
	r.peersTried[peerId] = struct{}{}
}
