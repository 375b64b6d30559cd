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
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
)

func hashFromByte(b byte) chainhash.Hash {
	var hash chainhash.Hash
	hash[0] = b
	return hash
}

func TestRequestQueuePriorityOrder(t *testing.T) {
	q := newRequestQueue()
	q.put(newBlockRequest(BlockPoint{Hash: hashFromByte(3), Priority: 3}))
	q.put(newBlockRequest(BlockPoint{Hash: hashFromByte(1), Priority: 1}))
	q.put(newBlockRequest(BlockPoint{Hash: hashFromByte(2), Priority: 2}))
	assert.Equal(t, 3, q.len())
	for _, expected := range []uint64{1, 2, 3} {
		req := q.tryGet()
		if assert.NotNil(t, req) {
			assert.Equal(t, expected, req.Priority())
		}
	}
	assert.Nil(t, q.tryGet())
}

func TestRequestQueueHashTieBreak(t *testing.T) {
	q := newRequestQueue()
	q.put(newBlockRequest(BlockPoint{Hash: hashFromByte(9), Priority: 1}))
	q.put(newBlockRequest(BlockPoint{Hash: hashFromByte(4), Priority: 1}))
	q.put(newBlockRequest(BlockPoint{Hash: hashFromByte(7), Priority: 1}))
	for _, expected := range []byte{4, 7, 9} {
		req := q.tryGet()
		if assert.NotNil(t, req) {
			assert.Equal(t, hashFromByte(expected), req.Hash())
		}
	}
}

func TestRequestQueueGetBlocksUntilPut(t *testing.T) {
	q := newRequestQueue()
	shutdownChan := make(chan struct{})
	peerDoneChan := make(chan struct{})
	resultChan := make(chan *BlockRequest)
	go func() {
		req, err := q.get(shutdownChan, peerDoneChan)
		assert.NoError(t, err)
		resultChan <- req
	}()
	// Give the getter a chance to park
	time.Sleep(10 * time.Millisecond)
	q.put(newBlockRequest(BlockPoint{Hash: hashFromByte(1), Priority: 1}))
	select {
	case req := <-resultChan:
		assert.Equal(t, hashFromByte(1), req.Hash())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for blocked get to return")
	}
}

func TestRequestQueueGetShutdown(t *testing.T) {
	q := newRequestQueue()
	shutdownChan := make(chan struct{})
	peerDoneChan := make(chan struct{})
	errChan := make(chan error)
	go func() {
		_, err := q.get(shutdownChan, peerDoneChan)
		errChan <- err
	}()
	close(shutdownChan)
	select {
	case err := <-errChan:
		assert.ErrorIs(t, err, errShutdown)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for blocked get to return")
	}
}

func TestRequestQueueGetPeerDisconnect(t *testing.T) {
	q := newRequestQueue()
	shutdownChan := make(chan struct{})
	peerDoneChan := make(chan struct{})
	errChan := make(chan error)
	go func() {
		_, err := q.get(shutdownChan, peerDoneChan)
		errChan <- err
	}()
	close(peerDoneChan)
	select {
	case err := <-errChan:
		assert.ErrorIs(t, err, errPeerDisconnected)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for blocked get to return")
	}
}

func TestRetryQueuePopExpired(t *testing.T) {
	q := &retryQueue{}
	now := time.Now()
	reqA := newBlockRequest(BlockPoint{Hash: hashFromByte(1), Priority: 1})
	reqB := newBlockRequest(BlockPoint{Hash: hashFromByte(2), Priority: 2})
	reqC := newBlockRequest(BlockPoint{Hash: hashFromByte(3), Priority: 3})
	q.put(now.Add(time.Hour), reqC)
	q.put(now.Add(-2*time.Second), reqA)
	q.put(now.Add(-time.Second), reqB)
	expired := q.popExpired(now)
	if assert.Len(t, expired, 2) {
		// Oldest deadline first
		assert.Same(t, reqA, expired[0])
		assert.Same(t, reqB, expired[1])
	}
	// The unexpired entry stays put
	assert.Equal(t, 1, q.len())
	assert.Empty(t, q.popExpired(now))
}
