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
	"bytes"
	"container/heap"
	"errors"
	"sync"
	"time"
)

var (
	errShutdown         = errors.New("fetcher is shutting down")
	errPeerDisconnected = errors.New("peer disconnected")
)

// requestQueue is a priority queue of pending block requests, ordered by
// priority with the block hash as a tie breaker
type requestQueue struct {
	mutex  sync.Mutex
	items  requestHeap
	notify chan struct{}
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		notify: make(chan struct{}, 1),
	}
}

func (q *requestQueue) put(req *BlockRequest) {
	q.mutex.Lock()
	heap.Push(&q.items, req)
	q.mutex.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// tryGet returns the next request, or nil when the queue is empty
func (q *requestQueue) tryGet() *BlockRequest {
	q.mutex.Lock()
	if len(q.items) == 0 {
		q.mutex.Unlock()
		return nil
	}
	req := heap.Pop(&q.items).(*BlockRequest)
	remaining := len(q.items) > 0
	q.mutex.Unlock()
	if remaining {
		// Pass the wakeup along for any other waiting getter
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return req
}

// get blocks until a request is available or one of the given channels is
// closed
func (q *requestQueue) get(
	shutdownChan <-chan struct{},
	peerDoneChan <-chan struct{},
) (*BlockRequest, error) {
	for {
		if req := q.tryGet(); req != nil {
			return req, nil
		}
		select {
		case <-shutdownChan:
			return nil, errShutdown
		case <-peerDoneChan:
			return nil, errPeerDisconnected
		case <-q.notify:
		}
	}
}

func (q *requestQueue) len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}

type requestHeap []*BlockRequest

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return bytes.Compare(h[i].hash[:], h[j].hash[:]) < 0
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) {
	*h = append(*h, x.(*BlockRequest))
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// retryQueue holds in-flight requests keyed by the deadline after which
// they become eligible for a retry through another peer. It is only
// accessed while holding the fetcher's batch mutex
type retryQueue struct {
	items retryHeap
}

type retryEntry struct {
	deadline time.Time
	request  *BlockRequest
}

func (q *retryQueue) put(deadline time.Time, req *BlockRequest) {
	heap.Push(&q.items, retryEntry{deadline: deadline, request: req})
}

// popExpired returns the requests whose retry deadline has passed, stopping
// at the first entry that hasn't expired yet
func (q *retryQueue) popExpired(now time.Time) []*BlockRequest {
	var ret []*BlockRequest
	for len(q.items) > 0 && !q.items[0].deadline.After(now) {
		entry := heap.Pop(&q.items).(retryEntry)
		ret = append(ret, entry.request)
	}
	return ret
}

func (q *retryQueue) len() int {
	return len(q.items)
}

type retryHeap []retryEntry

func (h retryHeap) Len() int { return len(h) }

func (h retryHeap) Less(i, j int) bool {
	return h[i].deadline.Before(h[j].deadline)
}

func (h retryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *retryHeap) Push(x any) {
	*h = append(*h, x.(retryEntry))
}

func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = retryEntry{}
	*h = old[:n-1]
	return item
}
