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

// Package fetcher implements a block download scheduler that spreads block
// requests across the available peers. Blocks are requested in priority
// order, each peer keeps two batches of requests in flight, and the batch
// size adapts to the delivery rate the peer shows. Requests that a peer
// sits on for too long are fed back into the queue for another peer
package fetcher

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	DefaultMaxBatchSize     = 200
	DefaultInitialBatchSize = 1
	DefaultTargetBatchTime  = 3 * time.Second
	DefaultMaxBatchTimeout  = 12 * time.Second
)

// Config is used to configure the Fetcher
type Config struct {
	// MaxBatchSize is the most blocks that will be requested from a peer in
	// a single batch
	MaxBatchSize int
	// InitialBatchSize is the batch size used for a new peer before we've
	// observed its delivery rate
	InitialBatchSize int
	// TargetBatchTime is how long a single batch should ideally take. The
	// per-peer batch size is adjusted toward this target
	TargetBatchTime time.Duration
	// MaxBatchTimeout is how long we wait on a batch before giving up on
	// it. It's also the deadline after which an in-flight request becomes
	// eligible for a retry through another peer
	MaxBatchTimeout time.Duration
	Logger          *slog.Logger
}

// FetcherOptionFunc represents a function used to modify the Fetcher config
type FetcherOptionFunc func(*Config)

// NewConfig returns a new Fetcher config object with the provided options
func NewConfig(options ...FetcherOptionFunc) Config {
	c := Config{
		MaxBatchSize:     DefaultMaxBatchSize,
		InitialBatchSize: DefaultInitialBatchSize,
		TargetBatchTime:  DefaultTargetBatchTime,
		MaxBatchTimeout:  DefaultMaxBatchTimeout,
	}
	// Apply provided options functions
	for _, option := range options {
		option(&c)
	}
	return c
}

// WithMaxBatchSize specifies the maximum batch size
func WithMaxBatchSize(size int) FetcherOptionFunc {
	return func(c *Config) {
		c.MaxBatchSize = size
	}
}

// WithInitialBatchSize specifies the batch size used for new peers
func WithInitialBatchSize(size int) FetcherOptionFunc {
	return func(c *Config) {
		c.InitialBatchSize = size
	}
}

// WithTargetBatchTime specifies the ideal duration of a single batch
func WithTargetBatchTime(target time.Duration) FetcherOptionFunc {
	return func(c *Config) {
		c.TargetBatchTime = target
	}
}

// WithMaxBatchTimeout specifies the timeout for a single batch
func WithMaxBatchTimeout(timeout time.Duration) FetcherOptionFunc {
	return func(c *Config) {
		c.MaxBatchTimeout = timeout
	}
}

// WithLogger specifies the logger
func WithLogger(logger *slog.Logger) FetcherOptionFunc {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Fetcher schedules block downloads across the available peers
type Fetcher struct {
	config       Config
	requestQueue *requestQueue
	// batchMutex serializes batch assembly so that concurrent peer loops
	// don't hand out the same block twice. The retry queue and the
	// per-request peersTried sets are guarded by it as well
	batchMutex   sync.Mutex
	retryQueue   *retryQueue
	tableMutex   sync.Mutex
	requestTable map[chainhash.Hash]*BlockRequest
	errorChan    chan error
	doneChan     chan struct{}
	onceClose    sync.Once
	waitGroup    sync.WaitGroup
	// Stats
	blocksRequested atomic.Uint64
	blocksReceived  atomic.Uint64
	retries         atomic.Uint64
}

// New returns a new Fetcher object with the provided config. A nil config
// will use defaults
func New(cfg *Config) *Fetcher {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	f := &Fetcher{
		config:       *cfg,
		requestQueue: newRequestQueue(),
		retryQueue:   &retryQueue{},
		requestTable: make(map[chainhash.Hash]*BlockRequest),
		errorChan:    make(chan error, 10),
		doneChan:     make(chan struct{}),
	}
	if f.config.Logger == nil {
		f.config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return f
}

// FetchBlocks queues the given blocks for download and returns a request
// handle for each point in the same order. Requesting a hash that is
// already pending replaces the existing table entry, so only the handle
// returned by the newest call will resolve
func (f *Fetcher) FetchBlocks(points []BlockPoint) []*BlockRequest {
	ret := make([]*BlockRequest, 0, len(points))
	for _, point := range points {
		req := newBlockRequest(point)
		f.tableMutex.Lock()
		f.requestTable[point.Hash] = req
		f.tableMutex.Unlock()
		f.requestQueue.put(req)
		ret = append(ret, req)
	}
	return ret
}

// AddPeer starts a fetch loop that feeds block requests to the given peer.
// The loop runs until the fetcher is closed or the peer goes away
func (f *Fetcher) AddPeer(peer Peer) {
	f.waitGroup.Add(1)
	go func() {
		defer f.waitGroup.Done()
		f.fetchLoop(peer)
	}()
}

// HandleBlock resolves the pending request for the given block. Blocks that
// were never requested, or that already arrived through another peer, are
// silently discarded since any peer may deliver a block late
func (f *Fetcher) HandleBlock(block *btcutil.Block) {
	hash := *block.Hash()
	f.tableMutex.Lock()
	req, ok := f.requestTable[hash]
	if ok {
		delete(f.requestTable, hash)
	}
	f.tableMutex.Unlock()
	if !ok {
		f.config.Logger.Debug(
			"discarding unsolicited block",
			"component", "fetcher",
			"hash", hash.String(),
		)
		return
	}
	req.resolve(block)
	f.blocksReceived.Add(1)
}

// ErrorChan returns the channel for asynchronous fetcher errors
func (f *Fetcher) ErrorChan() <-chan error {
	return f.errorChan
}

// Stats holds a snapshot of the fetcher counters
type Stats struct {
	BlocksRequested uint64
	BlocksReceived  uint64
	Retries         uint64
}

// Stats returns a snapshot of the fetcher counters
func (f *Fetcher) Stats() Stats {
	return Stats{
		BlocksRequested: f.blocksRequested.Load(),
		BlocksReceived:  f.blocksReceived.Load(),
		Retries:         f.retries.Load(),
	}
}

// Close shuts down the fetcher and waits for the peer loops to exit.
// Unresolved requests are left pending, so their Wait calls should be
// given a context that will expire
func (f *Fetcher) Close() error {
	f.onceClose.Do(func() {
		close(f.doneChan)
		f.waitGroup.Wait()
		close(f.errorChan)
	})
	return nil
}

// fetchLoop feeds batches of block requests to a single peer. Two batches
// are kept in flight at once so the peer always has work queued while we
// wait on the earlier batch
func (f *Fetcher) fetchLoop(peer Peer) {
	batchSize := f.config.InitialBatchSize
	batch, sentAt, err := f.getBatch(peer, batchSize)
	if err != nil {
		f.handleLoopError(peer, err)
		return
	}
	for {
		nextBatch, nextSentAt, err := f.getBatch(peer, batchSize)
		if err != nil {
			f.handleLoopError(peer, err)
			return
		}
		resolvedCount, ok := f.waitForBatch(peer, batch)
		if !ok {
			return
		}
		batchSize = f.nextBatchSize(time.Since(sentAt), resolvedCount)
		batch, sentAt = nextBatch, nextSentAt
	}
}

// getBatch assembles and sends the next batch of block requests for a
// peer. In-flight requests whose retry deadline expired are fed back into
// the request queue first, so another peer can pick them up. Requests this
// peer was already asked for are set aside and requeued for the other
// loops. When the queue is empty and nothing has been batched yet, this
// blocks until a request shows up
func (f *Fetcher) getBatch(
	peer Peer,
	batchSize int,
) ([]*BlockRequest, time.Time, error) {
	f.batchMutex.Lock()
	for _, req := range f.retryQueue.popExpired(time.Now()) {
		if req.resolved() {
			continue
		}
		f.retries.Add(1)
		f.requestQueue.put(req)
	}
	retryDeadline := time.Now().Add(f.config.MaxBatchTimeout)
	batch := make([]*BlockRequest, 0, batchSize)
	var skipped []*BlockRequest
	for len(batch) < batchSize {
		var req *BlockRequest
		if len(batch) == 0 {
			// Park here until there's work to hand out
			var err error
			req, err = f.requestQueue.get(f.doneChan, peer.Done())
			if err != nil {
				for _, skippedReq := range skipped {
					f.requestQueue.put(skippedReq)
				}
				f.batchMutex.Unlock()
				return nil, time.Time{}, err
			}
		} else {
			req = f.requestQueue.tryGet()
			if req == nil {
				break
			}
		}
		if req.resolved() {
			// Block arrived while the request was still queued
			continue
		}
		if req.triedBy(peer.ID()) {
			skipped = append(skipped, req)
			continue
		}
		req.markTried(peer.ID())
		f.retryQueue.put(retryDeadline, req)
		batch = append(batch, req)
	}
	// Put back the requests this peer already tried
	for _, req := range skipped {
		f.requestQueue.put(req)
	}
	f.batchMutex.Unlock()
	sentAt := time.Now()
	hashes := make([]chainhash.Hash, 0, len(batch))
	for _, req := range batch {
		hashes = append(hashes, req.hash)
	}
	f.blocksRequested.Add(uint64(len(hashes)))
	f.config.Logger.Debug(
		"requesting blocks",
		"component", "fetcher",
		"peer", peer.ID(),
		"count", len(hashes),
	)
	if err := peer.RequestBlocks(hashes); err != nil {
		return batch, sentAt, err
	}
	return batch, sentAt, nil
}

// waitForBatch waits for the blocks in a batch to arrive, up to the batch
// timeout. It returns the number of blocks that arrived and false when the
// fetch loop should exit. Blocks can resolve in any order, so the count is
// taken by scanning the whole batch once the wait ends
func (f *Fetcher) waitForBatch(
	peer Peer,
	batch []*BlockRequest,
) (int, bool) {
	timer := time.NewTimer(f.config.MaxBatchTimeout)
	defer timer.Stop()
	for _, req := range batch {
		select {
		case <-f.doneChan:
			return countResolved(batch), false
		case <-peer.Done():
			f.handleLoopError(peer, errPeerDisconnected)
			return countResolved(batch), false
		case <-timer.C:
			resolvedCount := countResolved(batch)
			f.config.Logger.Debug(
				"batch timed out",
				"component", "fetcher",
				"peer", peer.ID(),
				"resolved", resolvedCount,
				"batch_size", len(batch),
			)
			return resolvedCount, true
		case <-req.Done():
		}
	}
	return countResolved(batch), true
}

func countResolved(batch []*BlockRequest) int {
	count := 0
	for _, req := range batch {
		if req.resolved() {
			count++
		}
	}
	return count
}

// nextBatchSize scales the batch size so that a batch takes roughly the
// configured target time at the delivery rate we just observed
func (f *Fetcher) nextBatchSize(
	elapsed time.Duration,
	resolvedCount int,
) int {
	if resolvedCount < 1 {
		resolvedCount = 1
	}
	timePerBlock := elapsed / time.Duration(resolvedCount)
	if timePerBlock <= 0 {
		timePerBlock = time.Nanosecond
	}
	batchSize := int(f.config.TargetBatchTime/timePerBlock) + 1
	if batchSize > f.config.MaxBatchSize {
		batchSize = f.config.MaxBatchSize
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return batchSize
}

func (f *Fetcher) handleLoopError(peer Peer, err error) {
	switch {
	case errors.Is(err, errShutdown):
		// Normal shutdown
	case errors.Is(err, errPeerDisconnected), errors.Is(err, io.EOF):
		f.config.Logger.Debug(
			"peer disconnected",
			"component", "fetcher",
			"peer", peer.ID(),
		)
	default:
		f.config.Logger.Error(
			"fetch loop error",
			"component", "fetcher",
			"peer", peer.ID(),
			"error", err,
		)
		select {
		case f.errorChan <- err:
		default:
		}
	}
}
