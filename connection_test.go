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

package bitnet

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/blinklabs-io/gobitnet/fetcher"
	"github.com/blinklabs-io/gobitnet/protocol/blockfetch"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func buildTestBlock(t *testing.T, nonce uint32) (*btcutil.Block, []byte) {
	t.Helper()
	header := wire.NewBlockHeader(
		1,
		&chainhash.Hash{},
		&chainhash.Hash{},
		0,
		nonce,
	)
	block := btcutil.NewBlock(wire.NewMsgBlock(header))
	data, err := block.Bytes()
	require.NoError(t, err)
	return block, data
}

// startTestServer creates the server side of a connection pair in the
// background, serving blocks from the provided map
func startTestServer(
	t *testing.T,
	conn net.Conn,
	blockData map[chainhash.Hash][]byte,
) chan *Connection {
	t.Helper()
	serverChan := make(chan *Connection, 1)
	go func() {
		server, err := NewConnection(
			WithConnection(conn),
			WithServer(true),
			WithNetworkMagic(NetworkRegtest.NetworkMagic),
			WithBlockFetchConfig(
				blockfetch.NewConfig(
					blockfetch.WithGetBlockFunc(
						func(
							ctx blockfetch.CallbackContext,
							hash *chainhash.Hash,
						) ([]byte, error) {
							data, ok := blockData[*hash]
							if !ok {
								return nil, fmt.Errorf(
									"unknown block: %s",
									hash.String(),
								)
							}
							return data, nil
						},
					),
				),
			),
		)
		assert.NoError(t, err)
		serverChan <- server
	}()
	return serverChan
}

func TestConnectionBlockFetch(t *testing.T) {
	defer goleak.VerifyNone(t)
	clientConn, serverConn := net.Pipe()
	block, data := buildTestBlock(t, 1)
	blockData := map[chainhash.Hash][]byte{
		*block.Hash(): data,
	}
	serverChan := startTestServer(t, serverConn, blockData)
	receivedChan := make(chan *btcutil.Block, 1)
	client, err := NewConnection(
		WithConnection(clientConn),
		WithNetworkMagic(NetworkRegtest.NetworkMagic),
		WithBlockFetchConfig(
			blockfetch.NewConfig(
				blockfetch.WithBlockFunc(
					func(
						ctx blockfetch.CallbackContext,
						block *btcutil.Block,
					) error {
						receivedChan <- block
						return nil
					},
				),
			),
		),
	)
	require.NoError(t, err)
	server := <-serverChan
	require.NotNil(t, server)
	defer func() {
		client.Close()
		server.Close()
	}()
	// Both sides negotiated the highest shared version
	assert.Equal(t, ProtocolVersion2, client.ProtocolVersion())
	assert.Equal(t, ProtocolVersion2, server.ProtocolVersion())
	require.NoError(
		t,
		client.RequestBlocks([]chainhash.Hash{*block.Hash()}),
	)
	select {
	case received := <-receivedChan:
		assert.Equal(t, block.Hash(), received.Hash())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for block")
	}
}

// TestConnectionCloseAfterRemoteDisconnect verifies that a remote
// disconnect surfaces on the error channel and that a subsequent Close
// returns cleanly with no goroutines left behind
func TestConnectionCloseAfterRemoteDisconnect(t *testing.T) {
	defer goleak.VerifyNone(t)
	clientConn, serverConn := net.Pipe()
	serverChan := startTestServer(t, serverConn, nil)
	client, err := NewConnection(
		WithConnection(clientConn),
		WithNetworkMagic(NetworkRegtest.NetworkMagic),
	)
	require.NoError(t, err)
	server := <-serverChan
	require.NotNil(t, server)
	// Drop the remote side and wait for the client to notice
	server.Close()
	select {
	case <-client.ErrorChan():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect error")
	}
	client.Close()
	select {
	case <-client.Done():
	default:
		t.Fatal("connection not shut down after Close")
	}
}

func TestConnectionHandshakeNetworkMismatch(t *testing.T) {
	defer goleak.VerifyNone(t)
	clientConn, serverConn := net.Pipe()
	serverErrChan := make(chan error, 1)
	go func() {
		_, err := NewConnection(
			WithConnection(serverConn),
			WithServer(true),
			WithNetworkMagic(NetworkMainnet.NetworkMagic),
		)
		serverErrChan <- err
	}()
	_, err := NewConnection(
		WithConnection(clientConn),
		WithNetworkMagic(NetworkTestnet.NetworkMagic),
	)
	assert.ErrorContains(t, err, "handshake failed")
	select {
	case err := <-serverErrChan:
		assert.ErrorContains(t, err, "handshake failed")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server handshake error")
	}
}

// TestConnectionWithFetcher exercises the full stack: the fetcher hands
// batches to a client connection, the server serves them from a block map,
// and delivered blocks resolve the fetcher's request handles
func TestConnectionWithFetcher(t *testing.T) {
	defer goleak.VerifyNone(t)
	clientConn, serverConn := net.Pipe()
	blockData := make(map[chainhash.Hash][]byte)
	blocks := make([]*btcutil.Block, 0, 3)
	for nonce := uint32(1); nonce <= 3; nonce++ {
		block, data := buildTestBlock(t, nonce)
		blocks = append(blocks, block)
		blockData[*block.Hash()] = data
	}
	serverChan := startTestServer(t, serverConn, blockData)

	fetcherCfg := fetcher.NewConfig(
		fetcher.WithInitialBatchSize(3),
	)
	blockFetcher := fetcher.New(&fetcherCfg)
	defer blockFetcher.Close()

	client, err := NewConnection(
		WithConnection(clientConn),
		WithNetworkMagic(NetworkRegtest.NetworkMagic),
		WithBlockFetchConfig(
			blockfetch.NewConfig(
				blockfetch.WithBlockFunc(
					func(
						ctx blockfetch.CallbackContext,
						block *btcutil.Block,
					) error {
						blockFetcher.HandleBlock(block)
						return nil
					},
				),
			),
		),
	)
	require.NoError(t, err)
	server := <-serverChan
	require.NotNil(t, server)
	defer func() {
		client.Close()
		server.Close()
	}()

	points := make([]fetcher.BlockPoint, 0, len(blocks))
	for idx, block := range blocks {
		points = append(
			points,
			fetcher.BlockPoint{
				Hash:     *block.Hash(),
				Priority: uint64(idx), // #nosec G115
			},
		)
	}
	requests := blockFetcher.FetchBlocks(points)
	blockFetcher.AddPeer(client)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for idx, req := range requests {
		received, err := req.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, blocks[idx].Hash(), received.Hash())
	}
}
