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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/blinklabs-io/gobitnet"
	"github.com/blinklabs-io/gobitnet/cmd/common"
	"github.com/blinklabs-io/gobitnet/fetcher"
	"github.com/blinklabs-io/gobitnet/protocol/blockfetch"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func main() {
	f := common.NewGlobalFlags()
	var timeout uint
	f.Flagset.UintVar(
		&timeout,
		"timeout",
		120,
		"timeout in seconds for fetching all blocks",
	)
	f.Parse()
	hashArgs := f.Flagset.Args()
	if f.Address == "" || len(hashArgs) == 0 {
		fmt.Printf(
			"usage: %s -address <host:port> [options] <block hash> [...]\n",
			os.Args[0],
		)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fetcherCfg := fetcher.NewConfig(
		fetcher.WithLogger(logger),
	)
	blockFetcher := fetcher.New(&fetcherCfg)
	defer blockFetcher.Close()

	errorChan := make(chan error, 10)
	go func() {
		for err := range errorChan {
			fmt.Printf("ERROR: %s\n", err)
			os.Exit(1)
		}
	}()

	blockFetchConfig := blockfetch.NewConfig(
		blockfetch.WithBlockFunc(
			func(
				ctx blockfetch.CallbackContext,
				block *btcutil.Block,
			) error {
				blockFetcher.HandleBlock(block)
				return nil
			},
		),
	)
	conn := common.CreateClientConnection(
		f,
		bitnet.WithLogger(logger),
		bitnet.WithErrorChan(errorChan),
		bitnet.WithBlockFetchConfig(blockFetchConfig),
	)
	defer conn.Close()
	blockFetcher.AddPeer(conn)

	points := make([]fetcher.BlockPoint, 0, len(hashArgs))
	for idx, hashArg := range hashArgs {
		hash, err := chainhash.NewHashFromStr(hashArg)
		if err != nil {
			fmt.Printf("invalid block hash %q: %s\n", hashArg, err)
			os.Exit(1)
		}
		points = append(
			points,
			fetcher.BlockPoint{
				Hash:     *hash,
				Priority: uint64(idx), // #nosec G115
			},
		)
	}
	requests := blockFetcher.FetchBlocks(points)

	ctx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(timeout)*time.Second, // #nosec G115
	)
	defer cancel()
	for _, req := range requests {
		block, err := req.Wait(ctx)
		if err != nil {
			fmt.Printf(
				"ERROR: failed to fetch block %s: %s\n",
				req.Hash().String(),
				err,
			)
			os.Exit(1)
		}
		fmt.Printf(
			"block %s: %d transaction(s)\n",
			block.Hash().String(),
			len(block.Transactions()),
		)
	}
	stats := blockFetcher.Stats()
	fmt.Printf(
		"fetched %d block(s) with %d retries\n",
		stats.BlocksReceived,
		stats.Retries,
	)
}
