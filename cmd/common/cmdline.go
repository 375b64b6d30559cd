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

package common

import (
	"flag"
	"fmt"
	"os"
)

type GlobalFlags struct {
	Flagset      *flag.FlagSet
	Address      string
	Network      string
	NetworkMagic uint
}

func NewGlobalFlags() *GlobalFlags {
	f := &GlobalFlags{
		Flagset: flag.NewFlagSet(os.Args[0], flag.ExitOnError),
	}
	f.Flagset.StringVar(
		&f.Address,
		"address",
		"",
		"peer address to connect to (host:port)",
	)
	f.Flagset.StringVar(
		&f.Network,
		"network",
		"mainnet",
		"named network to connect to",
	)
	f.Flagset.UintVar(
		&f.NetworkMagic,
		"network-magic",
		0,
		"network magic value (overrides the named network)",
	)
	return f
}

func (f *GlobalFlags) Parse() {
	if err := f.Flagset.Parse(os.Args[1:]); err != nil {
		fmt.Printf("failed to parse command args: %s\n", err)
		os.Exit(1)
	}
}
