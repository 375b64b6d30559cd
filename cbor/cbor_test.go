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

package cbor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeIdFromList(t *testing.T) {
	data, err := Encode([]any{uint(3), "payload"})
	require.NoError(t, err)
	id, err := DecodeIdFromList(data)
	require.NoError(t, err)
	assert.Equal(t, 3, id)
}

func TestDecodeIdFromEmptyList(t *testing.T) {
	data, err := Encode([]any{})
	require.NoError(t, err)
	_, err = DecodeIdFromList(data)
	assert.Error(t, err)
}

// Decode must report how many bytes the first item consumed, so multiple
// messages in a single muxer segment can be split apart
func TestDecodeReturnsBytesRead(t *testing.T) {
	part1, err := Encode([]uint{1, 2})
	require.NoError(t, err)
	part2, err := Encode([]uint{3})
	require.NoError(t, err)
	combined := append([]byte{}, part1...)
	combined = append(combined, part2...)
	var dest []uint
	n, err := Decode(combined, &dest)
	require.NoError(t, err)
	assert.Equal(t, len(part1), n)
	assert.Equal(t, []uint{1, 2}, dest)
}
