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

// Package cbor provides thin wrappers around the fxamacker/cbor library with
// the encoder/decoder options used by the gobitnet wire format
package cbor

import (
	"bytes"
	"errors"
	"sync"

	_cbor "github.com/fxamacker/cbor/v2"
)

// Create an alias for RawMessage for convenience
type RawMessage = _cbor.RawMessage

// Useful for embedding and easier to remember
type StructAsArray struct {
	// Tells the CBOR decoder to convert to/from a struct and a CBOR array
	_ struct{} `cbor:",toarray"`
}

var (
	cachedEncMode     _cbor.EncMode
	cachedEncModeErr  error
	cachedEncModeOnce sync.Once
)

// getEncMode returns a cached EncMode, initializing it on first use
func getEncMode() (_cbor.EncMode, error) {
	cachedEncModeOnce.Do(func() {
		encOptions := _cbor.EncOptions{
			// Make sure that maps have ordered keys
			Sort: _cbor.SortCoreDeterministic,
		}
		cachedEncMode, cachedEncModeErr = encOptions.EncMode()
	})
	return cachedEncMode, cachedEncModeErr
}

// Encode encodes the provided object to CBOR
func Encode(data any) ([]byte, error) {
	em, err := getEncMode()
	if err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(nil)
	enc := em.NewEncoder(buf)
	err = enc.Encode(data)
	return buf.Bytes(), err
}

// Decode decodes the first CBOR item from the provided data into the
// destination object and returns the number of bytes consumed
func Decode(dataBytes []byte, dest any) (int, error) {
	data := bytes.NewReader(dataBytes)
	dec := _cbor.NewDecoder(data)
	err := dec.Decode(dest)
	return dec.NumBytesRead(), err
}

// DecodeIdFromList extracts the first item from a CBOR list. This is useful
// for determining the message type of a wire message before decoding the
// full message
func DecodeIdFromList(cborData []byte) (int, error) {
	var tmpList []RawMessage
	if _, err := Decode(cborData, &tmpList); err != nil {
		return 0, err
	}
	if len(tmpList) == 0 {
		return 0, errors.New("cannot return first item from empty list")
	}
	var id int
	if _, err := Decode(tmpList[0], &id); err != nil {
		return 0, err
	}
	return id, nil
}
