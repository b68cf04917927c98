// Copyright 2026 The Netsync Authors
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

// Package wire implements the chained-HMAC framed command stream that
// carries the synchronization protocol: frame encode/decode (frame.go),
// the MAC chaining construction (hmac.go), and the command payload
// codecs (netcmd.go).
package wire

import (
	"crypto/hmac"
	"crypto/sha1" // nolint:gosec // the wire protocol fixes HMAC-SHA1.
	"hash"
)

// MACSize is the width, in bytes, of every frame's trailing MAC.
const MACSize = sha1.Size

// ChainedHMAC computes the wire protocol's chained message
// authentication code: each frame's MAC is HMAC-SHA1 over the previous
// frame's MAC concatenated with the bytes given to Process, keyed by
// the session key. WriteFrame and ReadFrame pass the frame's version,
// command, length prefix and payload, so every byte before the MAC is
// covered. Grounded on original_source/hmac.{hh,cc}'s chained_hmac.
type ChainedHMAC struct {
	key   []byte
	chain [MACSize]byte
}

// NewChainedHMAC returns a chain seeded with an all-zero initial chain
// value, matching chained_hmac's constructor.
func NewChainedHMAC(key []byte) *ChainedHMAC {
	k := make([]byte, len(key))
	copy(k, key)
	return &ChainedHMAC{key: k}
}

// Process computes the MAC for payload given the chain's current
// state, advances the chain to that MAC, and returns it. Calling
// Process is what both the sender (to produce a frame's trailing MAC)
// and the receiver (to check it) do; the chain only advances forward,
// so a receiver must call Process at most once per frame, in arrival
// order.
func (c *ChainedHMAC) Process(payload []byte) [MACSize]byte {
	h := c.newHash()
	h.Write(c.chain[:])
	h.Write(payload)
	var out [MACSize]byte
	copy(out[:], h.Sum(nil))
	c.chain = out
	return out
}

func (c *ChainedHMAC) newHash() hash.Hash {
	return hmac.New(sha1.New, c.key)
}

// Reset restores the chain to its initial all-zero state, without
// changing the key. Used when a session renegotiates or restarts a
// direction's chain.
func (c *ChainedHMAC) Reset() {
	c.chain = [MACSize]byte{}
}
