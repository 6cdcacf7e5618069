// Copyright 2024 The Cockroach Authors
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

package hashbench

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
	"github.com/zeebo/xxh3"
)

// HashFunc maps a key to a 64-bit hash from which slot indices are derived.
type HashFunc func(key uint64) uint64

// Mix is the splitmix64 finalizer. It is a bijection on uint64, so distinct
// keys never collide before masking.
func Mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// XXHash hashes the little-endian encoding of key with xxhash64.
func XXHash(key uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	return xxhash.Sum64(buf[:])
}

// XXH3 hashes the little-endian encoding of key with xxh3.
func XXH3(key uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	return xxh3.Hash(buf[:])
}

// Murmur3 hashes the little-endian encoding of key with 64-bit murmur3.
func Murmur3(key uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	return murmur3.Sum64(buf[:])
}

var hashFuncs = map[string]HashFunc{
	"mix":     Mix,
	"xxhash":  XXHash,
	"xxh3":    XXH3,
	"murmur3": Murmur3,
}

// HashNames lists the names accepted by HashByName.
var HashNames = []string{"mix", "xxhash", "xxh3", "murmur3"}

// HashByName returns the hash function registered under name.
func HashByName(name string) (HashFunc, error) {
	if h, ok := hashFuncs[name]; ok {
		return h, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownHash, name)
}

// home returns the home index of hash h in a table with the given mask.
func home(h, mask uint64) uint64 {
	return h & mask
}

// cuckooIndices derives both cuckoo candidate indices from the two 32-bit
// halves of one hash value.
func cuckooIndices(h, mask uint64) (uint64, uint64) {
	return uint64(uint32(h)) & mask, (h >> 32) & mask
}
