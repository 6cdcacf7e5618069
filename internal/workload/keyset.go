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

package workload

// KeySet tracks the keys currently present in a table. Order is not
// meaningful: removal moves the last key into the hole.
type KeySet struct {
	keys []uint64
}

// NewKeySet returns an empty KeySet with room for n keys.
func NewKeySet(n int) *KeySet {
	return &KeySet{keys: make([]uint64, 0, n)}
}

func (s *KeySet) Add(k uint64) {
	s.keys = append(s.keys, k)
}

func (s *KeySet) Len() int {
	return len(s.keys)
}

func (s *KeySet) At(i int) uint64 {
	return s.keys[i]
}

// Keys returns the keys. The slice is shared with the KeySet and is only
// valid until the next mutation.
func (s *KeySet) Keys() []uint64 {
	return s.keys
}

// RemoveAt removes and returns the key at index i.
func (s *KeySet) RemoveAt(i int) uint64 {
	k := s.keys[i]
	last := len(s.keys) - 1
	s.keys[i] = s.keys[last]
	s.keys = s.keys[:last]
	return k
}

// Random returns the index of a uniformly chosen key. The set must not be
// empty.
func (s *KeySet) Random(g *Generator) int {
	return g.Pick(len(s.keys))
}
