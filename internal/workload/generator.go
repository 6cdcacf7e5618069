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

// Package workload produces the deterministic key and operation sequences the
// experiments apply to a table. A Generator is an owned value: every run
// creates its own, so parallel runs never share generator state.
package workload

import (
	"math/rand/v2"

	"github.com/cockroachdb/hashbench"
)

// Stream selectors for the two PCG sequences derived from one seed. Lookups
// draw from their own stream so the number of lookups never perturbs the
// choice of keys to delete.
const (
	streamOps     = 2000
	streamLookups = 1000
)

// Generator produces fresh keys, uniform picks and operation plans. The same
// seed and run index reproduce the same sequences.
type Generator struct {
	seed    uint64
	ops     *rand.Rand
	lookups *rand.Rand
	salt    uint64
	next    uint64
}

// New returns a Generator seeded with seed+runIndex.
func New(seed uint64, runIndex int) *Generator {
	s := seed + uint64(runIndex)
	return &Generator{
		seed:    s,
		ops:     rand.New(rand.NewPCG(s, streamOps)),
		lookups: rand.New(rand.NewPCG(s, streamLookups)),
		salt:    hashbench.Mix(s),
	}
}

// Seed returns the effective seed, seed+runIndex.
func (g *Generator) Seed() uint64 {
	return g.seed
}

// FreshKey returns a key that this Generator has not returned before. Keys
// are a bijective mix of a counter, so they never repeat within a run.
func (g *Generator) FreshKey() uint64 {
	k := hashbench.Mix(g.salt + g.next)
	g.next++
	return k
}

// Issued returns the number of keys FreshKey has returned.
func (g *Generator) Issued() int {
	return int(g.next)
}

// Pick returns a uniform index in [0, n). n must be positive.
func (g *Generator) Pick(n int) int {
	return g.ops.IntN(n)
}

// Sample appends n keys drawn uniformly, with replacement, from keys to
// dst[:0] and returns the result. keys must not be empty.
func (g *Generator) Sample(keys []uint64, n int, dst []uint64) []uint64 {
	dst = dst[:0]
	for i := 0; i < n; i++ {
		dst = append(dst, keys[g.lookups.IntN(len(keys))])
	}
	return dst
}
