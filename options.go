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

import "fmt"

// DefaultMaxDisplacements is the default bound on the length of a cuckoo
// eviction chain.
const DefaultMaxDisplacements = 500

const maxMaxDisplacements = 1_000_000

// Option configures a table while it is being created.
type Option interface {
	apply(c *config)
}

type config struct {
	hash             HashFunc
	allocator        Allocator
	maxDisplacements int
	kickSeed         uint64
}

func makeConfig(options []Option) config {
	c := config{
		hash:             Mix,
		allocator:        defaultAllocator{},
		maxDisplacements: DefaultMaxDisplacements,
	}
	for _, op := range options {
		op.apply(&c)
	}
	return c
}

type hashOption struct {
	hash HashFunc
}

func (op hashOption) apply(c *config) {
	c.hash = op.hash
}

// WithHash is an option to specify the hash function a table derives its
// indices from. The default is Mix.
func WithHash(hash HashFunc) Option {
	return hashOption{hash}
}

// Allocator specifies an interface for allocating and releasing the slot
// arrays used by the open-addressing tables (Linear, RobinHood and Cuckoo).
// The default allocator utilizes Go's builtin make() and allows the GC to
// reclaim memory.
//
// If the allocator is manually managing memory then Close must be called on
// the table in order to ensure FreeSlots is called.
type Allocator interface {
	// AllocSlots should return a zeroed slice equivalent to make([]Slot, n).
	AllocSlots(n int) []Slot

	// FreeSlots can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by AllocSlots.
	FreeSlots(v []Slot)
}

type defaultAllocator struct{}

func (defaultAllocator) AllocSlots(n int) []Slot {
	return make([]Slot, n)
}

func (defaultAllocator) FreeSlots(v []Slot) {
}

type allocatorOption struct {
	allocator Allocator
}

func (op allocatorOption) apply(c *config) {
	c.allocator = op.allocator
}

// WithAllocator is an option to specify the Allocator to use for a table's
// slots. Chained ignores it.
func WithAllocator(allocator Allocator) Option {
	return allocatorOption{allocator}
}

type maxDisplacementsOption int

func (op maxDisplacementsOption) apply(c *config) {
	c.maxDisplacements = int(op)
}

// WithMaxDisplacements bounds the number of evictions a single Cuckoo insert
// may perform before it is rolled back. n must be in [1, 1000000]. Other
// variants ignore it.
func WithMaxDisplacements(n int) Option {
	if n < 1 || n > maxMaxDisplacements {
		panic(fmt.Sprintf("hashbench: max displacements %d out of range [1, %d]", n, maxMaxDisplacements))
	}
	return maxDisplacementsOption(n)
}

type kickSeedOption uint64

func (op kickSeedOption) apply(c *config) {
	c.kickSeed = uint64(op)
}

// WithKickSeed seeds the choice of which candidate slot a Cuckoo insert
// evicts first. Successive eviction attempts alternate between the two
// candidates starting from the seed's low bit. Other variants ignore it.
func WithKickSeed(seed uint64) Option {
	return kickSeedOption(seed)
}
