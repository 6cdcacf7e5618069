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

// Package hashbench implements four fixed-capacity hash tables keyed by
// uint64 that differ only in how they resolve collisions:
//
//   - Linear: open addressing with linear probing and tombstones.
//   - RobinHood: linear probing where an arriving entry steals the slot of a
//     resident that is closer to its home index, bounding the variance of
//     probe distances.
//   - Chained: one growable bucket per index.
//   - Cuckoo: two candidate slots per key and a bounded eviction chain that is
//     rolled back when it exceeds its limit.
//
// All four share the Table contract so experiment drivers can exercise them
// interchangeably and compare their latency and structural behavior. The
// tables never resize: capacity is a power of two fixed at construction. A
// Table is NOT goroutine-safe.
//
// Every table derives its indices from a single 64-bit hash evaluation. By
// default this is Mix, the splitmix64 finalizer. Linear, RobinHood and
// Chained use the low bits (h & (capacity-1)). Cuckoo splits the hash into
// its low and high 32-bit halves to form two candidate indices.
package hashbench

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// DefaultCapacity is the capacity used by the experiments: 2^20 slots.
const DefaultCapacity = 1 << 20

var (
	// ErrInsertFull is returned by Linear and RobinHood when an insert wraps
	// the entire table without finding a usable slot.
	ErrInsertFull = errors.New("hashbench: table is full")
	// ErrDisplacementExceeded is returned by Cuckoo when an eviction chain
	// exceeds the configured bound. The table is left as it was before the
	// insert.
	ErrDisplacementExceeded = errors.New("hashbench: cuckoo displacement bound exceeded")
	// ErrInvalidCapacity is returned by New for a capacity that is not a
	// positive power of two.
	ErrInvalidCapacity = errors.New("hashbench: capacity must be a positive power of two")
	// ErrUnknownVariant is returned when parsing an unrecognized variant.
	ErrUnknownVariant = errors.New("hashbench: unknown variant")
	// ErrUnknownHash is returned by HashByName for an unrecognized name.
	ErrUnknownHash = errors.New("hashbench: unknown hash function")
)

// Variant identifies one of the collision-resolution strategies.
type Variant uint8

const (
	LinearProbing Variant = iota
	RobinHoodHashing
	Chaining
	CuckooHashing
)

// Variants lists every variant in reporting order.
var Variants = []Variant{LinearProbing, RobinHoodHashing, Chaining, CuckooHashing}

var variantNames = [...]string{
	LinearProbing:    "LP",
	RobinHoodHashing: "RH",
	Chaining:         "CH",
	CuckooHashing:    "CU",
}

func (v Variant) String() string {
	if int(v) < len(variantNames) {
		return variantNames[v]
	}
	return fmt.Sprintf("Variant(%d)", uint8(v))
}

// ParseVariant parses the short name of a variant ("LP", "RH", "CH" or
// "CU"), ignoring case.
func ParseVariant(s string) (Variant, error) {
	for i, name := range variantNames {
		if strings.EqualFold(s, name) {
			return Variant(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownVariant, s)
}

// Op identifies one of the operations of the Table contract.
type Op uint8

const (
	OpInsert Op = iota
	OpLookup
	OpDelete
	// NumOps is the number of distinct operations.
	NumOps = 3
)

var opNames = [NumOps]string{
	OpInsert: "insert",
	OpLookup: "lookup",
	OpDelete: "delete",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// Metric is a set of structural metrics a variant reports.
type Metric uint8

const (
	MetricProbe Metric = 1 << iota
	MetricChain
	MetricDisplacement
	MetricTombstones
)

// Metrics returns the structural metrics that are meaningful for v. Failed
// inserts are meaningful for every variant.
func (v Variant) Metrics() Metric {
	switch v {
	case LinearProbing, RobinHoodHashing:
		return MetricProbe | MetricTombstones
	case Chaining:
		return MetricProbe | MetricChain
	case CuckooHashing:
		return MetricDisplacement
	}
	return 0
}

// Has reports whether m contains every metric in o.
func (m Metric) Has(o Metric) bool {
	return m&o == o
}

// Result holds the structural cost of a single operation.
type Result struct {
	// Probes is the number of slots (or chain entries) examined, including
	// any Robin Hood displacement steps.
	Probes int
	// Kicks is the number of cuckoo evictions performed.
	Kicks int
	// Chain is the length of the bucket touched by a Chained operation,
	// measured after the operation.
	Chain int
}

// Stats is a point-in-time snapshot of a table's structural counters.
type Stats struct {
	Variant       Variant
	Len           int
	Capacity      int
	Tombstones    int
	FailedInserts int
	// The chain fields are only populated by Chained. AvgChain averages over
	// non-empty buckets.
	NonEmptyBuckets int
	AvgChain        float64
	MaxChain        int
}

// LoadFactor returns Len/Capacity.
func (s Stats) LoadFactor() float64 {
	if s.Capacity == 0 {
		return 0
	}
	return float64(s.Len) / float64(s.Capacity)
}

// Table is the capability set shared by every variant.
type Table interface {
	// Insert inserts key or overwrites the value of an existing key. A
	// failed insert returns ErrInsertFull or ErrDisplacementExceeded and
	// leaves the table unchanged.
	Insert(key, value uint64) (Result, error)
	// Lookup returns the value for key and whether it was present.
	Lookup(key uint64) (value uint64, ok bool, r Result)
	// Delete removes key. Deleting an absent key is a no-op.
	Delete(key uint64) (ok bool, r Result)
	// Stats returns the current structural counters.
	Stats() Stats
	// Len returns the number of keys present.
	Len() int
	// Capacity returns the fixed number of slots or buckets.
	Capacity() int
	Variant() Variant
	// Verify checks the variant's structural invariants, returning a
	// description of the first violation found.
	Verify() error
	// Close releases the backing storage to the configured allocator. It is
	// invalid to use a table after it has been closed.
	Close()
}

var (
	_ Table = (*Linear)(nil)
	_ Table = (*RobinHood)(nil)
	_ Table = (*Chained)(nil)
	_ Table = (*Cuckoo)(nil)
)

// New constructs an empty table of the given variant.
func New(v Variant, capacity int, options ...Option) (Table, error) {
	if !isPowerOfTwo(capacity) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	switch v {
	case LinearProbing:
		return NewLinear(capacity, options...), nil
	case RobinHoodHashing:
		return NewRobinHood(capacity, options...), nil
	case Chaining:
		return NewChained(capacity, options...), nil
	case CuckooHashing:
		return NewCuckoo(capacity, options...), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownVariant, v)
}

func isPowerOfTwo(n int) bool {
	return n > 0 && bits.OnesCount(uint(n)) == 1
}

func mustMask(capacity int) uint64 {
	if !isPowerOfTwo(capacity) {
		panic(fmt.Sprintf("%s: %d", ErrInvalidCapacity, capacity))
	}
	return uint64(capacity - 1)
}
