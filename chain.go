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
	"fmt"
	"strings"
)

type entry struct {
	key   uint64
	value uint64
}

// Chained resolves collisions by keeping a growable bucket per index.
// Deletion removes the entry outright, so Chained never has tombstones and
// never fails an insert.
type Chained struct {
	hash     HashFunc
	buckets  [][]entry
	mask     uint64
	used     int
	nonEmpty int
}

// NewChained constructs an empty Chained table with capacity buckets. It
// panics if capacity is not a power of two.
func NewChained(capacity int, options ...Option) *Chained {
	mask := mustMask(capacity)
	c := makeConfig(options)
	t := &Chained{
		hash:    c.hash,
		buckets: make([][]entry, capacity),
		mask:    mask,
	}
	t.checkInvariants()
	return t
}

func (t *Chained) bucket(key uint64) *[]entry {
	return &t.buckets[home(t.hash(key), t.mask)]
}

// Insert appends an entry to the key's bucket, overwriting the value if the
// key is present.
func (t *Chained) Insert(key, value uint64) (Result, error) {
	var r Result
	b := t.bucket(key)
	for i := range *b {
		r.Probes++
		if e := &(*b)[i]; e.key == key {
			e.value = value
			r.Chain = len(*b)
			return r, nil
		}
	}
	r.Probes++
	if len(*b) == 0 {
		t.nonEmpty++
	}
	*b = append(*b, entry{key: key, value: value})
	t.used++
	r.Chain = len(*b)
	t.checkInvariants()
	return r, nil
}

// Lookup retrieves the value for key, returning ok=false if the key is not
// present.
func (t *Chained) Lookup(key uint64) (value uint64, ok bool, r Result) {
	b := *t.bucket(key)
	r.Chain = len(b)
	for i := range b {
		r.Probes++
		if b[i].key == key {
			return b[i].value, true, r
		}
	}
	return 0, false, r
}

// Delete removes key from its bucket. Order within a bucket is not
// significant, so the last entry is moved into the hole. It is a noop to
// delete a non-existent key.
func (t *Chained) Delete(key uint64) (ok bool, r Result) {
	b := t.bucket(key)
	for i := range *b {
		r.Probes++
		if (*b)[i].key != key {
			continue
		}
		last := len(*b) - 1
		(*b)[i] = (*b)[last]
		*b = (*b)[:last]
		if last == 0 {
			t.nonEmpty--
		}
		t.used--
		r.Chain = len(*b)
		t.checkInvariants()
		return true, r
	}
	r.Chain = len(*b)
	return false, r
}

// Stats includes the bucket length distribution. MaxChain requires a scan of
// every bucket.
func (t *Chained) Stats() Stats {
	s := Stats{
		Variant:         Chaining,
		Len:             t.used,
		Capacity:        len(t.buckets),
		NonEmptyBuckets: t.nonEmpty,
		MaxChain:        t.MaxChain(),
	}
	if t.nonEmpty > 0 {
		s.AvgChain = float64(t.used) / float64(t.nonEmpty)
	}
	return s
}

// MaxChain returns the length of the longest bucket.
func (t *Chained) MaxChain() int {
	var max int
	for _, b := range t.buckets {
		if len(b) > max {
			max = len(b)
		}
	}
	return max
}

func (t *Chained) Len() int { return t.used }
func (t *Chained) Capacity() int { return len(t.buckets) }
func (t *Chained) Variant() Variant { return Chaining }

// Close drops the buckets. Close is idempotent.
func (t *Chained) Close() {
	t.buckets = nil
	t.used, t.nonEmpty = 0, 0
}

// Verify checks that every key lives in the bucket its hash selects, that no
// key appears twice and that the counters match the bucket lengths.
func (t *Chained) Verify() error {
	var used, nonEmpty int
	seen := make(map[uint64]uint64, t.used)
	for i, b := range t.buckets {
		if len(b) > 0 {
			nonEmpty++
		}
		used += len(b)
		for _, e := range b {
			if j, ok := seen[e.key]; ok {
				return fmt.Errorf("key %d present in buckets %d and %d", e.key, j, i)
			}
			seen[e.key] = uint64(i)
			if h := home(t.hash(e.key), t.mask); h != uint64(i) {
				return fmt.Errorf("bucket %d: key %d belongs in bucket %d", i, e.key, h)
			}
		}
	}
	if used != t.used {
		return fmt.Errorf("bucket lengths sum to %d, but used count is %d", used, t.used)
	}
	if nonEmpty != t.nonEmpty {
		return fmt.Errorf("found %d non-empty buckets, but count is %d", nonEmpty, t.nonEmpty)
	}
	return nil
}

func (t *Chained) checkInvariants() {
	if invariants {
		if err := t.Verify(); err != nil {
			panic(fmt.Sprintf("invariant failed: %v\n%s", err, t.debugString()))
		}
	}
}

func (t *Chained) debugString() string {
	var buf strings.Builder
	for i, b := range t.buckets {
		if len(b) == 0 {
			continue
		}
		fmt.Fprintf(&buf, "  %4d:", i)
		for _, e := range b {
			fmt.Fprintf(&buf, " %d=%d", e.key, e.value)
		}
		buf.WriteString("\n")
	}
	return buf.String()
}
