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

// Cuckoo stores every key in one of two candidate slots derived from the low
// and high halves of its hash. Lookups and deletes examine at most those two
// slots.
//
// When both candidates of an arriving key are taken, the insert evicts the
// occupant of one candidate and moves it to its other candidate, repeating
// with whatever that displaces. The chain is bounded by the configured
// maximum number of displacements. Every swap performed is recorded, and if
// the bound is exceeded the swaps are undone in reverse order so the table is
// left exactly as it was before the insert.
type Cuckoo struct {
	hash      HashFunc
	allocator Allocator
	slots     []Slot
	mask      uint64
	used      int
	failed    int
	maxKicks  int
	// side selects which candidate the next eviction chain starts from. It
	// advances once per chain.
	side uint64
	// path holds the slot indices swapped by the current eviction chain.
	path []uint64
}

// NewCuckoo constructs an empty Cuckoo table. It panics if capacity is not a
// power of two.
func NewCuckoo(capacity int, options ...Option) *Cuckoo {
	mask := mustMask(capacity)
	c := makeConfig(options)
	t := &Cuckoo{
		hash:      c.hash,
		allocator: c.allocator,
		slots:     c.allocator.AllocSlots(capacity),
		mask:      mask,
		maxKicks:  c.maxDisplacements,
		side:      c.kickSeed,
	}
	t.checkInvariants()
	return t
}

// find returns the index of key, or -1.
func (t *Cuckoo) find(key uint64, r *Result) int {
	i1, i2 := cuckooIndices(t.hash(key), t.mask)
	r.Probes++
	if s := &t.slots[i1]; s.state == slotOccupied && s.key == key {
		return int(i1)
	}
	r.Probes++
	if s := &t.slots[i2]; s.state == slotOccupied && s.key == key {
		return int(i2)
	}
	return -1
}

// Insert inserts an entry, overwriting the value if the key is present. It
// returns ErrDisplacementExceeded, leaving the table unchanged, if placing the
// key would take more than the configured number of evictions.
func (t *Cuckoo) Insert(key, value uint64) (Result, error) {
	var r Result
	if i := t.find(key, &r); i >= 0 {
		t.slots[i].value = value
		return r, nil
	}

	e := Slot{key: key, value: value, state: slotOccupied}
	i1, i2 := cuckooIndices(t.hash(key), t.mask)
	switch {
	case t.slots[i1].state != slotOccupied:
		t.slots[i1] = e
	case t.slots[i2].state != slotOccupied:
		t.slots[i2] = e
	default:
		i := i1
		if t.side&1 == 1 {
			i = i2
		}
		t.side++
		if !t.evict(i, e, &r) {
			t.failed++
			return r, ErrDisplacementExceeded
		}
	}
	t.used++
	t.checkInvariants()
	return r, nil
}

// evict places e at index i, carrying the previous occupant to its other
// candidate slot until a free slot absorbs it. It returns false, after
// restoring every slot it touched, if the chain exceeds maxKicks.
func (t *Cuckoo) evict(i uint64, e Slot, r *Result) bool {
	t.path = t.path[:0]
	for r.Kicks < t.maxKicks {
		r.Kicks++
		s := &t.slots[i]
		if debug {
			fmt.Printf("cuckoo(evict): index=%d key=%d <- key=%d\n", i, s.key, e.key)
		}
		*s, e = e, *s
		t.path = append(t.path, i)

		a, b := cuckooIndices(t.hash(e.key), t.mask)
		next := a
		if next == i {
			next = b
		}
		if t.slots[next].state != slotOccupied {
			t.slots[next] = e
			return true
		}
		i = next
	}

	// Undo the swaps. Each reverse swap returns the slot's previous occupant
	// and hands back the entry that was carried into it, ending with the
	// entry that was being inserted.
	for j := len(t.path) - 1; j >= 0; j-- {
		s := &t.slots[t.path[j]]
		*s, e = e, *s
	}
	if debug {
		fmt.Printf("cuckoo(evict): key=%d rolled back after %d kicks\n", e.key, r.Kicks)
	}
	return false
}

// Lookup retrieves the value for key, returning ok=false if the key is not
// present.
func (t *Cuckoo) Lookup(key uint64) (value uint64, ok bool, r Result) {
	if i := t.find(key, &r); i >= 0 {
		return t.slots[i].value, true, r
	}
	return 0, false, r
}

// Delete empties the slot holding key. It is a noop to delete a non-existent
// key.
func (t *Cuckoo) Delete(key uint64) (ok bool, r Result) {
	i := t.find(key, &r)
	if i < 0 {
		return false, r
	}
	t.slots[i] = Slot{}
	t.used--
	t.checkInvariants()
	return true, r
}

func (t *Cuckoo) Stats() Stats {
	return Stats{
		Variant:       CuckooHashing,
		Len:           t.used,
		Capacity:      len(t.slots),
		FailedInserts: t.failed,
	}
}

func (t *Cuckoo) Len() int { return t.used }
func (t *Cuckoo) Capacity() int { return len(t.slots) }
func (t *Cuckoo) Variant() Variant { return CuckooHashing }
func (t *Cuckoo) FailedInserts() int { return t.failed }

// Close releases the slots back to the allocator. Close is idempotent.
func (t *Cuckoo) Close() {
	if t.slots != nil {
		t.allocator.FreeSlots(t.slots)
		t.slots = nil
	}
	t.used = 0
	t.path = nil
}

// Verify checks that every key occupies one of its two candidate slots, that
// no key appears twice and that the used count matches.
func (t *Cuckoo) Verify() error {
	var used int
	seen := make(map[uint64]int, t.used)
	for i := range t.slots {
		s := &t.slots[i]
		switch s.state {
		case slotTombstone:
			return fmt.Errorf("slot %d: unexpected tombstone", i)
		case slotOccupied:
			used++
			if j, ok := seen[s.key]; ok {
				return fmt.Errorf("key %d present in slots %d and %d", s.key, j, i)
			}
			seen[s.key] = i
			if i1, i2 := cuckooIndices(t.hash(s.key), t.mask); uint64(i) != i1 && uint64(i) != i2 {
				return fmt.Errorf("slot %d: key %d not in a candidate slot (%d, %d)", i, s.key, i1, i2)
			}
		}
	}
	if used != t.used {
		return fmt.Errorf("found %d used slots, but used count is %d", used, t.used)
	}
	return nil
}

func (t *Cuckoo) checkInvariants() {
	if invariants {
		if err := t.Verify(); err != nil {
			panic(fmt.Sprintf("invariant failed: %v\n%s", err, slotsString(t.slots, t.hash, t.mask)))
		}
	}
}
