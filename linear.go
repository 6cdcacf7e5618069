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

// Linear is an open-addressing table using linear probing. Deletion leaves a
// tombstone which continues probe sequences and is reused by later inserts.
type Linear struct {
	hash      HashFunc
	allocator Allocator
	slots     []Slot
	// The capacity is a power of two so mask computes i%capacity.
	mask       uint64
	used       int
	tombstones int
	failed     int
}

// NewLinear constructs an empty Linear table. It panics if capacity is not a
// power of two.
func NewLinear(capacity int, options ...Option) *Linear {
	mask := mustMask(capacity)
	c := makeConfig(options)
	t := &Linear{
		hash:      c.hash,
		allocator: c.allocator,
		slots:     c.allocator.AllocSlots(capacity),
		mask:      mask,
	}
	t.checkInvariants()
	return t
}

// Insert inserts an entry, overwriting the value if the key is present.
//
// Tombstones cannot stop the scan: the key may live beyond one. The scan
// continues to the first empty slot and the entry is then placed into the
// first tombstone passed, if any.
func (t *Linear) Insert(key, value uint64) (Result, error) {
	var r Result
	i := home(t.hash(key), t.mask)
	reuse := -1
	for n := uint64(0); n <= t.mask; n++ {
		r.Probes++
		s := &t.slots[i]
		switch s.state {
		case slotOccupied:
			if s.key == key {
				s.value = value
				return r, nil
			}
		case slotTombstone:
			if reuse < 0 {
				reuse = int(i)
			}
		case slotEmpty:
			if reuse >= 0 {
				i = uint64(reuse)
			}
			t.place(i, key, value)
			return r, nil
		}
		i = (i + 1) & t.mask
	}

	// Wrapped the whole table without seeing an empty slot.
	if reuse >= 0 {
		t.place(uint64(reuse), key, value)
		return r, nil
	}
	t.failed++
	return r, ErrInsertFull
}

func (t *Linear) place(i uint64, key, value uint64) {
	s := &t.slots[i]
	if s.state == slotTombstone {
		t.tombstones--
	}
	*s = Slot{key: key, value: value, state: slotOccupied}
	t.used++
	t.checkInvariants()
}

// find returns the index of key, or -1.
func (t *Linear) find(key uint64, r *Result) int {
	i := home(t.hash(key), t.mask)
	for n := uint64(0); n <= t.mask; n++ {
		r.Probes++
		s := &t.slots[i]
		switch s.state {
		case slotEmpty:
			return -1
		case slotOccupied:
			if s.key == key {
				return int(i)
			}
		}
		i = (i + 1) & t.mask
	}
	return -1
}

// Lookup retrieves the value for key, returning ok=false if the key is not
// present.
func (t *Linear) Lookup(key uint64) (value uint64, ok bool, r Result) {
	if i := t.find(key, &r); i >= 0 {
		return t.slots[i].value, true, r
	}
	return 0, false, r
}

// Delete replaces the slot holding key with a tombstone. It is a noop to
// delete a non-existent key.
func (t *Linear) Delete(key uint64) (ok bool, r Result) {
	i := t.find(key, &r)
	if i < 0 {
		return false, r
	}
	t.slots[i] = Slot{state: slotTombstone}
	t.used--
	t.tombstones++
	t.checkInvariants()
	return true, r
}

func (t *Linear) Stats() Stats {
	return Stats{
		Variant:       LinearProbing,
		Len:           t.used,
		Capacity:      len(t.slots),
		Tombstones:    t.tombstones,
		FailedInserts: t.failed,
	}
}

func (t *Linear) Len() int { return t.used }
func (t *Linear) Capacity() int { return len(t.slots) }
func (t *Linear) Variant() Variant { return LinearProbing }
func (t *Linear) Tombstones() int { return t.tombstones }
func (t *Linear) FailedInserts() int { return t.failed }

// Close releases the slots back to the allocator. Close is idempotent.
func (t *Linear) Close() {
	if t.slots != nil {
		t.allocator.FreeSlots(t.slots)
		t.slots = nil
	}
	t.used, t.tombstones = 0, 0
}

// Verify checks that the counters match the slots, that no key appears
// twice and that every key is reachable from its home index without
// crossing an empty slot.
func (t *Linear) Verify() error {
	var used, tombstones int
	seen := make(map[uint64]int, t.used)
	for i := range t.slots {
		s := &t.slots[i]
		switch s.state {
		case slotTombstone:
			tombstones++
		case slotOccupied:
			used++
			if j, ok := seen[s.key]; ok {
				return fmt.Errorf("key %d present in slots %d and %d", s.key, j, i)
			}
			seen[s.key] = i
			for j := home(t.hash(s.key), t.mask); j != uint64(i); j = (j + 1) & t.mask {
				if t.slots[j].state == slotEmpty {
					return fmt.Errorf("slot %d: key %d unreachable: empty slot %d on its probe path", i, s.key, j)
				}
			}
		}
	}
	if used != t.used {
		return fmt.Errorf("found %d used slots, but used count is %d", used, t.used)
	}
	if tombstones != t.tombstones {
		return fmt.Errorf("found %d tombstones, but tombstone count is %d", tombstones, t.tombstones)
	}
	return nil
}

func (t *Linear) checkInvariants() {
	if invariants {
		if err := t.Verify(); err != nil {
			panic(fmt.Sprintf("invariant failed: %v\n%s", err, slotsString(t.slots, t.hash, t.mask)))
		}
	}
}
