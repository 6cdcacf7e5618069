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

// RobinHood is a linear probing table where every occupied slot records its
// distance from its home index. An arriving entry that has travelled further
// than a resident takes the resident's slot and the resident continues the
// probe ("take from the rich"). This keeps probe distances tightly grouped
// and lets lookups stop as soon as they reach a resident closer to its home
// than the key being searched for would be.
//
// Deletion leaves a tombstone that keeps the distance of the entry it
// replaced. The early termination rule relies on the property that for every
// key K stored at index p, each slot i on the path [home(K), p) holds an
// entry (or tombstone) whose distance is >= i-home(K). A tombstone may
// therefore only be reused by an entry whose distance at that slot is at
// least the tombstone's distance; any other entry placed there could cut off
// the probe path of a key stored further along. If an insert finds no
// eligible tombstone and no empty slot to end a displacement chain, the table
// is rehashed in place to discard the tombstones.
type RobinHood struct {
	hash       HashFunc
	allocator  Allocator
	slots      []Slot
	mask       uint64
	used       int
	tombstones int
	failed     int
	rehashes   int
}

// NewRobinHood constructs an empty RobinHood table. It panics if capacity is
// not a power of two.
func NewRobinHood(capacity int, options ...Option) *RobinHood {
	mask := mustMask(capacity)
	c := makeConfig(options)
	t := &RobinHood{
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
// The walk is a find composed with a displacing insert. While searching we
// remember the first tombstone the entry may reuse. The search ends at an
// empty slot, a match, or a resident with a smaller distance (the key cannot
// be further along). Absent a match the entry goes into the remembered
// tombstone or, failing that, starts displacing entries at the slot where the
// search ended.
func (t *RobinHood) Insert(key, value uint64) (Result, error) {
	var r Result
	i := home(t.hash(key), t.mask)
	reuse, reuseDist := -1, uint32(0)
	stopped := false
	var d uint32
	for n := uint64(0); n <= t.mask && !stopped; n++ {
		r.Probes++
		s := &t.slots[i]
		switch s.state {
		case slotOccupied:
			if s.key == key {
				s.value = value
				return r, nil
			}
			stopped = s.dist < d
		case slotTombstone:
			if reuse < 0 && d >= s.dist {
				reuse, reuseDist = int(i), d
			}
		case slotEmpty:
			stopped = true
		}
		if !stopped {
			i = (i + 1) & t.mask
			d++
		}
	}

	e := Slot{key: key, value: value, dist: d, state: slotOccupied}
	switch {
	case reuse >= 0:
		e.dist = reuseDist
		t.put(uint64(reuse), e)
	case !stopped, t.slots[i].state == slotOccupied && t.used+t.tombstones == len(t.slots):
		// Either the walk wrapped the whole table, or no empty slot remains
		// to terminate a displacement chain. The key is absent in both cases.
		if t.used == len(t.slots) {
			t.failed++
			return r, ErrInsertFull
		}
		// Tombstones are all that stand in the way. Discard them and retry,
		// which cannot fail again.
		t.rehashInPlace()
		rr, err := t.Insert(key, value)
		r.Probes += rr.Probes
		return r, err
	default:
		t.displace(i, e, &r)
	}
	t.used++
	t.checkInvariants()
	return r, nil
}

// displace stores e at index i and pushes residents forward until an empty
// slot or a reusable tombstone absorbs the entry being carried. The caller
// guarantees that an empty slot exists, which bounds the walk.
func (t *RobinHood) displace(i uint64, e Slot, r *Result) {
	for {
		s := &t.slots[i]
		switch s.state {
		case slotEmpty:
			*s = e
			return
		case slotTombstone:
			if e.dist >= s.dist {
				t.put(i, e)
				return
			}
		case slotOccupied:
			if s.dist < e.dist {
				if debug {
					fmt.Printf("robinhood(displace): index=%d key=%d dist=%d <- key=%d dist=%d\n",
						i, s.key, s.dist, e.key, e.dist)
				}
				*s, e = e, *s
			}
		}
		i = (i + 1) & t.mask
		e.dist++
		r.Probes++
	}
}

// rehashInPlace discards every tombstone by re-inserting the present entries
// into a cleared slot array.
func (t *RobinHood) rehashInPlace() {
	if debug {
		fmt.Printf("robinhood(rehashInPlace): used=%d tombstones=%d\n", t.used, t.tombstones)
	}
	live := make([]Slot, 0, t.used)
	for i := range t.slots {
		if s := &t.slots[i]; s.state == slotOccupied {
			live = append(live, *s)
		}
	}
	clear(t.slots)
	t.tombstones = 0
	var r Result
	for _, s := range live {
		s.dist = 0
		t.displace(home(t.hash(s.key), t.mask), s, &r)
	}
	t.rehashes++
	t.checkInvariants()
}

// put overwrites the slot at index i with e, reclaiming a tombstone.
func (t *RobinHood) put(i uint64, e Slot) {
	s := &t.slots[i]
	if s.state == slotTombstone {
		t.tombstones--
	}
	*s = e
}

// find returns the index of key, or -1.
func (t *RobinHood) find(key uint64, r *Result) int {
	i := home(t.hash(key), t.mask)
	var d uint32
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
			if s.dist < d {
				return -1
			}
		}
		i = (i + 1) & t.mask
		d++
	}
	return -1
}

// Lookup retrieves the value for key, returning ok=false if the key is not
// present.
func (t *RobinHood) Lookup(key uint64) (value uint64, ok bool, r Result) {
	if i := t.find(key, &r); i >= 0 {
		return t.slots[i].value, true, r
	}
	return 0, false, r
}

// Delete replaces the slot holding key with a tombstone that keeps the
// slot's distance. It is a noop to delete a non-existent key.
func (t *RobinHood) Delete(key uint64) (ok bool, r Result) {
	i := t.find(key, &r)
	if i < 0 {
		return false, r
	}
	s := &t.slots[i]
	*s = Slot{dist: s.dist, state: slotTombstone}
	t.used--
	t.tombstones++
	t.checkInvariants()
	return true, r
}

func (t *RobinHood) Stats() Stats {
	return Stats{
		Variant:       RobinHoodHashing,
		Len:           t.used,
		Capacity:      len(t.slots),
		Tombstones:    t.tombstones,
		FailedInserts: t.failed,
	}
}

func (t *RobinHood) Len() int { return t.used }
func (t *RobinHood) Capacity() int { return len(t.slots) }
func (t *RobinHood) Variant() Variant { return RobinHoodHashing }
func (t *RobinHood) Tombstones() int { return t.tombstones }
func (t *RobinHood) FailedInserts() int { return t.failed }

// Rehashes returns the number of times tombstones had to be discarded to make
// room for an insert.
func (t *RobinHood) Rehashes() int { return t.rehashes }

// MaxDistance returns the largest distance of any present entry.
func (t *RobinHood) MaxDistance() int {
	var max uint32
	for i := range t.slots {
		if s := &t.slots[i]; s.state == slotOccupied && s.dist > max {
			max = s.dist
		}
	}
	return int(max)
}

// Close releases the slots back to the allocator. Close is idempotent.
func (t *RobinHood) Close() {
	if t.slots != nil {
		t.allocator.FreeSlots(t.slots)
		t.slots = nil
	}
	t.used, t.tombstones = 0, 0
}

// Verify checks the counters, key uniqueness, that every stored distance is
// the entry's actual distance from home, and that every slot on each key's
// probe path is non-empty with a distance (tombstones included) no smaller
// than the key's would be there.
func (t *RobinHood) Verify() error {
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
			h := home(t.hash(s.key), t.mask)
			if want := uint32((uint64(i) - h) & t.mask); s.dist != want {
				return fmt.Errorf("slot %d: key %d has dist %d, expected %d", i, s.key, s.dist, want)
			}
			var d uint32
			for j := h; j != uint64(i); j = (j + 1) & t.mask {
				p := &t.slots[j]
				if p.state == slotEmpty {
					return fmt.Errorf("slot %d: key %d unreachable: empty slot %d on its probe path", i, s.key, j)
				}
				if p.dist < d {
					return fmt.Errorf("slot %d: key %d unreachable: slot %d has dist %d < %d", i, s.key, j, p.dist, d)
				}
				d++
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

func (t *RobinHood) checkInvariants() {
	if invariants {
		if err := t.Verify(); err != nil {
			panic(fmt.Sprintf("invariant failed: %v\n%s", err, slotsString(t.slots, t.hash, t.mask)))
		}
	}
}
