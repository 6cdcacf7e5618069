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
	"unsafe"

	"github.com/edsrzf/mmap-go"
)

const debug = false

// slotState is the tag of an open-addressing slot. The zero value is
// slotEmpty so a zeroed slot array is an empty table.
type slotState uint8

const (
	slotEmpty slotState = iota
	slotOccupied
	slotTombstone
)

// Slot holds a key and value along with its state. Slot contains no
// pointers, which allows slot arrays to live outside the Go heap.
type Slot struct {
	key   uint64
	value uint64
	// dist is the distance from the home index at the time of placement.
	// Only RobinHood maintains it, including on tombstones.
	dist  uint32
	state slotState
}

// slotsString renders a slot array for invariant failure messages.
func slotsString(slots []Slot, hash HashFunc, mask uint64) string {
	var buf strings.Builder
	for i := range slots {
		s := &slots[i]
		switch s.state {
		case slotEmpty:
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
		case slotTombstone:
			fmt.Fprintf(&buf, "  %4d: tombstone [dist=%d]\n", i, s.dist)
		default:
			fmt.Fprintf(&buf, "  %4d: %d=%d [home=%d dist=%d]\n",
				i, s.key, s.value, home(hash(s.key), mask), s.dist)
		}
	}
	return buf.String()
}

// MmapAllocator allocates slot arrays in anonymous memory mappings outside
// the Go heap. The mappings are released by FreeSlots, so tables using it
// must be closed.
type MmapAllocator struct {
	regions map[*Slot]mmap.MMap
}

// NewMmapAllocator returns an allocator backed by anonymous mappings.
func NewMmapAllocator() *MmapAllocator {
	return &MmapAllocator{regions: make(map[*Slot]mmap.MMap)}
}

// AllocSlots maps a zero-filled region large enough for n slots. It panics
// if the mapping cannot be created.
func (a *MmapAllocator) AllocSlots(n int) []Slot {
	if n == 0 {
		return nil
	}
	size := n * int(unsafe.Sizeof(Slot{}))
	m, err := mmap.MapRegion(nil, size, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		panic(fmt.Sprintf("hashbench: mmap %d bytes: %v", size, err))
	}
	slots := unsafeConvertSlice[Slot]([]byte(m))[:n]
	a.regions[&slots[0]] = m
	return slots
}

// FreeSlots unmaps a region previously returned by AllocSlots.
func (a *MmapAllocator) FreeSlots(v []Slot) {
	if len(v) == 0 {
		return
	}
	m, ok := a.regions[&v[0]]
	if !ok {
		return
	}
	delete(a.regions, &v[0])
	if err := m.Unmap(); err != nil {
		panic(fmt.Sprintf("hashbench: munmap: %v", err))
	}
}

func unsafeConvertSlice[Dest any, Src any](s []Src) []Dest {
	var d Dest
	var e Src
	n := len(s) * int(unsafe.Sizeof(e)) / int(unsafe.Sizeof(d))
	return unsafe.Slice((*Dest)(unsafe.Pointer(unsafe.SliceData(s))), n)
}
