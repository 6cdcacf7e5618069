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
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

// toBuiltinMap returns the entries of t as a map. Useful for testing.
func toBuiltinMap(t Table) map[uint64]uint64 {
	r := make(map[uint64]uint64)
	addSlots := func(slots []Slot) {
		for i := range slots {
			if s := &slots[i]; s.state == slotOccupied {
				r[s.key] = s.value
			}
		}
	}
	switch t := t.(type) {
	case *Linear:
		addSlots(t.slots)
	case *RobinHood:
		addSlots(t.slots)
	case *Cuckoo:
		addSlots(t.slots)
	case *Chained:
		for _, b := range t.buckets {
			for _, e := range b {
				r[e.key] = e.value
			}
		}
	}
	return r
}

// randElement returns a uniformly selected key from e.
func randElement(rng *rand.Rand, e map[uint64]uint64) (uint64, bool) {
	if len(e) == 0 {
		return 0, false
	}
	n := rng.IntN(len(e))
	for k := range e {
		if n == 0 {
			return k, true
		}
		n--
	}
	panic("not reached")
}

func constHash(h uint64) HashFunc {
	return func(uint64) uint64 { return h }
}

func TestNew(t *testing.T) {
	for _, v := range Variants {
		t.Run(v.String(), func(t *testing.T) {
			m, err := New(v, 64)
			require.NoError(t, err)
			defer m.Close()
			require.Equal(t, v, m.Variant())
			require.Equal(t, 64, m.Capacity())
			require.Equal(t, 0, m.Len())
			require.Equal(t, v, m.Stats().Variant)
			require.NoError(t, m.Verify())
		})
	}

	for _, c := range []int{0, -1, 3, 100} {
		_, err := New(LinearProbing, c)
		require.ErrorIs(t, err, ErrInvalidCapacity)
	}
	_, err := New(Variant(9), 16)
	require.ErrorIs(t, err, ErrUnknownVariant)
	require.Panics(t, func() { NewCuckoo(12) })
}

func TestParseVariant(t *testing.T) {
	for _, v := range Variants {
		p, err := ParseVariant(v.String())
		require.NoError(t, err)
		require.Equal(t, v, p)
	}
	v, err := ParseVariant("rh")
	require.NoError(t, err)
	require.Equal(t, RobinHoodHashing, v)

	_, err = ParseVariant("QP")
	require.ErrorIs(t, err, ErrUnknownVariant)
	require.Equal(t, "Variant(7)", Variant(7).String())
}

func TestVariantMetrics(t *testing.T) {
	require.True(t, LinearProbing.Metrics().Has(MetricProbe|MetricTombstones))
	require.False(t, LinearProbing.Metrics().Has(MetricChain))
	require.True(t, RobinHoodHashing.Metrics().Has(MetricProbe|MetricTombstones))
	require.True(t, Chaining.Metrics().Has(MetricChain))
	require.False(t, Chaining.Metrics().Has(MetricTombstones))
	require.Equal(t, MetricDisplacement, CuckooHashing.Metrics())
}

func TestBasic(t *testing.T) {
	test := func(t *testing.T, m Table) {
		defer m.Close()
		const count = 100

		e := make(map[uint64]uint64)
		require.EqualValues(t, 0, m.Len())

		// Non-existent.
		for i := uint64(0); i < count; i++ {
			_, ok, _ := m.Lookup(i)
			require.False(t, ok)
		}

		// Insert.
		for i := uint64(0); i < count; i++ {
			_, err := m.Insert(i, i+count)
			require.NoError(t, err)
			e[i] = i + count
			v, ok, _ := m.Lookup(i)
			require.True(t, ok)
			require.EqualValues(t, i+count, v)
			require.EqualValues(t, i+1, m.Len())
			require.Equal(t, e, toBuiltinMap(m))
			require.NoError(t, m.Verify())
		}

		// Update.
		for i := uint64(0); i < count; i++ {
			_, err := m.Insert(i, i+2*count)
			require.NoError(t, err)
			e[i] = i + 2*count
			v, ok, _ := m.Lookup(i)
			require.True(t, ok)
			require.EqualValues(t, i+2*count, v)
			require.EqualValues(t, count, m.Len())
			require.Equal(t, e, toBuiltinMap(m))
		}

		// Delete.
		for i := uint64(0); i < count; i++ {
			ok, _ := m.Delete(i)
			require.True(t, ok)
			delete(e, i)
			require.EqualValues(t, count-i-1, m.Len())
			_, ok, _ = m.Lookup(i)
			require.False(t, ok)
			require.Equal(t, e, toBuiltinMap(m))
			require.NoError(t, m.Verify())
		}
		require.EqualValues(t, 0, m.Stats().FailedInserts)
	}

	for _, v := range Variants {
		t.Run(v.String(), func(t *testing.T) {
			t.Run("normal", func(t *testing.T) {
				m, err := New(v, 256)
				require.NoError(t, err)
				test(t, m)
			})

			// A constant hash leaves a cuckoo key a single usable slot.
			if v == CuckooHashing {
				return
			}
			t.Run("degenerate", func(t *testing.T) {
				for _, h := range []uint64{0, ^uint64(0), rand.Uint64()} {
					t.Run(fmt.Sprintf("%016x", h), func(t *testing.T) {
						m, err := New(v, 128, WithHash(constHash(h)))
						require.NoError(t, err)
						test(t, m)
					})
				}
			})
		})
	}
}

func TestRandom(t *testing.T) {
	// The key space bounds the number of live keys well below capacity so the
	// open-addressing tables never fill. Cuckoo may still exceed its
	// displacement bound, which must leave the contents untouched.
	const capacity = 1024
	const keySpace = 700

	test := func(t *testing.T, m Table, seed uint64) {
		defer m.Close()
		rng := rand.New(rand.NewPCG(seed, seed))
		e := make(map[uint64]uint64)
		var failed int
		for i := 0; i < 10000; i++ {
			switch r := rng.Float64(); {
			case r < 0.5: // 50% inserts
				k, v := rng.Uint64N(keySpace), rng.Uint64()
				if _, err := m.Insert(k, v); err != nil {
					require.Equal(t, CuckooHashing, m.Variant())
					require.ErrorIs(t, err, ErrDisplacementExceeded)
					failed++
				} else {
					e[k] = v
				}
			case r < 0.65: // 15% updates
				if k, ok := randElement(rng, e); ok {
					v := rng.Uint64()
					_, err := m.Insert(k, v)
					require.NoError(t, err)
					e[k] = v
				}
			case r < 0.80: // 15% deletes
				if k, ok := randElement(rng, e); ok {
					ok, _ := m.Delete(k)
					require.True(t, ok)
					delete(e, k)
				}
			default: // 20% lookups
				if k, ok := randElement(rng, e); ok {
					v, ok, _ := m.Lookup(k)
					require.True(t, ok)
					require.EqualValues(t, e[k], v)
				}
			}
			require.EqualValues(t, len(e), m.Len())
			if i%500 == 0 {
				require.NoError(t, m.Verify())
			}
		}
		require.Equal(t, e, toBuiltinMap(m))
		require.NoError(t, m.Verify())
		require.EqualValues(t, failed, m.Stats().FailedInserts)
	}

	for _, v := range Variants {
		t.Run(v.String(), func(t *testing.T) {
			t.Run("normal", func(t *testing.T) {
				m, err := New(v, capacity)
				require.NoError(t, err)
				test(t, m, 1)
			})
			if v == CuckooHashing {
				return
			}
			t.Run("degenerate", func(t *testing.T) {
				for _, h := range []uint64{0, ^uint64(0)} {
					t.Run(fmt.Sprintf("%016x", h), func(t *testing.T) {
						m, err := New(v, capacity, WithHash(constHash(h)))
						require.NoError(t, err)
						test(t, m, h)
					})
				}
			})
		})
	}
}

func TestDeleteAbsent(t *testing.T) {
	for _, v := range Variants {
		t.Run(v.String(), func(t *testing.T) {
			m, err := New(v, 64)
			require.NoError(t, err)
			defer m.Close()
			for i := uint64(0); i < 20; i++ {
				_, err := m.Insert(i, i)
				require.NoError(t, err)
			}
			_, _ = m.Delete(3)
			before := m.Stats()

			for _, k := range []uint64{3, 100, 1 << 40} {
				ok, _ := m.Delete(k)
				require.False(t, ok)
			}
			require.Equal(t, before, m.Stats())
			require.NoError(t, m.Verify())
		})
	}
}

func TestLoadFactor(t *testing.T) {
	for _, v := range Variants {
		t.Run(v.String(), func(t *testing.T) {
			m, err := New(v, 1024)
			require.NoError(t, err)
			defer m.Close()
			for i := uint64(0); i < 256; i++ {
				_, err := m.Insert(i, i)
				require.NoError(t, err)
			}
			require.Equal(t, 0.25, m.Stats().LoadFactor())
			for i := uint64(0); i < 128; i++ {
				_, _ = m.Delete(i)
			}
			require.Equal(t, 0.125, m.Stats().LoadFactor())
		})
	}
	require.Equal(t, 0.0, Stats{}.LoadFactor())
}

type countingAllocator struct {
	alloc int
	free  int
}

func (a *countingAllocator) AllocSlots(n int) []Slot {
	a.alloc++
	return make([]Slot, n)
}

func (a *countingAllocator) FreeSlots(_ []Slot) {
	a.free++
}

func TestAllocator(t *testing.T) {
	for _, v := range []Variant{LinearProbing, RobinHoodHashing, CuckooHashing} {
		t.Run(v.String(), func(t *testing.T) {
			a := &countingAllocator{}
			m, err := New(v, 128, WithAllocator(a))
			require.NoError(t, err)
			for i := uint64(0); i < 50; i++ {
				_, err := m.Insert(i, i)
				require.NoError(t, err)
			}
			require.EqualValues(t, 1, a.alloc)
			require.EqualValues(t, 0, a.free)

			m.Close()
			m.Close()
			require.EqualValues(t, 1, a.free)
		})
	}
}

func TestMmapAllocator(t *testing.T) {
	a := NewMmapAllocator()
	for _, v := range []Variant{LinearProbing, RobinHoodHashing, CuckooHashing} {
		t.Run(v.String(), func(t *testing.T) {
			m, err := New(v, 1<<12, WithAllocator(a))
			require.NoError(t, err)
			for i := uint64(0); i < 1000; i++ {
				_, err := m.Insert(i, i*2)
				require.NoError(t, err)
			}
			for i := uint64(0); i < 1000; i++ {
				v, ok, _ := m.Lookup(i)
				require.True(t, ok)
				require.EqualValues(t, i*2, v)
			}
			require.NoError(t, m.Verify())
			m.Close()
		})
	}
	require.Empty(t, a.regions)
}

func TestOptions(t *testing.T) {
	require.Panics(t, func() { WithMaxDisplacements(0) })
	require.Panics(t, func() { WithMaxDisplacements(maxMaxDisplacements + 1) })
	require.NotPanics(t, func() { WithMaxDisplacements(maxMaxDisplacements) })

	c := makeConfig(nil)
	require.EqualValues(t, DefaultMaxDisplacements, c.maxDisplacements)
	require.EqualValues(t, 0, c.kickSeed)

	c = makeConfig([]Option{WithMaxDisplacements(100), WithKickSeed(7)})
	require.EqualValues(t, 100, c.maxDisplacements)
	require.EqualValues(t, 7, c.kickSeed)
}
