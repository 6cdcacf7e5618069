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
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func identityHash(k uint64) uint64 {
	return k
}

// cuckooKey builds a key that, under identityHash, has candidate slots i1
// and i2 in any table of capacity <= 256. The tag distinguishes keys with the
// same candidates.
func cuckooKey(i1, i2, tag uint64) uint64 {
	return i2<<32 | tag<<8 | i1
}

func TestCuckooScenario(t *testing.T) {
	m := NewCuckoo(16, WithMaxDisplacements(100))
	defer m.Close()

	e := make(map[uint64]uint64)
	var failed int
	for k := uint64(0); k < 20; k++ {
		before := slices.Clone(m.slots)
		r, err := m.Insert(k, k+1)
		if err != nil {
			require.ErrorIs(t, err, ErrDisplacementExceeded)
			require.Equal(t, 100, r.Kicks)
			failed++
			require.Equal(t, before, m.slots)
		} else {
			e[k] = k + 1
		}
		require.Equal(t, failed, m.FailedInserts())
		require.Equal(t, len(e), m.Len())
		require.NoError(t, m.Verify())
	}
	require.GreaterOrEqual(t, failed, 4)
	require.Equal(t, e, toBuiltinMap(m))
	for k, v := range e {
		got, ok, _ := m.Lookup(k)
		require.True(t, ok)
		require.Equal(t, v, got)
	}
}

func TestCuckooDirect(t *testing.T) {
	m := NewCuckoo(8, WithHash(identityHash))
	defer m.Close()
	a, b := cuckooKey(3, 5, 1), cuckooKey(3, 5, 2)

	r, err := m.Insert(a, 1)
	require.NoError(t, err)
	require.Equal(t, 0, r.Kicks)
	require.Equal(t, a, m.slots[3].key)

	_, err = m.Insert(b, 2)
	require.NoError(t, err)
	require.Equal(t, b, m.slots[5].key)

	_, ok, r := m.Lookup(b)
	require.True(t, ok)
	require.Equal(t, 2, r.Probes)

	ok, _ = m.Delete(a)
	require.True(t, ok)
	require.Equal(t, slotEmpty, m.slots[3].state)
	require.Equal(t, 1, m.Len())
	require.NoError(t, m.Verify())
}

func TestCuckooEviction(t *testing.T) {
	a, b, c := cuckooKey(0, 1, 1), cuckooKey(1, 2, 1), cuckooKey(0, 1, 2)

	t.Run("first", func(t *testing.T) {
		m := NewCuckoo(8, WithHash(identityHash))
		defer m.Close()
		for _, k := range []uint64{a, b} {
			_, err := m.Insert(k, k)
			require.NoError(t, err)
		}
		// c evicts a from slot 0, a evicts b from slot 1 and b settles in
		// its other candidate, slot 2.
		r, err := m.Insert(c, c)
		require.NoError(t, err)
		require.Equal(t, 2, r.Kicks)
		require.Equal(t, []uint64{c, a, b},
			[]uint64{m.slots[0].key, m.slots[1].key, m.slots[2].key})
		require.NoError(t, m.Verify())
	})

	t.Run("second", func(t *testing.T) {
		m := NewCuckoo(8, WithHash(identityHash), WithKickSeed(1))
		defer m.Close()
		for _, k := range []uint64{a, b} {
			_, err := m.Insert(k, k)
			require.NoError(t, err)
		}
		// Starting from the second candidate, c evicts b from slot 1, which
		// moves straight to slot 2.
		r, err := m.Insert(c, c)
		require.NoError(t, err)
		require.Equal(t, 1, r.Kicks)
		require.Equal(t, []uint64{a, c, b},
			[]uint64{m.slots[0].key, m.slots[1].key, m.slots[2].key})
		require.NoError(t, m.Verify())
	})
}

func TestCuckooRollback(t *testing.T) {
	m := NewCuckoo(8, WithHash(identityHash), WithMaxDisplacements(10))
	defer m.Close()

	// Three keys share the same two candidates, so the third can never be
	// placed.
	a, b, c := cuckooKey(0, 1, 1), cuckooKey(0, 1, 2), cuckooKey(0, 1, 3)
	for _, k := range []uint64{a, b} {
		_, err := m.Insert(k, k)
		require.NoError(t, err)
	}
	before := slices.Clone(m.slots)

	for i := 1; i <= 3; i++ {
		r, err := m.Insert(c, c)
		require.ErrorIs(t, err, ErrDisplacementExceeded)
		require.Equal(t, 10, r.Kicks)
		require.Equal(t, before, m.slots)
		require.Equal(t, i, m.FailedInserts())
		require.Equal(t, i, m.Stats().FailedInserts)
		require.Equal(t, 2, m.Len())
		require.NoError(t, m.Verify())
	}

	_, ok, _ := m.Lookup(c)
	require.False(t, ok)
	for _, k := range []uint64{a, b} {
		v, ok, _ := m.Lookup(k)
		require.True(t, ok)
		require.Equal(t, k, v)
	}

	// Updating a present key never evicts.
	r, err := m.Insert(a, 42)
	require.NoError(t, err)
	require.Equal(t, 0, r.Kicks)
	require.Equal(t, 3, m.FailedInserts())
}

func TestCuckooVerify(t *testing.T) {
	m := NewCuckoo(8, WithHash(identityHash))
	defer m.Close()
	_, err := m.Insert(cuckooKey(2, 4, 1), 1)
	require.NoError(t, err)
	require.NoError(t, m.Verify())

	m.slots[6], m.slots[2] = m.slots[2], Slot{}
	require.ErrorContains(t, m.Verify(), "not in a candidate slot")
}
