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

package workload

import (
	"errors"
	"fmt"
	"math"

	"github.com/cockroachdb/hashbench"
)

// ErrInvalidMix is returned by Mix.Validate.
var ErrInvalidMix = errors.New("hashbench: invalid operation mix")

const mixEpsilon = 1e-9

// Mix is the fraction of each operation in a churn batch.
type Mix struct {
	Lookup float64
	Insert float64
	Delete float64
}

// DefaultMix is 40% lookups, 30% inserts and 30% deletes.
var DefaultMix = Mix{Lookup: 0.4, Insert: 0.3, Delete: 0.3}

// Validate checks that the ratios are in [0, 1] and sum to 1, and that
// inserts and deletes are balanced so a batch preserves the active-set size.
func (m Mix) Validate() error {
	for _, r := range []float64{m.Lookup, m.Insert, m.Delete} {
		if math.IsNaN(r) || r < 0 || r > 1 {
			return fmt.Errorf("%w: ratio %v out of range [0, 1]", ErrInvalidMix, r)
		}
	}
	if sum := m.Lookup + m.Insert + m.Delete; math.Abs(sum-1) > mixEpsilon {
		return fmt.Errorf("%w: ratios sum to %v", ErrInvalidMix, sum)
	}
	if math.Abs(m.Insert-m.Delete) > mixEpsilon {
		return fmt.Errorf("%w: insert ratio %v != delete ratio %v", ErrInvalidMix, m.Insert, m.Delete)
	}
	return nil
}

// Counts returns the exact number of each operation in a batch of size
// operations. Inserts and deletes are equal to floor(size*Insert); lookups
// take the remainder.
func (m Mix) Counts(size int) (lookups, inserts, deletes int) {
	inserts = int(math.Floor(float64(size) * m.Insert))
	if 2*inserts > size {
		inserts = size / 2
	}
	return size - 2*inserts, inserts, inserts
}

// Plan appends a shuffled batch of size operations following m to dst[:0]
// and returns the result.
func (g *Generator) Plan(size int, m Mix, dst []hashbench.Op) []hashbench.Op {
	lookups, inserts, deletes := m.Counts(size)
	dst = dst[:0]
	for _, c := range []struct {
		op hashbench.Op
		n  int
	}{
		{hashbench.OpLookup, lookups},
		{hashbench.OpInsert, inserts},
		{hashbench.OpDelete, deletes},
	} {
		for i := 0; i < c.n; i++ {
			dst = append(dst, c.op)
		}
	}
	g.ops.Shuffle(len(dst), func(i, j int) {
		dst[i], dst[j] = dst[j], dst[i]
	})
	return dst
}
