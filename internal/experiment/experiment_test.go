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

package experiment

import (
	"context"
	"fmt"
	"testing"

	"github.com/cockroachdb/hashbench"
	"github.com/cockroachdb/hashbench/internal/metrics"
	"github.com/cockroachdb/hashbench/internal/workload"
	"github.com/stretchr/testify/require"
)

func testSweepConfig(v hashbench.Variant, capacity int) SweepConfig {
	cfg := DefaultSweepConfig(v, 42)
	cfg.Capacity = capacity
	cfg.LookupSample = 1000
	cfg.ClockStep = 1
	return cfg
}

func testChurnConfig(v hashbench.Variant, capacity int) ChurnConfig {
	cfg := DefaultChurnConfig(v, 42)
	cfg.Capacity = capacity
	cfg.TotalOps = 10_000
	cfg.ClockStep = 1
	return cfg
}

func TestSweepLoadFactors(t *testing.T) {
	for _, v := range []hashbench.Variant{hashbench.LinearProbing, hashbench.RobinHoodHashing, hashbench.Chaining} {
		t.Run(v.String(), func(t *testing.T) {
			cfg := testSweepConfig(v, 1024)
			cfg.Verify = true
			run, err := Sweep(context.Background(), cfg)
			require.NoError(t, err)
			require.Equal(t, -1, run.FailedBatch)
			require.Len(t, run.Rows, len(DefaultLoadFactors))

			lens := []int{256, 512, 768, 870, 921, 972}
			inserts := []int{256, 256, 256, 102, 51, 51}
			for i, row := range run.Rows {
				require.Equal(t, SweepName, row.Experiment)
				require.Equal(t, i+1, row.Batch)
				require.Equal(t, lens[i], row.Snapshot.Stats.Len)
				require.Equal(t, float64(lens[i])/1024, row.LoadFactor())
				require.Equal(t, inserts[i], row.Snapshot.Latency[hashbench.OpInsert].Count)
				require.Equal(t, 1000, row.Snapshot.Latency[hashbench.OpLookup].Count)
				_, ok := row.Latency(hashbench.OpDelete)
				require.False(t, ok)

				mean, ok := row.Latency(hashbench.OpInsert)
				require.True(t, ok)
				require.Equal(t, 1.0, mean)
			}
			require.Equal(t, 972.0/1024, run.Attained)
		})
	}
}

func TestSweepCuckooFailure(t *testing.T) {
	cfg := testSweepConfig(hashbench.CuckooHashing, 1024)
	cfg.Verify = true
	run, err := Sweep(context.Background(), cfg)
	require.NoError(t, err)

	// Two single-slot candidates cannot hold much beyond half the table.
	require.Greater(t, run.FailedBatch, 0)
	require.Len(t, run.Rows, run.FailedBatch)
	require.Less(t, run.Attained, 0.75)
	require.Less(t, run.Attained, DefaultLoadFactors[run.FailedBatch-1])

	last := run.Rows[len(run.Rows)-1]
	require.Equal(t, run.Attained, last.LoadFactor())
	require.Equal(t, 1, last.Snapshot.Stats.FailedInserts)
	require.Equal(t, 1000, last.Snapshot.Latency[hashbench.OpLookup].Count)
	_, _, ok := last.Probe()
	require.False(t, ok)
	_, _, ok = last.Displacement()
	require.True(t, ok)
}

func TestChurnPreservesSize(t *testing.T) {
	for _, v := range []hashbench.Variant{hashbench.LinearProbing, hashbench.RobinHoodHashing, hashbench.Chaining} {
		t.Run(v.String(), func(t *testing.T) {
			cfg := testChurnConfig(v, 1<<12)
			cfg.Verify = true
			run, err := Churn(context.Background(), cfg)
			require.NoError(t, err)
			require.Equal(t, -1, run.FailedBatch)
			require.Len(t, run.Rows, 1)

			row := run.Rows[0]
			require.Equal(t, ChurnName, row.Experiment)
			require.Equal(t, 1, row.Batch)
			require.Equal(t, 3276, row.Snapshot.Stats.Len)
			require.Equal(t, 3276.0/4096, run.Attained)
			require.Equal(t, 4000, row.Snapshot.Latency[hashbench.OpLookup].Count)
			require.Equal(t, 3000, row.Snapshot.Latency[hashbench.OpInsert].Count)
			require.Equal(t, 3000, row.Snapshot.Latency[hashbench.OpDelete].Count)
			require.Equal(t, 0, row.Snapshot.Stats.FailedInserts)
		})
	}
}

func TestChurnBatches(t *testing.T) {
	cfg := testChurnConfig(hashbench.LinearProbing, 1<<12)
	cfg.TotalOps = 25_000
	run, err := Churn(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, run.Rows, 3)
	for i, row := range run.Rows {
		require.Equal(t, i+1, row.Batch)
		require.Equal(t, 3276, row.Snapshot.Stats.Len)
	}
	last := run.Rows[2].Snapshot
	require.Equal(t, 5000, last.Latency[hashbench.OpLookup].Count+
		last.Latency[hashbench.OpInsert].Count+last.Latency[hashbench.OpDelete].Count)
	require.Equal(t, last.Latency[hashbench.OpInsert].Count, last.Latency[hashbench.OpDelete].Count)
}

func TestChurnCuckoo(t *testing.T) {
	cfg := testChurnConfig(hashbench.CuckooHashing, 1<<12)
	cfg.PrefillLoadFactor = 0.25
	cfg.BatchSize = 2500
	cfg.Verify = true
	run, err := Churn(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, run.Rows, 4)

	// Every failed insert shrinks the live set by one.
	last := run.Rows[3].Snapshot.Stats
	require.Equal(t, 1024-last.FailedInserts, last.Len)
	if last.FailedInserts == 0 {
		require.Equal(t, -1, run.FailedBatch)
	} else {
		require.Greater(t, run.FailedBatch, 0)
	}
}

func TestChurnPrefillFailure(t *testing.T) {
	cfg := testChurnConfig(hashbench.CuckooHashing, 1024)
	cfg.PrefillLoadFactor = 0.9
	run, err := Churn(context.Background(), cfg)
	require.ErrorIs(t, err, ErrPrefillFailure)
	require.ErrorIs(t, err, hashbench.ErrDisplacementExceeded)
	require.Empty(t, run.Rows)
	require.Less(t, run.Attained, 0.9)
}

func TestDeterminism(t *testing.T) {
	f := Format{Percentiles: true, RunColumns: true}
	for _, v := range hashbench.Variants {
		t.Run(v.String(), func(t *testing.T) {
			sweepCfg := testSweepConfig(v, 1<<12)
			sweepCfg.Percentiles = true
			a, err := Sweep(context.Background(), sweepCfg)
			require.NoError(t, err)
			b, err := Sweep(context.Background(), sweepCfg)
			require.NoError(t, err)
			require.Equal(t, a.Rows, b.Rows)
			require.Equal(t, a.Digest(f), b.Digest(f))

			churnCfg := testChurnConfig(v, 1<<12)
			churnCfg.PrefillLoadFactor = 0.25
			churnCfg.TotalOps = 20_000
			churnCfg.BatchSize = 5000
			churnCfg.Percentiles = true
			a, err = Churn(context.Background(), churnCfg)
			require.NoError(t, err)
			b, err = Churn(context.Background(), churnCfg)
			require.NoError(t, err)
			require.Len(t, a.Rows, 4)
			require.Equal(t, a.Rows, b.Rows)
			require.Equal(t, a.Digest(f), b.Digest(f))
		})
	}

	// A different run index draws different keys.
	cfg := testSweepConfig(hashbench.LinearProbing, 1<<12)
	a, err := Sweep(context.Background(), cfg)
	require.NoError(t, err)
	cfg.RunIndex = 1
	b, err := Sweep(context.Background(), cfg)
	require.NoError(t, err)
	require.NotEqual(t, a.Digest(Format{}), b.Digest(Format{}))
}

func TestCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := Sweep(ctx, testSweepConfig(hashbench.Chaining, 1024))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, run.Rows)

	run, err = Churn(ctx, testChurnConfig(hashbench.LinearProbing, 1024))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, run.Rows)
}

func TestValidate(t *testing.T) {
	for i, tc := range []struct {
		mutate func(*SweepConfig)
		err    error
	}{
		{func(c *SweepConfig) { c.Capacity = 1000 }, hashbench.ErrInvalidCapacity},
		{func(c *SweepConfig) { c.Capacity = 0 }, hashbench.ErrInvalidCapacity},
		{func(c *SweepConfig) { c.Variant = 9 }, hashbench.ErrUnknownVariant},
		{func(c *SweepConfig) { c.RunIndex = -1 }, ErrInvalidConfig},
		{func(c *SweepConfig) { c.ClockStep = -1 }, ErrInvalidConfig},
		{func(c *SweepConfig) { c.LoadFactors = nil }, ErrInvalidConfig},
		{func(c *SweepConfig) { c.LoadFactors = []float64{0.5, 0.25} }, ErrInvalidConfig},
		{func(c *SweepConfig) { c.LoadFactors = []float64{0.5, 0.5} }, ErrInvalidConfig},
		{func(c *SweepConfig) { c.LoadFactors = []float64{0} }, ErrInvalidConfig},
		{func(c *SweepConfig) { c.LoadFactors = []float64{1.5} }, ErrInvalidConfig},
		{func(c *SweepConfig) { c.LookupSample = -1 }, ErrInvalidConfig},
	} {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			cfg := testSweepConfig(hashbench.LinearProbing, 1024)
			tc.mutate(&cfg)
			run, err := Sweep(context.Background(), cfg)
			require.ErrorIs(t, err, tc.err)
			require.Nil(t, run)
		})
	}

	for i, tc := range []struct {
		mutate func(*ChurnConfig)
		err    error
	}{
		{func(c *ChurnConfig) { c.PrefillLoadFactor = -0.1 }, ErrInvalidConfig},
		{func(c *ChurnConfig) { c.PrefillLoadFactor = 1.1 }, ErrInvalidConfig},
		{func(c *ChurnConfig) { c.TotalOps = -1 }, ErrInvalidConfig},
		{func(c *ChurnConfig) { c.BatchSize = 0 }, ErrInvalidConfig},
		{func(c *ChurnConfig) { c.Mix = workload.Mix{Lookup: 0.2, Insert: 0.5, Delete: 0.3} }, workload.ErrInvalidMix},
	} {
		t.Run(fmt.Sprint("churn", i), func(t *testing.T) {
			cfg := testChurnConfig(hashbench.LinearProbing, 1024)
			tc.mutate(&cfg)
			run, err := Churn(context.Background(), cfg)
			require.ErrorIs(t, err, tc.err)
			require.Nil(t, run)
		})
	}
}

func TestFormat(t *testing.T) {
	require.Len(t, Format{}.Header(), 15)
	require.Equal(t, "failed_inserts", Format{}.Header()[14])
	h := Format{Percentiles: true, RunColumns: true}.Header()
	require.Equal(t, []string{"p95_insert", "p95_lookup", "p95_delete", "seed", "run"}, h[15:])
	require.Len(t, Columns, 15)

	ch := Row{
		Experiment: ChurnName,
		Variant:    hashbench.Chaining,
		Seed:       42,
		RunIndex:   1,
		Batch:      4,
		Snapshot: metrics.Snapshot{
			Latency: [hashbench.NumOps]metrics.Latency{
				hashbench.OpInsert: {Count: 2, Total: 5, P95: 3},
				hashbench.OpDelete: {Count: 1, Total: 7, P95: 7},
			},
			Probe: metrics.Summary{Count: 3, Sum: 4, Max: 2},
			Chain: metrics.Summary{Count: 3, Sum: 5, Max: 2},
			Stats: hashbench.Stats{
				Variant:         hashbench.Chaining,
				Len:             3,
				Capacity:        8,
				NonEmptyBuckets: 2,
				AvgChain:        1.5,
				MaxChain:        2,
			},
		},
	}
	require.Equal(t, []string{
		"exp2", "CH", "4", "0.375000",
		"2.5", "", "7.0",
		"1.3", "2",
		"1.5", "2",
		"", "",
		"", "0",
		"3", "", "7",
		"42", "1",
	}, Format{Percentiles: true, RunColumns: true}.Record(ch, nil))

	cu := Row{
		Experiment: SweepName,
		Variant:    hashbench.CuckooHashing,
		Batch:      1,
		Snapshot: metrics.Snapshot{
			Latency: [hashbench.NumOps]metrics.Latency{
				hashbench.OpInsert: {Count: 1, Total: 10},
			},
			Probe:        metrics.Summary{Count: 1, Sum: 2, Max: 2},
			Displacement: metrics.Summary{Count: 1, Sum: 3, Max: 3},
			Stats:        hashbench.Stats{Len: 1, Capacity: 4, FailedInserts: 2},
		},
	}
	require.Equal(t, []string{
		"exp1", "CU", "1", "0.250000",
		"10.0", "", "",
		"", "",
		"", "",
		"3.0", "3",
		"", "2",
	}, Format{}.Record(cu, make([]string, 3)))

	lp := Row{
		Experiment: ChurnName,
		Variant:    hashbench.LinearProbing,
		Batch:      2,
		Snapshot: metrics.Snapshot{
			Stats: hashbench.Stats{Capacity: 16, Tombstones: 5},
		},
	}
	require.Equal(t, []string{
		"exp2", "LP", "2", "0.000000",
		"", "", "",
		"", "",
		"", "",
		"", "",
		"5", "0",
	}, Format{}.Record(lp, nil))
}
