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

// Package metrics accumulates per-operation latency and structural samples
// into per-batch snapshots.
package metrics

import (
	"math"
	"slices"
	"time"

	"github.com/cockroachdb/hashbench"
)

// Summary aggregates integer samples.
type Summary struct {
	Count int
	Sum   int
	Max   int
}

func (s *Summary) Add(v int) {
	s.Count++
	s.Sum += v
	if v > s.Max {
		s.Max = v
	}
}

// Mean returns the average sample, or zero if there are none.
func (s Summary) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Sum) / float64(s.Count)
}

// Latency aggregates the latencies of one kind of operation.
type Latency struct {
	Count int
	Total time.Duration
	// P95 is the nearest-rank 95th percentile. It is only computed when the
	// recorder retains samples.
	P95 time.Duration
}

// Mean returns the average latency in nanoseconds, or zero if there are no
// samples.
func (l Latency) Mean() float64 {
	if l.Count == 0 {
		return 0
	}
	return float64(l.Total.Nanoseconds()) / float64(l.Count)
}

// Snapshot holds the aggregates of one batch together with the table's
// running counters at the batch boundary.
type Snapshot struct {
	Latency [hashbench.NumOps]Latency
	// Probe summarizes Result.Probes over every operation of the batch.
	Probe Summary
	// Chain summarizes the length of the bucket each operation touched.
	Chain Summary
	// Displacement summarizes the evictions of successful inserts.
	Displacement Summary
	// Stats is read at the batch boundary. Its chain fields describe every
	// bucket, not only those the batch touched.
	Stats hashbench.Stats
}

// LoadFactor returns the load factor at the batch boundary.
func (s Snapshot) LoadFactor() float64 {
	return s.Stats.LoadFactor()
}

// Recorder accumulates samples for the current batch. A Recorder is owned by
// a single run and is not safe for concurrent use.
type Recorder struct {
	clock   Clock
	metrics hashbench.Metric
	retain  bool
	cur     Snapshot
	samples [hashbench.NumOps][]time.Duration
}

// NewRecorder returns a Recorder for a table of variant v. If percentiles is
// true every latency sample of a batch is retained so Flush can compute the
// 95th percentile.
func NewRecorder(v hashbench.Variant, clock Clock, percentiles bool) *Recorder {
	if clock == nil {
		clock = Monotonic()
	}
	return &Recorder{
		clock:   clock,
		metrics: v.Metrics(),
		retain:  percentiles,
	}
}

// Start returns the clock reading to pass to Observe.
func (r *Recorder) Start() time.Duration {
	return r.clock.Now()
}

// Observe records an operation of kind op that began at start and produced
// res. err is the error returned by an insert, if any.
func (r *Recorder) Observe(op hashbench.Op, start time.Duration, res hashbench.Result, err error) {
	d := r.clock.Now() - start
	l := &r.cur.Latency[op]
	l.Count++
	l.Total += d
	if r.retain {
		r.samples[op] = append(r.samples[op], d)
	}

	if r.metrics.Has(hashbench.MetricProbe) {
		r.cur.Probe.Add(res.Probes)
	}
	if r.metrics.Has(hashbench.MetricChain) {
		r.cur.Chain.Add(res.Chain)
	}
	if r.metrics.Has(hashbench.MetricDisplacement) && op == hashbench.OpInsert && err == nil {
		r.cur.Displacement.Add(res.Kicks)
	}
}

// Flush closes the current batch, returning its aggregates combined with the
// table counters in stats, and clears all per-batch state.
func (r *Recorder) Flush(stats hashbench.Stats) Snapshot {
	s := r.cur
	s.Stats = stats
	if r.retain {
		for op := range r.samples {
			s.Latency[op].P95 = percentile(r.samples[op], 0.95)
			r.samples[op] = r.samples[op][:0]
		}
	}
	r.cur = Snapshot{}
	return s
}

// percentile returns the nearest-rank p-quantile of samples, reordering
// samples in the process.
func percentile(samples []time.Duration, p float64) time.Duration {
	n := len(samples)
	if n == 0 {
		return 0
	}
	slices.Sort(samples)
	rank := int(math.Ceil(p*float64(n))) - 1
	return samples[max(0, min(rank, n-1))]
}
