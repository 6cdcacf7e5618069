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
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/hashbench"
	"github.com/cockroachdb/hashbench/internal/metrics"
)

// Row is the output of one checkpoint or batch.
type Row struct {
	Experiment string
	Variant    hashbench.Variant
	Seed       uint64
	RunIndex   int
	// Batch is 1-based.
	Batch    int
	Snapshot metrics.Snapshot
}

func (r Row) LoadFactor() float64 {
	return r.Snapshot.LoadFactor()
}

// Latency returns the mean latency of op in nanoseconds. ok is false if the
// batch performed no such operation.
func (r Row) Latency(op hashbench.Op) (mean float64, ok bool) {
	l := r.Snapshot.Latency[op]
	return l.Mean(), l.Count > 0
}

// P95 returns the 95th percentile latency of op. It is zero unless the run
// retained samples.
func (r Row) P95(op hashbench.Op) (p95 time.Duration, ok bool) {
	l := r.Snapshot.Latency[op]
	return l.P95, l.Count > 0
}

// Probe returns the probe-length summary. ok is false for Cuckoo and for a
// batch with no operations.
func (r Row) Probe() (avg float64, peak int, ok bool) {
	return r.summary(hashbench.MetricProbe, r.Snapshot.Probe)
}

// Displacement returns the kick summary of successful inserts. ok is false
// for every variant but Cuckoo and for a batch with no successful insert.
func (r Row) Displacement() (avg float64, peak int, ok bool) {
	return r.summary(hashbench.MetricDisplacement, r.Snapshot.Displacement)
}

// Chain returns the bucket-length summary over every non-empty bucket at the
// batch boundary. ok is false for every variant but Chained.
func (r Row) Chain() (avg float64, peak int, ok bool) {
	s := r.Snapshot.Stats
	return s.AvgChain, s.MaxChain, r.Variant.Metrics().Has(hashbench.MetricChain)
}

// Tombstones returns the running tombstone count. ok is false for variants
// without tombstones.
func (r Row) Tombstones() (n int, ok bool) {
	return r.Snapshot.Stats.Tombstones, r.Variant.Metrics().Has(hashbench.MetricTombstones)
}

func (r Row) summary(m hashbench.Metric, s metrics.Summary) (float64, int, bool) {
	if !r.Variant.Metrics().Has(m) || s.Count == 0 {
		return 0, 0, false
	}
	return s.Mean(), s.Max, true
}

// Columns is the fixed column order of a row.
var Columns = []string{
	"experiment", "variant", "batch", "load_factor",
	"avg_insert", "avg_lookup", "avg_delete",
	"avg_probe", "max_probe",
	"avg_chain", "max_chain",
	"avg_displacement", "max_displacement",
	"tombstones", "failed_inserts",
}

var (
	percentileColumns = []string{"p95_insert", "p95_lookup", "p95_delete"}
	runColumns        = []string{"seed", "run"}
)

// Format renders rows as string records. Cells that are not meaningful for a
// row are empty.
type Format struct {
	// Percentiles appends the p95 latency columns.
	Percentiles bool
	// RunColumns appends the seed and run index columns.
	RunColumns bool
}

// Header returns the column names.
func (f Format) Header() []string {
	h := append([]string(nil), Columns...)
	if f.Percentiles {
		h = append(h, percentileColumns...)
	}
	if f.RunColumns {
		h = append(h, runColumns...)
	}
	return h
}

// Record appends the cells of r to dst[:0] and returns the result.
func (f Format) Record(r Row, dst []string) []string {
	dst = append(dst[:0],
		r.Experiment,
		r.Variant.String(),
		strconv.Itoa(r.Batch),
		strconv.FormatFloat(r.LoadFactor(), 'f', 6, 64),
	)
	for _, op := range []hashbench.Op{hashbench.OpInsert, hashbench.OpLookup, hashbench.OpDelete} {
		dst = append(dst, formatFloat(r.Latency(op)))
	}
	for _, summary := range []func() (float64, int, bool){r.Probe, r.Chain, r.Displacement} {
		avg, peak, ok := summary()
		dst = append(dst, formatFloat(avg, ok), formatInt(peak, ok))
	}
	dst = append(dst,
		formatInt(r.Tombstones()),
		strconv.Itoa(r.Snapshot.Stats.FailedInserts),
	)
	if f.Percentiles {
		for _, op := range []hashbench.Op{hashbench.OpInsert, hashbench.OpLookup, hashbench.OpDelete} {
			p95, ok := r.P95(op)
			dst = append(dst, formatInt(int(p95.Nanoseconds()), ok))
		}
	}
	if f.RunColumns {
		dst = append(dst,
			strconv.FormatUint(r.Seed, 10),
			strconv.Itoa(r.RunIndex),
		)
	}
	return dst
}

func formatFloat(v float64, ok bool) string {
	if !ok {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func formatInt(v int, ok bool) string {
	if !ok {
		return ""
	}
	return strconv.Itoa(v)
}

// Run is the ordered output of one (experiment, variant, seed, run index).
type Run struct {
	Experiment string
	Variant    hashbench.Variant
	Seed       uint64
	RunIndex   int
	Capacity   int
	Rows       []Row
	// FailedBatch is the first batch in which an insert failed, or -1.
	FailedBatch int
	// Attained is the load factor at the end of the run.
	Attained float64
}

func (r *Run) add(batch int, s metrics.Snapshot) Row {
	row := Row{
		Experiment: r.Experiment,
		Variant:    r.Variant,
		Seed:       r.Seed,
		RunIndex:   r.RunIndex,
		Batch:      batch,
		Snapshot:   s,
	}
	r.Rows = append(r.Rows, row)
	return row
}

// Digest returns an xxhash64 of every record of the run rendered by f. Two
// runs with a deterministic clock and the same seed, run index, variant and
// capacity have the same digest.
func (r *Run) Digest(f Format) uint64 {
	d := xxhash.New()
	var rec []string
	for _, row := range r.Rows {
		rec = f.Record(row, rec)
		for i, cell := range rec {
			if i > 0 {
				_, _ = d.WriteString(",")
			}
			_, _ = d.WriteString(cell)
		}
		_, _ = d.WriteString("\n")
	}
	return d.Sum64()
}
