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

package sink

import (
	"bufio"
	"errors"
	"io"
	"os"

	"github.com/cockroachdb/hashbench"
	"github.com/cockroachdb/hashbench/internal/experiment"
	"github.com/sugawarayuuta/sonnet"
)

// jsonRow is the JSON form of a row. Cells that are not meaningful for the
// row are omitted.
type jsonRow struct {
	Experiment      string   `json:"experiment"`
	Variant         string   `json:"variant"`
	Seed            uint64   `json:"seed"`
	Run             int      `json:"run"`
	Batch           int      `json:"batch"`
	LoadFactor      float64  `json:"load_factor"`
	Len             int      `json:"len"`
	Capacity        int      `json:"capacity"`
	AvgInsert       *float64 `json:"avg_insert,omitempty"`
	AvgLookup       *float64 `json:"avg_lookup,omitempty"`
	AvgDelete       *float64 `json:"avg_delete,omitempty"`
	P95Insert       *int64   `json:"p95_insert,omitempty"`
	P95Lookup       *int64   `json:"p95_lookup,omitempty"`
	P95Delete       *int64   `json:"p95_delete,omitempty"`
	AvgProbe        *float64 `json:"avg_probe,omitempty"`
	MaxProbe        *int     `json:"max_probe,omitempty"`
	AvgChain        *float64 `json:"avg_chain,omitempty"`
	MaxChain        *int     `json:"max_chain,omitempty"`
	AvgDisplacement *float64 `json:"avg_displacement,omitempty"`
	MaxDisplacement *int     `json:"max_displacement,omitempty"`
	Tombstones      *int     `json:"tombstones,omitempty"`
	FailedInserts   int      `json:"failed_inserts"`
}

func ptr[T any](v T, ok bool) *T {
	if !ok {
		return nil
	}
	return &v
}

func newJSONRow(r experiment.Row, percentiles bool) jsonRow {
	stats := r.Snapshot.Stats
	j := jsonRow{
		Experiment:    r.Experiment,
		Variant:       r.Variant.String(),
		Seed:          r.Seed,
		Run:           r.RunIndex,
		Batch:         r.Batch,
		LoadFactor:    r.LoadFactor(),
		Len:           stats.Len,
		Capacity:      stats.Capacity,
		Tombstones:    ptr[int](r.Tombstones()),
		FailedInserts: stats.FailedInserts,
	}
	j.AvgInsert = ptr[float64](r.Latency(hashbench.OpInsert))
	j.AvgLookup = ptr[float64](r.Latency(hashbench.OpLookup))
	j.AvgDelete = ptr[float64](r.Latency(hashbench.OpDelete))
	if percentiles {
		for op, dst := range map[hashbench.Op]**int64{
			hashbench.OpInsert: &j.P95Insert,
			hashbench.OpLookup: &j.P95Lookup,
			hashbench.OpDelete: &j.P95Delete,
		} {
			p95, ok := r.P95(op)
			*dst = ptr(p95.Nanoseconds(), ok)
		}
	}
	if avg, peak, ok := r.Probe(); ok {
		j.AvgProbe, j.MaxProbe = &avg, &peak
	}
	if avg, peak, ok := r.Chain(); ok {
		j.AvgChain, j.MaxChain = &avg, &peak
	}
	if avg, peak, ok := r.Displacement(); ok {
		j.AvgDisplacement, j.MaxDisplacement = &avg, &peak
	}
	return j
}

// JSONL writes one JSON object per row, one per line.
type JSONL struct {
	w           *bufio.Writer
	closer      io.Closer
	percentiles bool
}

// NewJSONL returns a JSONL sink writing to w. Close does not close w.
func NewJSONL(w io.Writer, percentiles bool) *JSONL {
	return &JSONL{w: bufio.NewWriter(w), percentiles: percentiles}
}

// CreateJSONL creates or truncates the file at path and returns a JSONL sink
// writing to it.
func CreateJSONL(path string, percentiles bool) (*JSONL, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	j := NewJSONL(file, percentiles)
	j.closer = file
	log.Debugf("writing json lines to %s", path)
	return j, nil
}

func (j *JSONL) WriteRun(run *experiment.Run) error {
	for _, row := range run.Rows {
		b, err := sonnet.Marshal(newJSONRow(row, j.percentiles))
		if err != nil {
			return err
		}
		if _, err := j.w.Write(b); err != nil {
			return err
		}
		if err := j.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return j.w.Flush()
}

func (j *JSONL) Close() error {
	err := j.w.Flush()
	if j.closer != nil {
		err = errors.Join(err, j.closer.Close())
	}
	return err
}
