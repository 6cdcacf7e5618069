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

// Command hashbench runs the load-factor sweep and churn experiments against
// the hash table variants and writes one row per checkpoint or batch.
//
//	hashbench sweep -v LP -v CU --percentiles -o sweep.csv
//	hashbench churn --runs 3 --parallel 4 --split-dir results
package main

import (
	"context"
	"os"

	"github.com/cockroachdb/hashbench/internal/experiment"
	"github.com/cockroachdb/hashbench/internal/workload"
	"github.com/jessevdk/go-flags"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("hashbench")

type Sweep struct {
	Common
	LoadFactors []float64 `long:"load-factor" description:"target load factor, ascending; repeatable (default 0.25 0.5 0.75 0.85 0.9 0.95)"`
	Lookups     int       `long:"lookups" default:"10000" description:"lookups timed at each load factor"`
}

type Churn struct {
	Common
	Prefill   float64 `long:"prefill" default:"0.8" description:"load factor reached before churn starts"`
	Ops       int     `long:"ops" default:"1000000" description:"total churn operations"`
	Batch     int     `long:"batch" default:"10000" description:"operations per metrics row"`
	MixLookup float64 `long:"mix-lookup" default:"0.4" description:"fraction of lookups"`
	MixInsert float64 `long:"mix-insert" default:"0.3" description:"fraction of inserts"`
	MixDelete float64 `long:"mix-delete" default:"0.3" description:"fraction of deletes"`
}

var sweepCommand Sweep
var churnCommand Churn

var parser = flags.NewParser(nil, flags.Default)

func (x *Sweep) Execute(args []string) error {
	lfs := x.LoadFactors
	if len(lfs) == 0 {
		lfs = experiment.DefaultLoadFactors
	}
	return x.execute(experiment.SweepName, func(ctx context.Context, c experiment.Config) (*experiment.Run, error) {
		return experiment.Sweep(ctx, experiment.SweepConfig{
			Config:       c,
			LoadFactors:  lfs,
			LookupSample: x.Lookups,
		})
	})
}

func (x *Churn) Execute(args []string) error {
	return x.execute(experiment.ChurnName, func(ctx context.Context, c experiment.Config) (*experiment.Run, error) {
		return experiment.Churn(ctx, experiment.ChurnConfig{
			Config:            c,
			PrefillLoadFactor: x.Prefill,
			TotalOps:          x.Ops,
			BatchSize:         x.Batch,
			Mix: workload.Mix{
				Lookup: x.MixLookup,
				Insert: x.MixInsert,
				Delete: x.MixDelete,
			},
		})
	})
}

func main() {
	parser.AddCommand("sweep",
		"load factor sweep",
		"Fill each table through ascending load factors, timing the inserts of each segment and a sample of lookups at every checkpoint.",
		&sweepCommand)
	parser.AddCommand("churn",
		"churn degradation",
		"Prefill each table, then apply batches of mixed lookups, inserts and deletes that keep the number of keys constant.",
		&churnCommand)

	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
}
