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

	"github.com/cockroachdb/hashbench"
	"github.com/cockroachdb/hashbench/internal/metrics"
	"github.com/cockroachdb/hashbench/internal/workload"
)

func sweep[T hashbench.Table](ctx context.Context, cfg SweepConfig, t T) (*Run, error) {
	defer t.Close()

	g := workload.New(cfg.Seed, cfg.RunIndex)
	rec := metrics.NewRecorder(cfg.Variant, cfg.clock(), cfg.Percentiles)
	run := cfg.newRun(SweepName)
	keys := workload.NewKeySet(cfg.target(cfg.LoadFactors[len(cfg.LoadFactors)-1]))
	var sample []uint64

	for i, lf := range cfg.LoadFactors {
		if err := ctx.Err(); err != nil {
			return run, err
		}
		batch := i + 1

		var failure error
		for target := cfg.target(lf); t.Len() < target; {
			k := g.FreshKey()
			start := rec.Start()
			res, err := t.Insert(k, uint64(keys.Len()))
			rec.Observe(hashbench.OpInsert, start, res, err)
			if err != nil {
				failure = err
				break
			}
			keys.Add(k)
		}

		if keys.Len() > 0 {
			sample = g.Sample(keys.Keys(), cfg.LookupSample, sample)
			for _, k := range sample {
				start := rec.Start()
				_, ok, res := t.Lookup(k)
				rec.Observe(hashbench.OpLookup, start, res, nil)
				if !ok {
					return run, lostKey(hashbench.OpLookup, k)
				}
			}
		}

		if cfg.Verify {
			if err := t.Verify(); err != nil {
				return run, err
			}
		}
		row := run.add(batch, rec.Flush(t.Stats()))

		if failure != nil {
			run.FailedBatch = batch
			log.Warningf("%s %s run %d: insert failed at load factor %.3f (target %v): %v",
				SweepName, cfg.Variant, cfg.RunIndex, row.LoadFactor(), lf, failure)
			break
		}
		insert, _ := row.Latency(hashbench.OpInsert)
		lookup, _ := row.Latency(hashbench.OpLookup)
		log.Infof("%s %s run %d: load factor %v: insert=%.1fns lookup=%.1fns",
			SweepName, cfg.Variant, cfg.RunIndex, lf, insert, lookup)
	}

	run.Attained = t.Stats().LoadFactor()
	return run, nil
}
