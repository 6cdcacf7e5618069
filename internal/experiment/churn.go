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

	"github.com/cockroachdb/hashbench"
	"github.com/cockroachdb/hashbench/internal/metrics"
	"github.com/cockroachdb/hashbench/internal/workload"
)

func churn[T hashbench.Table](ctx context.Context, cfg ChurnConfig, t T) (*Run, error) {
	defer t.Close()

	g := workload.New(cfg.Seed, cfg.RunIndex)
	rec := metrics.NewRecorder(cfg.Variant, cfg.clock(), cfg.Percentiles)
	run := cfg.newRun(ChurnName)

	// Prefill is not measured.
	target := cfg.target(cfg.PrefillLoadFactor)
	keys := workload.NewKeySet(target)
	for keys.Len() < target {
		k := g.FreshKey()
		if _, err := t.Insert(k, uint64(keys.Len())); err != nil {
			run.Attained = t.Stats().LoadFactor()
			return run, fmt.Errorf("%w: %s reached load factor %.6f of %v: %w",
				ErrPrefillFailure, cfg.Variant, run.Attained, cfg.PrefillLoadFactor, err)
		}
		keys.Add(k)
	}
	if cfg.Verify {
		if err := t.Verify(); err != nil {
			return run, err
		}
	}
	batches := (cfg.TotalOps + cfg.BatchSize - 1) / cfg.BatchSize
	log.Infof("%s %s run %d: prefilled %d keys, running %d batches",
		ChurnName, cfg.Variant, cfg.RunIndex, keys.Len(), batches)

	var plan []hashbench.Op
	for batch := 1; batch <= batches; batch++ {
		if err := ctx.Err(); err != nil {
			return run, err
		}

		size := min(cfg.BatchSize, cfg.TotalOps-(batch-1)*cfg.BatchSize)
		plan = g.Plan(size, cfg.Mix, plan)
		for _, op := range plan {
			switch op {
			case hashbench.OpLookup:
				if keys.Len() == 0 {
					continue
				}
				k := keys.At(keys.Random(g))
				start := rec.Start()
				_, ok, res := t.Lookup(k)
				rec.Observe(op, start, res, nil)
				if !ok {
					return run, lostKey(op, k)
				}

			case hashbench.OpDelete:
				if keys.Len() == 0 {
					continue
				}
				i := keys.Random(g)
				k := keys.At(i)
				start := rec.Start()
				ok, res := t.Delete(k)
				rec.Observe(op, start, res, nil)
				if !ok {
					return run, lostKey(op, k)
				}
				keys.RemoveAt(i)

			case hashbench.OpInsert:
				k := g.FreshKey()
				start := rec.Start()
				res, err := t.Insert(k, uint64(g.Issued()))
				rec.Observe(op, start, res, err)
				if err != nil {
					// The key is dropped and the live set shrinks by one.
					if run.FailedBatch < 0 {
						run.FailedBatch = batch
						log.Warningf("%s %s run %d: first failed insert in batch %d/%d: %v",
							ChurnName, cfg.Variant, cfg.RunIndex, batch, batches, err)
					}
					continue
				}
				keys.Add(k)
			}
		}

		if cfg.Verify {
			if err := t.Verify(); err != nil {
				return run, err
			}
		}
		row := run.add(batch, rec.Flush(t.Stats()))

		if batch%progressInterval == 0 {
			lookup, _ := row.Latency(hashbench.OpLookup)
			insert, _ := row.Latency(hashbench.OpInsert)
			del, _ := row.Latency(hashbench.OpDelete)
			log.Infof("%s %s run %d: batch %d/%d: lookup=%.1fns insert=%.1fns delete=%.1fns",
				ChurnName, cfg.Variant, cfg.RunIndex, batch, batches, lookup, insert, del)
		}
	}

	run.Attained = t.Stats().LoadFactor()
	log.Infof("%s %s run %d: completed %d batches", ChurnName, cfg.Variant, cfg.RunIndex, len(run.Rows))
	return run, nil
}
