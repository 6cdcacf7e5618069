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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/cockroachdb/hashbench"
	"github.com/cockroachdb/hashbench/internal/experiment"
	"github.com/cockroachdb/hashbench/internal/sink"
	"golang.org/x/sync/errgroup"
)

const maxCapacityBits = 32

// Common holds the options shared by every command.
type Common struct {
	Variants     []string `short:"v" long:"variant" description:"variant to run [LP, RH, CH, CU]; repeatable (default all)"`
	Seed         uint64   `short:"s" long:"seed" default:"42" description:"global seed; run i uses seed+i"`
	Run          int      `long:"run" default:"0" description:"index of the first run"`
	Runs         int      `short:"n" long:"runs" default:"1" description:"number of runs per variant"`
	CapacityBits uint     `long:"capacity-bits" default:"20" description:"log2 of the table capacity"`
	MaxKicks     int      `long:"max-kicks" default:"500" description:"cuckoo displacement bound"`
	KickSeed     uint64   `long:"kick-seed" default:"0" description:"seed of the first cuckoo eviction side"`
	Hash         string   `long:"hash" default:"mix" description:"hash function [mix, xxhash, xxh3, murmur3]"`
	Alloc        string   `long:"alloc" default:"heap" choice:"heap" choice:"mmap" description:"slot storage"`
	Parallel     int      `short:"p" long:"parallel" default:"1" description:"runs executed concurrently"`
	Percentiles  bool     `long:"percentiles" description:"emit p95 latency columns"`
	Verify       bool     `long:"verify" description:"check table invariants at every checkpoint"`
	ClockStep    int64    `long:"deterministic-clock" default:"0" description:"time every operation as this many nanoseconds (0 uses the real clock)"`
	Output       string   `short:"o" long:"output" description:"CSV output file, - for stdout (default - unless another output is given)"`
	SplitDir     string   `long:"split-dir" description:"also write one CSV file per variant to this directory"`
	JSONL        string   `long:"jsonl" description:"also write JSON lines to this file"`
	SQLite       string   `long:"sqlite" description:"also write to this SQLite database"`
	LogLevel     string   `short:"l" long:"loglevel" default:"info" description:"set the logging level [debug, info, notice, warning, error, critical]"`
	LogFile      string   `long:"logfile" description:"also write logs to this file, rotated by size"`
}

// job is one (variant, run index) of an invocation.
type job struct {
	variant hashbench.Variant
	run     int
}

type runFunc func(ctx context.Context, c experiment.Config) (*experiment.Run, error)

func (x *Common) variants() ([]hashbench.Variant, error) {
	if len(x.Variants) == 0 {
		return hashbench.Variants, nil
	}
	var vs []hashbench.Variant
	seen := make(map[hashbench.Variant]bool)
	for _, name := range x.Variants {
		v, err := hashbench.ParseVariant(name)
		if err != nil {
			return nil, err
		}
		if !seen[v] {
			seen[v] = true
			vs = append(vs, v)
		}
	}
	return vs, nil
}

func (x *Common) validate() error {
	if x.CapacityBits < 1 || x.CapacityBits > maxCapacityBits {
		return fmt.Errorf("capacity bits %d out of range [1, %d]", x.CapacityBits, maxCapacityBits)
	}
	if x.MaxKicks < 1 || x.MaxKicks > 1_000_000 {
		return fmt.Errorf("max kicks %d out of range [1, 1000000]", x.MaxKicks)
	}
	if x.Runs < 1 {
		return fmt.Errorf("runs %d must be positive", x.Runs)
	}
	if x.Run < 0 {
		return fmt.Errorf("run index %d must not be negative", x.Run)
	}
	if x.Parallel < 1 {
		return fmt.Errorf("parallel %d must be positive", x.Parallel)
	}
	if x.ClockStep < 0 {
		return fmt.Errorf("deterministic clock step %d must not be negative", x.ClockStep)
	}
	_, err := hashbench.HashByName(x.Hash)
	return err
}

// config returns the experiment config of j. Every run gets its own options
// so no allocator is shared between concurrent runs.
func (x *Common) config(j job) experiment.Config {
	hash, _ := hashbench.HashByName(x.Hash)
	opts := []hashbench.Option{
		hashbench.WithHash(hash),
		hashbench.WithMaxDisplacements(x.MaxKicks),
		hashbench.WithKickSeed(x.KickSeed),
	}
	if x.Alloc == "mmap" {
		opts = append(opts, hashbench.WithAllocator(hashbench.NewMmapAllocator()))
	}
	return experiment.Config{
		Variant:     j.variant,
		Capacity:    1 << x.CapacityBits,
		Seed:        x.Seed,
		RunIndex:    j.run,
		Options:     opts,
		ClockStep:   time.Duration(x.ClockStep),
		Percentiles: x.Percentiles,
		Verify:      x.Verify,
	}
}

func (x *Common) format() experiment.Format {
	return experiment.Format{
		Percentiles: x.Percentiles,
		RunColumns:  x.Runs > 1,
	}
}

var splitPrefixes = map[string]string{
	experiment.SweepName: "experiment_1_results",
	experiment.ChurnName: "experiment_2_results",
}

func (x *Common) openSinks(name string) (_ sink.Multi, err error) {
	var sinks sink.Multi
	defer func() {
		if err != nil {
			_ = sinks.Close()
		}
	}()

	f := x.format()
	output := x.Output
	if output == "" && x.SplitDir == "" && x.JSONL == "" && x.SQLite == "" {
		output = "-"
	}
	switch output {
	case "":
	case "-":
		c, err := sink.NewCSV(os.Stdout, f)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, c)
	default:
		c, err := sink.CreateCSV(output, f)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, c)
	}
	if x.SplitDir != "" {
		s, err := sink.NewSplit(x.SplitDir, splitPrefixes[name], f)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if x.JSONL != "" {
		j, err := sink.CreateJSONL(x.JSONL, x.Percentiles)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, j)
	}
	if x.SQLite != "" {
		s, err := sink.OpenSQLite(x.SQLite, x.Percentiles)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// execute runs fn for every run index and variant, at most Parallel at a
// time, and writes the runs to the sinks in (run, variant) order. A failed
// run is logged and does not stop the others. The returned error joins every
// failure other than a prefill failure.
func (x *Common) execute(name string, fn runFunc) (err error) {
	if err := setupLogging(x.LogLevel, x.LogFile); err != nil {
		return err
	}
	if err := x.validate(); err != nil {
		return err
	}
	variants, err := x.variants()
	if err != nil {
		return err
	}
	sinks, err := x.openSinks(name)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, sinks.Close())
	}()

	var jobs []job
	for r := x.Run; r < x.Run+x.Runs; r++ {
		for _, v := range variants {
			jobs = append(jobs, job{variant: v, run: r})
		}
	}
	log.Infof("%s: %d runs of capacity %d, seed %d, parallel %d",
		name, len(jobs), 1<<x.CapacityBits, x.Seed, x.Parallel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	runs := make([]*experiment.Run, len(jobs))
	errs := make([]error, len(jobs))
	var g errgroup.Group
	g.SetLimit(x.Parallel)
	start := time.Now()
	for i, j := range jobs {
		g.Go(func() error {
			runs[i], errs[i] = fn(ctx, x.config(j))
			return nil
		})
	}
	_ = g.Wait()

	f := x.format()
	var failures []error
	for i, j := range jobs {
		run, runErr := runs[i], errs[i]
		switch {
		case runErr == nil:
		case errors.Is(runErr, experiment.ErrPrefillFailure):
			log.Warningf("%s %s run %d: %v", name, j.variant, j.run, runErr)
		default:
			log.Errorf("%s %s run %d: %v", name, j.variant, j.run, runErr)
			failures = append(failures, fmt.Errorf("%s run %d: %w", j.variant, j.run, runErr))
		}
		if run == nil {
			continue
		}
		if err := sinks.WriteRun(run); err != nil {
			return err
		}
		log.Infof("%s %s run %d: %d rows, failed batch %d, load factor %.6f, digest %016x",
			name, j.variant, j.run, len(run.Rows), run.FailedBatch, run.Attained, run.Digest(f))
	}
	log.Infof("%s: finished in %s, peak rss %d MiB", name, time.Since(start).Round(time.Millisecond), maxRSS()>>20)
	return errors.Join(failures...)
}
