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

// Package experiment drives a table variant through one of two workloads and
// records one metrics row per checkpoint or batch:
//
//   - Sweep fills the table through a list of ascending load factors and, at
//     each one, measures the inserts of the segment just completed and a
//     fresh sample of lookups.
//   - Churn prefills the table and then applies a fixed number of mixed
//     operations in batches that preserve the number of live keys.
//
// A run owns its table, generator and recorder, so runs with different seeds
// or variants may execute in parallel.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"time"

	"github.com/cockroachdb/hashbench"
	"github.com/cockroachdb/hashbench/internal/metrics"
	"github.com/cockroachdb/hashbench/internal/workload"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("experiment")

var (
	// ErrPrefillFailure is returned by Churn when the table cannot be filled
	// to the prefill load factor. It ends that run only.
	ErrPrefillFailure = errors.New("hashbench: prefill failed")
	// ErrInvalidConfig is returned for a malformed experiment configuration.
	ErrInvalidConfig = errors.New("hashbench: invalid experiment config")
	// ErrKeyLost is returned when a key the driver inserted is not found by a
	// lookup or delete. It indicates a broken table.
	ErrKeyLost = errors.New("hashbench: live key not found")
)

// Experiment names as they appear in the experiment column.
const (
	SweepName = "exp1"
	ChurnName = "exp2"
)

// DefaultLoadFactors are the sweep checkpoints.
var DefaultLoadFactors = []float64{0.25, 0.5, 0.75, 0.85, 0.9, 0.95}

const (
	DefaultLookupSample      = 10_000
	DefaultPrefillLoadFactor = 0.8
	DefaultTotalOps          = 1_000_000
	DefaultBatchSize         = 10_000

	// Churn logs progress every progressInterval batches.
	progressInterval = 10
)

// Config holds the settings shared by both experiments.
type Config struct {
	Variant  hashbench.Variant
	Capacity int
	// Seed and RunIndex seed the workload generator with Seed+RunIndex.
	Seed     uint64
	RunIndex int
	// Options are passed to the table constructor.
	Options []hashbench.Option
	// ClockStep, if non-zero, replaces the monotonic clock with a StepClock
	// so every latency column is reproducible.
	ClockStep time.Duration
	// Percentiles enables the p95 latency of every batch.
	Percentiles bool
	// Verify checks the table's structural invariants at every checkpoint.
	Verify bool
}

func (c Config) validate() error {
	if c.Capacity <= 0 || bits.OnesCount(uint(c.Capacity)) != 1 {
		return fmt.Errorf("%w: %d", hashbench.ErrInvalidCapacity, c.Capacity)
	}
	if int(c.Variant) >= len(hashbench.Variants) {
		return fmt.Errorf("%w: %s", hashbench.ErrUnknownVariant, c.Variant)
	}
	if c.RunIndex < 0 {
		return fmt.Errorf("%w: negative run index %d", ErrInvalidConfig, c.RunIndex)
	}
	if c.ClockStep < 0 {
		return fmt.Errorf("%w: negative clock step %s", ErrInvalidConfig, c.ClockStep)
	}
	return nil
}

func (c Config) clock() metrics.Clock {
	if c.ClockStep > 0 {
		return &metrics.StepClock{Step: c.ClockStep}
	}
	return metrics.Monotonic()
}

// target returns the number of keys at load factor lf.
func (c Config) target(lf float64) int {
	return int(math.Floor(float64(c.Capacity) * lf))
}

func (c Config) newRun(name string) *Run {
	return &Run{
		Experiment:  name,
		Variant:     c.Variant,
		Seed:        c.Seed,
		RunIndex:    c.RunIndex,
		Capacity:    c.Capacity,
		FailedBatch: -1,
	}
}

// SweepConfig configures a load-factor sweep.
type SweepConfig struct {
	Config
	// LoadFactors are the checkpoints, strictly ascending, each in (0, 1].
	LoadFactors []float64
	// LookupSample is the number of lookups timed at each checkpoint.
	LookupSample int
}

// DefaultSweepConfig returns the sweep settings of the reference experiment
// for variant v.
func DefaultSweepConfig(v hashbench.Variant, seed uint64) SweepConfig {
	return SweepConfig{
		Config: Config{
			Variant:  v,
			Capacity: hashbench.DefaultCapacity,
			Seed:     seed,
		},
		LoadFactors:  DefaultLoadFactors,
		LookupSample: DefaultLookupSample,
	}
}

func (c SweepConfig) validate() error {
	if err := c.Config.validate(); err != nil {
		return err
	}
	if len(c.LoadFactors) == 0 {
		return fmt.Errorf("%w: no load factors", ErrInvalidConfig)
	}
	prev := 0.0
	for _, lf := range c.LoadFactors {
		if math.IsNaN(lf) || lf <= prev || lf > 1 {
			return fmt.Errorf("%w: load factors %v must ascend within (0, 1]", ErrInvalidConfig, c.LoadFactors)
		}
		prev = lf
	}
	if c.LookupSample < 0 {
		return fmt.Errorf("%w: negative lookup sample %d", ErrInvalidConfig, c.LookupSample)
	}
	return nil
}

// ChurnConfig configures a churn run.
type ChurnConfig struct {
	Config
	PrefillLoadFactor float64
	TotalOps          int
	BatchSize         int
	Mix               workload.Mix
}

// DefaultChurnConfig returns the churn settings of the reference experiment
// for variant v.
func DefaultChurnConfig(v hashbench.Variant, seed uint64) ChurnConfig {
	return ChurnConfig{
		Config: Config{
			Variant:  v,
			Capacity: hashbench.DefaultCapacity,
			Seed:     seed,
		},
		PrefillLoadFactor: DefaultPrefillLoadFactor,
		TotalOps:          DefaultTotalOps,
		BatchSize:         DefaultBatchSize,
		Mix:               workload.DefaultMix,
	}
}

func (c ChurnConfig) validate() error {
	if err := c.Config.validate(); err != nil {
		return err
	}
	if math.IsNaN(c.PrefillLoadFactor) || c.PrefillLoadFactor < 0 || c.PrefillLoadFactor > 1 {
		return fmt.Errorf("%w: prefill load factor %v out of range [0, 1]", ErrInvalidConfig, c.PrefillLoadFactor)
	}
	if c.TotalOps < 0 {
		return fmt.Errorf("%w: negative operation count %d", ErrInvalidConfig, c.TotalOps)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size %d must be positive", ErrInvalidConfig, c.BatchSize)
	}
	if err := c.Mix.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Sweep runs a load-factor sweep. On a failed insert the run stops after
// emitting a final row; this is not an error and is reported through
// Run.FailedBatch and Run.Attained. The returned Run holds every row emitted
// before an error, if any.
func Sweep(ctx context.Context, cfg SweepConfig) (*Run, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	switch cfg.Variant {
	case hashbench.LinearProbing:
		return sweep(ctx, cfg, hashbench.NewLinear(cfg.Capacity, cfg.Options...))
	case hashbench.RobinHoodHashing:
		return sweep(ctx, cfg, hashbench.NewRobinHood(cfg.Capacity, cfg.Options...))
	case hashbench.Chaining:
		return sweep(ctx, cfg, hashbench.NewChained(cfg.Capacity, cfg.Options...))
	default:
		return sweep(ctx, cfg, hashbench.NewCuckoo(cfg.Capacity, cfg.Options...))
	}
}

// Churn runs a churn experiment. A prefill failure returns an error wrapping
// ErrPrefillFailure. Failed inserts during churn are skipped and reported
// through Run.FailedBatch.
func Churn(ctx context.Context, cfg ChurnConfig) (*Run, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	switch cfg.Variant {
	case hashbench.LinearProbing:
		return churn(ctx, cfg, hashbench.NewLinear(cfg.Capacity, cfg.Options...))
	case hashbench.RobinHoodHashing:
		return churn(ctx, cfg, hashbench.NewRobinHood(cfg.Capacity, cfg.Options...))
	case hashbench.Chaining:
		return churn(ctx, cfg, hashbench.NewChained(cfg.Capacity, cfg.Options...))
	default:
		return churn(ctx, cfg, hashbench.NewCuckoo(cfg.Capacity, cfg.Options...))
	}
}

func lostKey(op hashbench.Op, key uint64) error {
	return fmt.Errorf("%w: %s %#x", ErrKeyLost, op, key)
}
