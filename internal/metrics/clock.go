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

package metrics

import "time"

// Clock returns readings of a monotonic clock as offsets from an arbitrary
// origin. Only differences between readings are meaningful.
type Clock interface {
	Now() time.Duration
}

type monotonic struct {
	origin time.Time
}

// Monotonic returns a Clock backed by the runtime's monotonic clock.
func Monotonic() Clock {
	return monotonic{origin: time.Now()}
}

func (c monotonic) Now() time.Duration {
	return time.Since(c.origin)
}

// StepClock is a fake Clock whose every reading advances by Step, so each
// timed operation appears to take exactly Step. It makes latency columns
// reproducible across runs.
type StepClock struct {
	Step time.Duration
	now  time.Duration
}

func (c *StepClock) Now() time.Duration {
	c.now += c.Step
	return c.now
}
