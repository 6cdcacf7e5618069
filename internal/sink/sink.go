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

// Package sink writes experiment runs to CSV, JSON lines or SQLite.
package sink

import (
	"errors"

	"github.com/cockroachdb/hashbench/internal/experiment"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("sink")

// Sink receives completed runs in order. Implementations are not safe for
// concurrent use.
type Sink interface {
	WriteRun(run *experiment.Run) error
	// Close flushes buffered output and releases the destination.
	Close() error
}

// Multi writes every run to each of its sinks in turn.
type Multi []Sink

func (m Multi) WriteRun(run *experiment.Run) error {
	for _, s := range m {
		if err := s.WriteRun(run); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink, returning the joined errors.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
