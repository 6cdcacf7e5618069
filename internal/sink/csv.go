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
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/hashbench"
	"github.com/cockroachdb/hashbench/internal/experiment"
)

// CSV writes one record per row after a header record.
type CSV struct {
	w      *csv.Writer
	closer io.Closer
	format experiment.Format
	rec    []string
}

// NewCSV returns a CSV sink writing to w. The header is written immediately.
// Close does not close w.
func NewCSV(w io.Writer, f experiment.Format) (*CSV, error) {
	c := &CSV{w: csv.NewWriter(w), format: f}
	if err := c.w.Write(f.Header()); err != nil {
		return nil, err
	}
	return c, nil
}

// CreateCSV creates or truncates the file at path and returns a CSV sink
// writing to it.
func CreateCSV(path string, f experiment.Format) (*CSV, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	c, err := NewCSV(file, f)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	c.closer = file
	log.Debugf("writing csv to %s", path)
	return c, nil
}

func (c *CSV) WriteRun(run *experiment.Run) error {
	for _, row := range run.Rows {
		c.rec = c.format.Record(row, c.rec)
		if err := c.w.Write(c.rec); err != nil {
			return err
		}
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *CSV) Close() error {
	c.w.Flush()
	err := c.w.Error()
	if c.closer != nil {
		err = errors.Join(err, c.closer.Close())
	}
	return err
}

// Split writes the rows of each variant to its own CSV file named
// <prefix>_<variant>.csv in a directory, with the variant in lower case.
// Files are created on the first row of their variant.
type Split struct {
	dir    string
	prefix string
	format experiment.Format
	files  map[hashbench.Variant]*CSV
}

// NewSplit returns a Split sink. The directory is created if needed.
func NewSplit(dir, prefix string, f experiment.Format) (*Split, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Split{
		dir:    dir,
		prefix: prefix,
		format: f,
		files:  make(map[hashbench.Variant]*CSV),
	}, nil
}

// Path returns the file that receives the rows of variant v.
func (s *Split) Path(v hashbench.Variant) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.csv", s.prefix, strings.ToLower(v.String())))
}

func (s *Split) WriteRun(run *experiment.Run) error {
	c, ok := s.files[run.Variant]
	if !ok {
		var err error
		if c, err = CreateCSV(s.Path(run.Variant), s.format); err != nil {
			return err
		}
		s.files[run.Variant] = c
	}
	return c.WriteRun(run)
}

func (s *Split) Close() error {
	var errs []error
	for _, v := range hashbench.Variants {
		if c, ok := s.files[v]; ok {
			errs = append(errs, c.Close())
			log.Infof("wrote %s", s.Path(v))
		}
	}
	return errors.Join(errs...)
}
