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
	"database/sql"
	"errors"
	"fmt"

	"github.com/cockroachdb/hashbench"
	"github.com/cockroachdb/hashbench/internal/experiment"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	experiment   TEXT    NOT NULL,
	variant      TEXT    NOT NULL,
	seed         INTEGER NOT NULL,
	run          INTEGER NOT NULL,
	capacity     INTEGER NOT NULL,
	batches      INTEGER NOT NULL,
	failed_batch INTEGER,
	attained     REAL    NOT NULL,
	PRIMARY KEY (experiment, variant, seed, run)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS metrics (
	experiment       TEXT    NOT NULL,
	variant          TEXT    NOT NULL,
	seed             INTEGER NOT NULL,
	run              INTEGER NOT NULL,
	batch            INTEGER NOT NULL,
	load_factor      REAL    NOT NULL,
	len              INTEGER NOT NULL,
	avg_insert       REAL,
	avg_lookup       REAL,
	avg_delete       REAL,
	p95_insert       INTEGER,
	p95_lookup       INTEGER,
	p95_delete       INTEGER,
	avg_probe        REAL,
	max_probe        INTEGER,
	avg_chain        REAL,
	max_chain        INTEGER,
	avg_displacement REAL,
	max_displacement INTEGER,
	tombstones       INTEGER,
	failed_inserts   INTEGER NOT NULL,
	PRIMARY KEY (experiment, variant, seed, run, batch)
) WITHOUT ROWID;
`

const (
	insertRunSQL = `
INSERT OR REPLACE INTO runs
(experiment, variant, seed, run, capacity, batches, failed_batch, attained)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	deleteRowsSQL = `
DELETE FROM metrics WHERE experiment = ? AND variant = ? AND seed = ? AND run = ?`

	insertRowSQL = `
INSERT OR REPLACE INTO metrics
(experiment, variant, seed, run, batch, load_factor, len,
 avg_insert, avg_lookup, avg_delete, p95_insert, p95_lookup, p95_delete,
 avg_probe, max_probe, avg_chain, max_chain, avg_displacement, max_displacement,
 tombstones, failed_inserts)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// SQLite stores runs and rows in a SQLite database, one transaction per run.
// Rerunning the same (experiment, variant, seed, run) replaces its rows.
type SQLite struct {
	db          *sql.DB
	percentiles bool
}

// OpenSQLite opens or creates the database at path and ensures the schema.
func OpenSQLite(path string, percentiles bool) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	for _, stmt := range []string{"PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL", sqliteSchema} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", path, err)
		}
	}
	log.Debugf("writing sqlite to %s", path)
	return &SQLite{db: db, percentiles: percentiles}, nil
}

// DB returns the underlying database.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func (s *SQLite) WriteRun(run *experiment.Run) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	// SQLite integers are signed; seeds keep their bit pattern.
	seed := int64(run.Seed)
	failed := sql.NullInt64{Int64: int64(run.FailedBatch), Valid: run.FailedBatch > 0}
	if _, err = tx.Exec(insertRunSQL,
		run.Experiment, run.Variant.String(), seed, run.RunIndex,
		run.Capacity, len(run.Rows), failed, run.Attained,
	); err != nil {
		return err
	}
	// A rerun may have fewer batches than the rows it replaces.
	if _, err = tx.Exec(deleteRowsSQL,
		run.Experiment, run.Variant.String(), seed, run.RunIndex,
	); err != nil {
		return err
	}

	stmt, err := tx.Prepare(insertRowSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, row := range run.Rows {
		if _, err = stmt.Exec(s.args(row, seed)...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) args(r experiment.Row, seed int64) []any {
	args := []any{
		r.Experiment, r.Variant.String(), seed, r.RunIndex, r.Batch,
		r.LoadFactor(), r.Snapshot.Stats.Len,
	}
	for _, op := range []hashbench.Op{hashbench.OpInsert, hashbench.OpLookup, hashbench.OpDelete} {
		mean, ok := r.Latency(op)
		args = append(args, sql.NullFloat64{Float64: mean, Valid: ok})
	}
	for _, op := range []hashbench.Op{hashbench.OpInsert, hashbench.OpLookup, hashbench.OpDelete} {
		p95, ok := r.P95(op)
		args = append(args, sql.NullInt64{Int64: p95.Nanoseconds(), Valid: ok && s.percentiles})
	}
	for _, summary := range []func() (float64, int, bool){r.Probe, r.Chain, r.Displacement} {
		avg, peak, ok := summary()
		args = append(args, sql.NullFloat64{Float64: avg, Valid: ok}, sql.NullInt64{Int64: int64(peak), Valid: ok})
	}
	tombstones, ok := r.Tombstones()
	return append(args,
		sql.NullInt64{Int64: int64(tombstones), Valid: ok},
		r.Snapshot.Stats.FailedInserts,
	)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
