// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tablediff/tablediff/sql/sqldiff"
)

// writeBatch is the number of detail rows flushed per statement.
const writeBatch = 100

// DB persists runs into a set of report relations. Detail rows are
// upserted by (run_id, key_json), so re-running a diff against the
// same report database is idempotent.
type DB struct {
	db  *sqlx.DB
	run *Run

	buf []detailRow
}

// NewDB returns a sink writing to the given report database. The
// relations are created on Start when missing.
func NewDB(db *sqlx.DB) *DB {
	return &DB{db: db}
}

type detailRow struct {
	RunID     string    `db:"run_id"`
	KeyJSON   string    `db:"key_json"`
	Kind      string    `db:"kind"`
	LeftJSON  *string   `db:"left_json"`
	RightJSON *string   `db:"right_json"`
	Differing *string   `db:"differing_json"`
	SeenAt    time.Time `db:"seen_at"`
}

// Start creates the report relations when missing and registers the
// run row.
func (s *DB) Start(ctx context.Context, run *Run) error {
	s.run = run
	for _, ddl := range reportDDL {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sink: creating report relations: %w", err)
		}
	}
	_, err := s.db.NamedExecContext(ctx, insertRun, map[string]any{
		"run_id":      run.ID.String(),
		"left_url":    run.LeftURL,
		"right_url":   run.RightURL,
		"left_table":  run.LeftTable,
		"right_table": run.RightTable,
		"algorithm":   run.Algorithm,
		"key_columns": strings.Join(run.KeyColumns, ","),
		"columns":     strings.Join(run.Columns, ","),
		"started_at":  run.StartedAt,
	})
	if err != nil {
		return fmt.Errorf("sink: inserting run row: %w", err)
	}
	return nil
}

// Write buffers the record and flushes when the batch is full.
func (s *DB) Write(ctx context.Context, rec sqldiff.Record) error {
	key, err := json.Marshal(rec.Key.Values())
	if err != nil {
		return fmt.Errorf("sink: encoding key: %w", err)
	}
	row := detailRow{
		RunID:   s.run.ID.String(),
		KeyJSON: string(key),
		Kind:    rec.Kind.String(),
		SeenAt:  time.Now().UTC(),
	}
	if rec.Left != nil {
		row.LeftJSON = jsonColumn(rec.Left)
	}
	if rec.Right != nil {
		row.RightJSON = jsonColumn(rec.Right)
	}
	if len(rec.DifferingColumns) > 0 {
		row.Differing = jsonColumn(rec.DifferingColumns)
	}
	s.buf = append(s.buf, row)
	if len(s.buf) >= writeBatch {
		return s.flush(ctx)
	}
	return nil
}

// Close flushes pending details and records the final statistics.
func (s *DB) Close(ctx context.Context, stats *sqldiff.RunStats, runErr error) error {
	if err := s.flush(ctx); err != nil {
		return err
	}
	var errText *string
	if runErr != nil {
		t := runErr.Error()
		errText = &t
	}
	if _, err := s.db.NamedExecContext(ctx, finishRun, map[string]any{
		"run_id":      s.run.ID.String(),
		"finished_at": time.Now().UTC(),
		"error":       errText,
	}); err != nil {
		return fmt.Errorf("sink: finishing run row: %w", err)
	}
	if err := s.writeColumns(ctx, stats); err != nil {
		return err
	}
	if err := s.writeTimeline(ctx, stats); err != nil {
		return err
	}
	return s.writeMetrics(ctx, stats)
}

func (s *DB) flush(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}
	query := insertDetail + s.upsertSuffix()
	if _, err := s.db.NamedExecContext(ctx, query, s.buf); err != nil {
		return fmt.Errorf("sink: writing details: %w", err)
	}
	s.buf = s.buf[:0]
	return nil
}

// upsertSuffix picks the conflict clause of the report backend.
func (s *DB) upsertSuffix() string {
	if s.db.DriverName() == "mysql" {
		return " ON DUPLICATE KEY UPDATE kind = VALUES(kind), left_json = VALUES(left_json), right_json = VALUES(right_json), differing_json = VALUES(differing_json), seen_at = VALUES(seen_at)"
	}
	return " ON CONFLICT (run_id, key_json) DO UPDATE SET kind = excluded.kind, left_json = excluded.left_json, right_json = excluded.right_json, differing_json = excluded.differing_json, seen_at = excluded.seen_at"
}

func (s *DB) writeColumns(ctx context.Context, stats *sqldiff.RunStats) error {
	for name, cs := range stats.Columns() {
		if _, err := s.db.NamedExecContext(ctx, insertColumnStats, map[string]any{
			"run_id":      s.run.ID.String(),
			"column_name": name,
			"compared":    cs.Compared,
			"differing":   cs.Differing,
		}); err != nil {
			return fmt.Errorf("sink: writing column stats: %w", err)
		}
	}
	return nil
}

func (s *DB) writeTimeline(ctx context.Context, stats *sqldiff.RunStats) error {
	for period, n := range stats.Timeline() {
		if _, err := s.db.NamedExecContext(ctx, insertTimeline, map[string]any{
			"run_id": s.run.ID.String(),
			"period": period,
			"diffs":  n,
		}); err != nil {
			return fmt.Errorf("sink: writing timeline: %w", err)
		}
	}
	return nil
}

func (s *DB) writeMetrics(ctx context.Context, stats *sqldiff.RunStats) error {
	metrics := map[string]int64{
		"rows_left":     stats.RowsLeft(),
		"rows_right":    stats.RowsRight(),
		"checksums":     stats.Checksums(),
		"segments":      stats.Segments(),
		"rows_fetched":  stats.RowsFetched(),
		"bytes_fetched": stats.BytesFetched(),
		"diffs":         stats.Diffs(),
	}
	for name, d := range stats.Phases() {
		metrics["phase_ms_"+name] = d.Milliseconds()
	}
	for name, v := range metrics {
		if _, err := s.db.NamedExecContext(ctx, insertMetric, map[string]any{
			"run_id": s.run.ID.String(),
			"metric": name,
			"value":  v,
		}); err != nil {
			return fmt.Errorf("sink: writing metrics: %w", err)
		}
	}
	return nil
}

func jsonColumn(v any) *string {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	t := string(b)
	return &t
}

var reportDDL = []string{
	`CREATE TABLE IF NOT EXISTS diff_runs (
	run_id      VARCHAR(36) PRIMARY KEY,
	left_url    TEXT,
	right_url   TEXT,
	left_table  TEXT,
	right_table TEXT,
	algorithm   VARCHAR(16),
	key_columns TEXT,
	columns     TEXT,
	started_at  TIMESTAMP,
	finished_at TIMESTAMP NULL,
	error       TEXT NULL
)`,
	`CREATE TABLE IF NOT EXISTS diff_details (
	run_id         VARCHAR(36),
	key_json       VARCHAR(512),
	kind           VARCHAR(32),
	left_json      TEXT NULL,
	right_json     TEXT NULL,
	differing_json TEXT NULL,
	seen_at        TIMESTAMP,
	PRIMARY KEY (run_id, key_json)
)`,
	`CREATE TABLE IF NOT EXISTS diff_column_stats (
	run_id      VARCHAR(36),
	column_name VARCHAR(128),
	compared    BIGINT,
	differing   BIGINT,
	PRIMARY KEY (run_id, column_name)
)`,
	`CREATE TABLE IF NOT EXISTS diff_timeline (
	run_id VARCHAR(36),
	period VARCHAR(32),
	diffs  BIGINT,
	PRIMARY KEY (run_id, period)
)`,
	`CREATE TABLE IF NOT EXISTS diff_metrics (
	run_id VARCHAR(36),
	metric VARCHAR(64),
	value  BIGINT,
	PRIMARY KEY (run_id, metric)
)`,
}

const (
	insertRun = `INSERT INTO diff_runs (run_id, left_url, right_url, left_table, right_table, algorithm, key_columns, columns, started_at)
VALUES (:run_id, :left_url, :right_url, :left_table, :right_table, :algorithm, :key_columns, :columns, :started_at)`

	finishRun = `UPDATE diff_runs SET finished_at = :finished_at, error = :error WHERE run_id = :run_id`

	insertDetail = `INSERT INTO diff_details (run_id, key_json, kind, left_json, right_json, differing_json, seen_at)
VALUES (:run_id, :key_json, :kind, :left_json, :right_json, :differing_json, :seen_at)`

	insertColumnStats = `INSERT INTO diff_column_stats (run_id, column_name, compared, differing)
VALUES (:run_id, :column_name, :compared, :differing)`

	insertTimeline = `INSERT INTO diff_timeline (run_id, period, diffs)
VALUES (:run_id, :period, :diffs)`

	insertMetric = `INSERT INTO diff_metrics (run_id, metric, value)
VALUES (:run_id, :metric, :value)`
)
