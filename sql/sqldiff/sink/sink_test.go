// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sink_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/tablediff/tablediff/sql/sqlclient"
	"github.com/tablediff/tablediff/sql/sqldiff"
	"github.com/tablediff/tablediff/sql/sqldiff/sink"
	"github.com/tablediff/tablediff/sql/sqlite"
)

// kv builds string key components for test records.
type kv string

func (v kv) String() string { return string(v) }

func testRun() *sink.Run {
	return &sink.Run{
		ID:         uuid.New(),
		LeftURL:    "sqlite://left",
		RightURL:   "sqlite://right",
		LeftTable:  "users",
		RightTable: "users",
		KeyColumns: []string{"id"},
		Columns:    []string{"name"},
		Algorithm:  "hashdiff",
		StartedAt:  time.Now().UTC(),
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := &sink.Memory{}
	require.NoError(t, m.Start(ctx, testRun()))
	require.NoError(t, m.Write(ctx, sqldiff.Record{Kind: sqldiff.Changed, Key: sqldiff.Key{kv("1")}}))
	require.NoError(t, m.Write(ctx, sqldiff.Record{Kind: sqldiff.MissingOnLeft, Key: sqldiff.Key{kv("2")}}))
	boom := errors.New("boom")
	require.NoError(t, m.Close(ctx, &sqldiff.RunStats{}, boom))

	recs := m.Records()
	require.Len(t, recs, 2)
	require.Equal(t, sqldiff.Changed, recs[0].Kind)
	require.ErrorIs(t, m.Err(), boom)
}

func TestJSONLines(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	j := sink.NewJSONLines(&buf)
	run := testRun()
	require.NoError(t, j.Start(ctx, run))
	require.NoError(t, j.Write(ctx, sqldiff.Record{
		Kind:             sqldiff.Changed,
		Key:              sqldiff.Key{kv("7")},
		Left:             []string{"bob"},
		Right:            []string{"bobby"},
		DifferingColumns: []string{"name"},
	}))
	require.NoError(t, j.Write(ctx, sqldiff.Record{
		Kind: sqldiff.MissingOnRight,
		Key:  sqldiff.Key{kv("9")},
		Left: []string{"carol"},
	}))
	require.NoError(t, j.Close(ctx, &sqldiff.RunStats{}, nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, run.ID.String(), first["run_id"])
	require.Equal(t, "changed", first["kind"])
	require.Equal(t, []any{"7"}, first["key"])
	require.Equal(t, []any{"name"}, first["differing_columns"])

	// Empty sides are omitted entirely.
	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.Equal(t, "missing_on_right", second["kind"])
	require.NotContains(t, second, "right")
}

func openReportDB(t *testing.T) *sqlx.DB {
	db, err := sql.Open(sqlite.DriverName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlite3")
}

func TestDB(t *testing.T) {
	ctx := context.Background()
	db := openReportDB(t)
	s := sink.NewDB(db)
	run := testRun()
	require.NoError(t, s.Start(ctx, run))
	require.NoError(t, s.Write(ctx, sqldiff.Record{
		Kind:             sqldiff.Changed,
		Key:              sqldiff.Key{kv("1")},
		Left:             []string{"bob"},
		Right:            []string{"bobby"},
		DifferingColumns: []string{"name"},
	}))
	require.NoError(t, s.Write(ctx, sqldiff.Record{
		Kind: sqldiff.MissingOnRight,
		Key:  sqldiff.Key{kv("2")},
		Left: []string{"carol"},
	}))
	// A key reported twice upserts, so the later state wins.
	require.NoError(t, s.Write(ctx, sqldiff.Record{
		Kind:  sqldiff.MissingOnLeft,
		Key:   sqldiff.Key{kv("2")},
		Right: []string{"caroline"},
	}))
	require.NoError(t, s.Close(ctx, &sqldiff.RunStats{}, nil))

	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM diff_details WHERE run_id = ?`, run.ID.String()))
	require.Equal(t, 2, n)

	var kind string
	require.NoError(t, db.Get(&kind, `SELECT kind FROM diff_details WHERE run_id = ? AND key_json = ?`, run.ID.String(), `["2"]`))
	require.Equal(t, "missing_on_left", kind)

	var row struct {
		Algorithm  string         `db:"algorithm"`
		FinishedAt sql.NullString `db:"finished_at"`
		Error      sql.NullString `db:"error"`
	}
	require.NoError(t, db.Get(&row, `SELECT algorithm, finished_at, error FROM diff_runs WHERE run_id = ?`, run.ID.String()))
	require.Equal(t, "hashdiff", row.Algorithm)
	require.True(t, row.FinishedAt.Valid)
	require.False(t, row.Error.Valid)

	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM diff_metrics WHERE run_id = ?`, run.ID.String()))
	require.GreaterOrEqual(t, n, 7)
}

func TestDB_RunError(t *testing.T) {
	ctx := context.Background()
	db := openReportDB(t)
	s := sink.NewDB(db)
	run := testRun()
	require.NoError(t, s.Start(ctx, run))
	require.NoError(t, s.Close(ctx, &sqldiff.RunStats{}, errors.New("left side went away")))

	var errText sql.NullString
	require.NoError(t, db.Get(&errText, `SELECT error FROM diff_runs WHERE run_id = ?`, run.ID.String()))
	require.True(t, errText.Valid)
	require.Contains(t, errText.String, "went away")
}

func TestDrain(t *testing.T) {
	ctx := context.Background()
	c, err := sqlclient.Open(ctx, "sqlite://sinkdrain?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	for _, stmt := range []string{
		`CREATE TABLE src (id INTEGER NOT NULL PRIMARY KEY, name TEXT)`,
		`CREATE TABLE dst (id INTEGER NOT NULL PRIMARY KEY, name TEXT)`,
		`INSERT INTO src VALUES (1, 'alice'), (2, 'bob')`,
		`INSERT INTO dst VALUES (1, 'alice'), (2, 'bobby')`,
	} {
		_, err := c.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	stream, err := sqldiff.DiffTables(ctx,
		&sqldiff.TableSegment{DB: c, Table: "src", KeyColumns: []string{"id"}},
		&sqldiff.TableSegment{DB: c, Table: "dst", KeyColumns: []string{"id"}},
		sqldiff.Options{},
	)
	require.NoError(t, err)

	m := &sink.Memory{}
	require.NoError(t, sink.Drain(ctx, m, &sink.Run{
		ID:         stream.RunID(),
		LeftTable:  "src",
		RightTable: "dst",
		KeyColumns: stream.KeyColumns(),
		Columns:    stream.Columns(),
		StartedAt:  time.Now().UTC(),
	}, stream))
	recs := m.Records()
	require.Len(t, recs, 1)
	require.Equal(t, sqldiff.Changed, recs[0].Kind)
	require.Equal(t, []string{"name"}, recs[0].DifferingColumns)
	require.NoError(t, m.Err())
}
