// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqldiff

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tablediff/tablediff/sql/schema"
)

func usersTable() *schema.Table {
	id := &schema.Column{Name: "id", Type: &schema.ColumnType{Type: &schema.IntegerType{T: "bigint"}}}
	t := &schema.Table{
		Name:   "users",
		Schema: "public",
		Columns: []*schema.Column{
			id,
			{Name: "name", Type: &schema.ColumnType{Type: &schema.StringType{T: "text"}, Null: true}},
			{Name: "total", Type: &schema.ColumnType{Type: &schema.DecimalType{T: "numeric", Precision: 10, Scale: 2}, Null: true}},
		},
		PrimaryKey: []*schema.Column{id},
	}
	return t
}

func sideSegment(db *testDB, tbl *schema.Table) *TableSegment {
	db.t = tbl
	return &TableSegment{DB: db, Schema: "public", Table: "users", KeyColumns: []string{"id"}}
}

func TestApplyDefaults(t *testing.T) {
	var opts Options
	applyDefaults(&opts)
	require.Equal(t, AlgorithmAuto, opts.Algorithm)
	require.Equal(t, DefaultBisectionFactor, opts.BisectionFactor)
	require.Equal(t, DefaultBisectionThreshold, opts.BisectionThreshold)
	require.Equal(t, 1, opts.Threads)
	require.Equal(t, DefaultTimestampPrecision, opts.TimestampPrecision)
	require.NotNil(t, opts.Logger)
}

func TestNewRun_Validation(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	tbl := usersTable()

	_, err := newRun(ctx, nil, sideSegment(db, tbl), Options{})
	require.True(t, IsValidationError(err))

	_, err = newRun(ctx, &TableSegment{DB: db}, sideSegment(db, tbl), Options{})
	require.True(t, IsValidationError(err))

	for _, opts := range []Options{
		{BisectionFactor: 1},
		{BisectionThreshold: -1},
		{Threads: -1},
		{Sampling: &SamplingOptions{Method: "stratified", Percent: 10}},
		{Sampling: &SamplingOptions{}},
		{Sampling: &SamplingOptions{Confidence: 0.85, Margin: 0.05}},
	} {
		_, err = newRun(ctx, sideSegment(db, tbl), sideSegment(db, tbl), opts)
		require.True(t, IsValidationError(err), "opts %+v", opts)
	}

	// Key columns must exist, agree in arity and in checksum width.
	l := sideSegment(db, tbl)
	l.KeyColumns = nil
	_, err = newRun(ctx, l, sideSegment(db, tbl), Options{})
	require.True(t, IsValidationError(err))

	r := sideSegment(db, tbl)
	r.KeyColumns = []string{"id", "name"}
	_, err = newRun(ctx, sideSegment(db, tbl), r, Options{})
	require.True(t, IsValidationError(err))

	wide, _ := newTestDB(t)
	wide.d.digits = 16
	wide.t = tbl
	_, err = newRun(ctx, sideSegment(db, tbl), sideSegment(wide, tbl), Options{})
	require.True(t, IsValidationError(err))
}

func TestNewRun_AutoAlgorithm(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	tbl := usersTable()

	// Same database handle with a key-covered primary key joins.
	rn, err := newRun(ctx, sideSegment(db, tbl), sideSegment(db, tbl), Options{})
	require.NoError(t, err)
	require.Equal(t, AlgorithmJoinDiff, rn.opts.Algorithm)
	// Extras are the intersected non-key columns, in table order.
	require.Equal(t, []string{"name", "total"}, rn.left.ExtraColumns)
	require.Equal(t, []string{"name", "total"}, rn.right.ExtraColumns)

	// Distinct handles hash.
	other, _ := newTestDB(t)
	rn, err = newRun(ctx, sideSegment(db, tbl), sideSegment(other, tbl), Options{})
	require.NoError(t, err)
	require.Equal(t, AlgorithmHashDiff, rn.opts.Algorithm)

	// An explicit joindiff across databases is rejected.
	_, err = newRun(ctx, sideSegment(db, tbl), sideSegment(other, tbl), Options{Algorithm: AlgorithmJoinDiff})
	require.True(t, IsValidationError(err))

	// Without a primary key, auto falls back to hashing and an
	// explicit joindiff is rejected.
	noPK := usersTable()
	noPK.PrimaryKey = nil
	rn, err = newRun(ctx, sideSegment(db, noPK), sideSegment(db, noPK), Options{})
	require.NoError(t, err)
	require.Equal(t, AlgorithmHashDiff, rn.opts.Algorithm)
	_, err = newRun(ctx, sideSegment(db, noPK), sideSegment(db, noPK), Options{Algorithm: AlgorithmJoinDiff})
	require.True(t, IsValidationError(err))

	_, err = newRun(ctx, sideSegment(db, tbl), sideSegment(db, tbl), Options{Algorithm: "quantum"})
	require.True(t, IsValidationError(err))
}

func TestNewRun_ColumnRemapping(t *testing.T) {
	ctx := context.Background()
	// The sides resolve different tables, so each needs its own fake.
	ldb, _ := newTestDB(t)
	rdb, _ := newTestDB(t)
	left := usersTable()
	right := usersTable()
	right.Columns[1].Name = "full_name"

	rn, err := newRun(ctx, sideSegment(ldb, left), sideSegment(rdb, right), Options{
		ExtraColumns:    []string{"name"},
		ColumnRemapping: map[string]string{"name": "full_name"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"name"}, rn.left.ExtraColumns)
	require.Equal(t, []string{"full_name"}, rn.right.ExtraColumns)
}

func TestNewRun_MissingColumnWarning(t *testing.T) {
	ctx := context.Background()
	ldb, _ := newTestDB(t)
	rdb, _ := newTestDB(t)
	left := usersTable()
	right := usersTable()
	right.Columns = right.Columns[:2] // drop "total"

	rn, err := newRun(ctx, sideSegment(ldb, left), sideSegment(rdb, right), Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"name"}, rn.left.ExtraColumns)
	warns := rn.stats.Warnings()
	require.Len(t, warns, 1)
	require.Equal(t, WarnColumnMissing, warns[0].Code)
}

func TestNewRun_UnsupportedColumn(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	tbl := usersTable()
	tbl.Columns = append(tbl.Columns, &schema.Column{
		Name: "shape",
		Type: &schema.ColumnType{Type: &schema.UnsupportedType{T: "geometry"}, Null: true},
	})

	rn, err := newRun(ctx, sideSegment(db, tbl), sideSegment(db, tbl), Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"name", "total"}, rn.left.ExtraColumns)
	warns := rn.stats.Warnings()
	require.Len(t, warns, 1)
	require.Equal(t, WarnUnsupportedColumn, warns[0].Code)

	_, err = newRun(ctx, sideSegment(db, tbl), sideSegment(db, tbl), Options{StrictTypeChecking: true})
	require.True(t, IsSchemaError(err))

	// Unsupported key columns fail regardless of strictness.
	l := sideSegment(db, tbl)
	l.KeyColumns = []string{"shape"}
	r := sideSegment(db, tbl)
	r.KeyColumns = []string{"shape"}
	_, err = newRun(ctx, l, r, Options{})
	require.True(t, IsValidationError(err))
}

func TestNewRun_PrecisionClamp(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	tbl := usersTable()
	rn, err := newRun(ctx, sideSegment(db, tbl), sideSegment(db, tbl), Options{TimestampPrecision: 9})
	require.NoError(t, err)
	require.Equal(t, 6, rn.opts.TimestampPrecision)
	warns := rn.stats.Warnings()
	require.Len(t, warns, 1)
	require.Equal(t, WarnPrecisionLoss, warns[0].Code)
}

func TestRemapColumns(t *testing.T) {
	out := remapColumns([]string{"a", "b", "c"}, map[string]string{"b": "bb"})
	require.Equal(t, []string{"a", "bb", "c"}, out)
	require.Equal(t, []string{"a"}, remapColumns([]string{"a"}, nil))
}

func TestParseRawBounds(t *testing.T) {
	space := &KeySpace{Domains: []KeyDomain{intDomain{}}}
	s := &TableSegment{MinKeyRaw: []string{"10"}, MaxKeyRaw: []string{"20"}}
	require.NoError(t, parseRawBounds(s, space))
	require.Equal(t, Key{intValue(10)}, s.MinKey)
	require.Equal(t, Key{intValue(20)}, s.MaxKey)

	s = &TableSegment{MinKeyRaw: []string{"x"}}
	require.True(t, IsValidationError(parseRawBounds(s, space)))

	// Parsed bounds take precedence over raw forms.
	s = &TableSegment{MinKeyRaw: []string{"10"}}
	s.MinKey = Key{intValue(5)}
	require.NoError(t, parseRawBounds(s, space))
	require.Equal(t, Key{intValue(5)}, s.MinKey)
}

func TestNewRun_RawBounds(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	tbl := usersTable()
	l := sideSegment(db, tbl)
	l.MinKeyRaw, l.MaxKeyRaw = []string{"100"}, []string{"200"}
	r := sideSegment(db, tbl)
	r.MinKeyRaw, r.MaxKeyRaw = []string{"100"}, []string{"200"}
	rn, err := newRun(ctx, l, r, Options{})
	require.NoError(t, err)
	require.Equal(t, Key{intValue(100)}, rn.left.MinKey)
	require.Equal(t, Key{intValue(200)}, rn.left.MaxKey)

	l = sideSegment(db, tbl)
	l.MinKeyRaw, l.MaxKeyRaw = []string{"200"}, []string{"100"}
	_, err = newRun(ctx, l, sideSegment(db, tbl), Options{})
	require.True(t, IsValidationError(err))
}
