// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package mysql

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tablediff/tablediff/sql/internal/sqlx"
	"github.com/tablediff/tablediff/sql/schema"
	"github.com/tablediff/tablediff/sql/sqldiff"
)

func TestDriver_Quoting(t *testing.T) {
	d := &Driver{}
	require.Equal(t, "`users`", d.QuoteIdent("users"))
	require.Equal(t, "`a``b`", d.QuoteIdent("a`b"))
	require.Equal(t, "'it''s'", d.QuoteLiteral("it's"))
	require.Equal(t, `'a\\b'`, d.QuoteLiteral(`a\b`))
}

func TestDriver_NormalizeExpr(t *testing.T) {
	opts := sqldiff.NormalizeOptions{
		CaseSensitive:      true,
		FloatScale:         6,
		TimestampPrecision: 6,
	}
	tests := []struct {
		name     string
		typ      schema.Type
		opts     sqldiff.NormalizeOptions
		expected string
	}{
		{
			name:     "integer",
			typ:      &schema.IntegerType{T: "bigint"},
			opts:     opts,
			expected: "CAST(`c` AS CHAR)",
		},
		{
			name:     "bool",
			typ:      &schema.BoolType{T: "tinyint"},
			opts:     opts,
			expected: "CAST(`c` AS CHAR)",
		},
		{
			name:     "decimal",
			typ:      &schema.DecimalType{T: "decimal", Precision: 10, Scale: 2},
			opts:     opts,
			expected: "CAST(CAST(`c` AS DECIMAL(65, 2)) AS CHAR)",
		},
		{
			name:     "float",
			typ:      &schema.FloatType{T: "double"},
			opts:     opts,
			expected: "CAST(CAST(`c` AS DECIMAL(65, 6)) AS CHAR)",
		},
		{
			name:     "string",
			typ:      &schema.StringType{T: "varchar"},
			opts:     opts,
			expected: "`c`",
		},
		{
			name:     "string folded",
			typ:      &schema.StringType{T: "varchar"},
			opts:     sqldiff.NormalizeOptions{FloatScale: 6, TimestampPrecision: 6},
			expected: "LOWER(`c`)",
		},
		{
			name:     "date",
			typ:      &schema.TimeType{T: "date", DateOnly: true},
			opts:     opts,
			expected: "DATE_FORMAT(`c`, '%Y-%m-%d')",
		},
		{
			name:     "datetime",
			typ:      &schema.TimeType{T: "datetime", Precision: 6},
			opts:     opts,
			expected: "LEFT(DATE_FORMAT(CAST(`c` AS DATETIME(6)), '%Y-%m-%d %H:%i:%S.%f'), 26)",
		},
		{
			name:     "datetime millis",
			typ:      &schema.TimeType{T: "datetime", Precision: 6},
			opts:     sqldiff.NormalizeOptions{CaseSensitive: true, FloatScale: 6, TimestampPrecision: 3},
			expected: "LEFT(DATE_FORMAT(CAST(`c` AS DATETIME(6)), '%Y-%m-%d %H:%i:%S.%f'), 23)",
		},
		{
			name:     "datetime seconds",
			typ:      &schema.TimeType{T: "datetime"},
			opts:     sqldiff.NormalizeOptions{CaseSensitive: true, FloatScale: 6},
			expected: "LEFT(DATE_FORMAT(CAST(`c` AS DATETIME(6)), '%Y-%m-%d %H:%i:%S.%f'), 19)",
		},
		{
			name:     "binary",
			typ:      &schema.BinaryType{T: "varbinary"},
			opts:     opts,
			expected: "LOWER(HEX(`c`))",
		},
		{
			name:     "json textual",
			typ:      &schema.JSONType{T: "json"},
			opts:     opts,
			expected: "CAST(`c` AS CHAR)",
		},
		{
			name:     "json structural",
			typ:      &schema.JSONType{T: "json"},
			opts:     sqldiff.NormalizeOptions{CaseSensitive: true, FloatScale: 6, TimestampPrecision: 6, JSONStructural: true},
			expected: "CAST(CAST(`c` AS JSON) AS CHAR)",
		},
		{
			name:     "uuid",
			typ:      &schema.UUIDType{T: "uuid"},
			opts:     opts,
			expected: "LOWER(CAST(`c` AS CHAR))",
		},
	}
	d := &Driver{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, err := d.NormalizeExpr(&sqlx.Ident{Name: "c"}, tt.typ, tt.opts)
			require.NoError(t, err)
			require.Equal(t, tt.expected, sqlx.Render(x, d))
		})
	}
	_, err := d.NormalizeExpr(&sqlx.Ident{Name: "c"}, &schema.UnsupportedType{T: "time"}, opts)
	require.Error(t, err)
}

func TestDriver_FingerprintExprs(t *testing.T) {
	d := &Driver{}
	a, b := &sqlx.Ident{Name: "a"}, &sqlx.Ident{Name: "b"}
	require.Equal(
		t,
		"CONCAT(COALESCE(`a`, '<null>'), '|', COALESCE(`b`, '<null>'))",
		sqlx.Render(d.ConcatExpr(a, b), d),
	)
	require.Equal(
		t,
		"COALESCE(`a`, '<null>')",
		sqlx.Render(d.ConcatExpr(a), d),
	)
	require.Equal(
		t,
		"CAST(CONV(SUBSTRING(MD5(`a`), 18), 16, 10) AS DECIMAL(32, 0))",
		sqlx.Render(d.MD5IntExpr(a), d),
	)
	require.Equal(
		t,
		"SUM(MD5(`a`))",
		sqlx.Render(d.SumChecksumExpr(d.MD5HexExpr(a)), d),
	)
	require.Equal(
		t,
		"NOT((`a` <=> `b`))",
		sqlx.Render(d.DistinctFromExpr(a, b), d),
	)
}

func TestDriver_Capabilities(t *testing.T) {
	d := &Driver{}
	require.Equal(t, 15, d.ChecksumDigits())
	require.True(t, d.SupportsKeyUniqueness())
	require.True(t, d.SupportsAlphanumericKeys())
	require.False(t, d.SupportsFullOuterJoin())
	require.Equal(t, sqldiff.Threaded, d.ThreadingModel())
	_, ok := d.SamplingClause(sqldiff.SampleSystem, 10)
	require.False(t, ok)
}

func TestDriver_SamplingPredicate(t *testing.T) {
	d := &Driver{}
	pred, ok := d.SamplingPredicate(sqldiff.SampleBernoulli, 0.25)
	require.True(t, ok)
	require.Equal(t, "(RAND() < 0.25)", sqlx.Render(pred, d))

	_, ok = d.SamplingPredicate(sqldiff.SampleSystem, 0.25)
	require.False(t, ok)
	_, ok = d.SamplingPredicate(sqldiff.SampleDeterministic, 0.25)
	require.False(t, ok)
}
