// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqlite

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tablediff/tablediff/sql/internal/sqlx"
	"github.com/tablediff/tablediff/sql/schema"
	"github.com/tablediff/tablediff/sql/sqldiff"
)

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
			typ:      &schema.IntegerType{T: "integer"},
			opts:     opts,
			expected: `CAST("c" AS TEXT)`,
		},
		{
			name:     "decimal",
			typ:      &schema.DecimalType{T: "decimal", Precision: 10, Scale: 2},
			opts:     opts,
			expected: `PRINTF('%.2f', "c")`,
		},
		{
			name:     "float",
			typ:      &schema.FloatType{T: "real", Precision: 53},
			opts:     opts,
			expected: `PRINTF('%.6f', "c")`,
		},
		{
			name:     "text",
			typ:      &schema.StringType{T: "text", CaseSensitive: true},
			opts:     opts,
			expected: `"c"`,
		},
		{
			name:     "text folded",
			typ:      &schema.StringType{T: "text", CaseSensitive: true},
			opts:     sqldiff.NormalizeOptions{FloatScale: 6, TimestampPrecision: 6},
			expected: `LOWER("c")`,
		},
		{
			name:     "date",
			typ:      &schema.TimeType{T: "date", DateOnly: true},
			opts:     opts,
			expected: `STRFTIME('%Y-%m-%d', "c")`,
		},
		{
			name:     "datetime",
			typ:      &schema.TimeType{T: "datetime", Precision: 3},
			opts:     opts,
			expected: `SUBSTR((STRFTIME('%Y-%m-%d %H:%M:%f', "c") || '000'), 1, 26)`,
		},
		{
			name:     "datetime seconds",
			typ:      &schema.TimeType{T: "datetime"},
			opts:     sqldiff.NormalizeOptions{CaseSensitive: true, FloatScale: 6},
			expected: `SUBSTR((STRFTIME('%Y-%m-%d %H:%M:%f', "c") || '000'), 1, 19)`,
		},
		{
			name:     "blob",
			typ:      &schema.BinaryType{T: "blob"},
			opts:     opts,
			expected: `LOWER(HEX("c"))`,
		},
		{
			name:     "json structural",
			typ:      &schema.JSONType{T: "json"},
			opts:     sqldiff.NormalizeOptions{CaseSensitive: true, FloatScale: 6, TimestampPrecision: 6, JSONStructural: true},
			expected: `JSON("c")`,
		},
		{
			name:     "uuid",
			typ:      &schema.UUIDType{T: "uuid"},
			opts:     opts,
			expected: `LOWER(CAST("c" AS TEXT))`,
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
}

func TestDriver_FingerprintExprs(t *testing.T) {
	d := &Driver{}
	a, b := &sqlx.Ident{Name: "a"}, &sqlx.Ident{Name: "b"}
	require.Equal(
		t,
		`((COALESCE("a", '<null>') || '|') || COALESCE("b", '<null>'))`,
		sqlx.Render(d.ConcatExpr(a, b), d),
	)
	require.Equal(t, `md5int("a")`, sqlx.Render(d.MD5IntExpr(a), d))
	require.Equal(t, `md5sum(md5int("a"))`, sqlx.Render(d.SumChecksumExpr(d.MD5IntExpr(a)), d))
	require.Equal(t, `("a" IS NOT "b")`, sqlx.Render(d.DistinctFromExpr(a, b), d))
}

func TestDriver_Capabilities(t *testing.T) {
	d := &Driver{}
	require.Equal(t, 15, d.ChecksumDigits())
	require.True(t, d.SupportsKeyUniqueness())
	require.True(t, d.SupportsFullOuterJoin())
	require.Equal(t, sqldiff.SingleConnection, d.ThreadingModel())
	_, ok := d.SamplingClause(sqldiff.SampleBernoulli, 10)
	require.False(t, ok)
	_, ok = d.SamplingPredicate(sqldiff.SampleBernoulli, 0.1)
	require.False(t, ok)
}
