// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqlite

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tablediff/tablediff/sql/schema"
)

func TestDriver_ParseType(t *testing.T) {
	tests := []struct {
		raw      string
		expected schema.Type
	}{
		{
			raw:      "INTEGER",
			expected: &schema.IntegerType{T: "integer"},
		},
		{
			raw:      "BIGINT",
			expected: &schema.IntegerType{T: "bigint"},
		},
		{
			raw:      "BOOLEAN",
			expected: &schema.BoolType{T: "boolean"},
		},
		{
			raw:      "TEXT",
			expected: &schema.StringType{T: "text", CaseSensitive: true},
		},
		{
			raw:      "VARCHAR(80)",
			expected: &schema.StringType{T: "varchar", Size: 80, CaseSensitive: true},
		},
		{
			raw:      "CLOB",
			expected: &schema.StringType{T: "clob", CaseSensitive: true},
		},
		{
			raw:      "BLOB",
			expected: &schema.BinaryType{T: "blob"},
		},
		{
			raw:      "",
			expected: &schema.BinaryType{T: ""},
		},
		{
			raw:      "REAL",
			expected: &schema.FloatType{T: "real", Precision: 53},
		},
		{
			raw:      "DOUBLE PRECISION",
			expected: &schema.FloatType{T: "double precision", Precision: 53},
		},
		{
			raw:      "DECIMAL(10,2)",
			expected: &schema.DecimalType{T: "decimal", Precision: 10, Scale: 2},
		},
		{
			raw:      "DATE",
			expected: &schema.TimeType{T: "date", DateOnly: true},
		},
		{
			raw:      "DATETIME",
			expected: &schema.TimeType{T: "datetime", Precision: 3},
		},
		{
			raw:      "TIMESTAMP",
			expected: &schema.TimeType{T: "timestamp", Precision: 3},
		},
		{
			raw:      "JSON",
			expected: &schema.JSONType{T: "json"},
		},
		{
			raw:      "UUID",
			expected: &schema.UUIDType{T: "uuid"},
		},
		{
			raw:      "GEOMETRY",
			expected: &schema.UnsupportedType{T: "geometry"},
		},
	}
	d := &Driver{}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			require.Equal(t, tt.expected, d.ParseType(tt.raw))
		})
	}
}
