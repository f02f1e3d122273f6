// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package mysql

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
			raw:      "int(11)",
			expected: &schema.IntegerType{T: "int", Size: 11},
		},
		{
			raw:      "bigint(20) unsigned",
			expected: &schema.IntegerType{T: "bigint", Size: 20, Unsigned: true},
		},
		{
			raw:      "tinyint(1)",
			expected: &schema.BoolType{T: "tinyint"},
		},
		{
			raw:      "tinyint(4)",
			expected: &schema.IntegerType{T: "tinyint", Size: 4},
		},
		{
			raw:      "decimal(10,2)",
			expected: &schema.DecimalType{T: "decimal", Precision: 10, Scale: 2},
		},
		{
			raw:      "decimal",
			expected: &schema.DecimalType{T: "decimal", Precision: 10},
		},
		{
			raw:      "float(10,0)",
			expected: &schema.FloatType{T: "float", Precision: 10},
		},
		{
			raw:      "double",
			expected: &schema.FloatType{T: "double"},
		},
		{
			raw:      "varchar(255)",
			expected: &schema.StringType{T: "varchar", Size: 255},
		},
		{
			raw:      "char(36)",
			expected: &schema.StringType{T: "char", Size: 36},
		},
		{
			raw:      "mediumtext",
			expected: &schema.StringType{T: "mediumtext"},
		},
		{
			raw:      "enum('a','b')",
			expected: &schema.StringType{T: "enum"},
		},
		{
			raw:      "varbinary(255)",
			expected: &schema.BinaryType{T: "varbinary", Size: 255},
		},
		{
			raw:      "longblob",
			expected: &schema.BinaryType{T: "longblob"},
		},
		{
			raw:      "bit(8)",
			expected: &schema.BinaryType{T: "bit", Size: 8},
		},
		{
			raw:      "date",
			expected: &schema.TimeType{T: "date", DateOnly: true},
		},
		{
			raw:      "datetime(6)",
			expected: &schema.TimeType{T: "datetime", Precision: 6},
		},
		{
			raw:      "timestamp(3)",
			expected: &schema.TimeType{T: "timestamp", Precision: 3, WithTZ: true},
		},
		{
			raw:      "json",
			expected: &schema.JSONType{T: "json"},
		},
		{
			raw:      "time",
			expected: &schema.UnsupportedType{T: "time"},
		},
		{
			raw:      "year(4)",
			expected: &schema.UnsupportedType{T: "year"},
		},
		{
			raw:      "geometry",
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
