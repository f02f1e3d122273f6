// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package postgres

import (
	"strconv"
	"strings"

	"github.com/tablediff/tablediff/sql/schema"
)

// ParseType maps a PostgreSQL format_type string (e.g. "numeric(10,2)",
// "timestamp(3) with time zone") to its semantic class. Parsing is
// total: raw forms without a deterministic canonical rendering map to
// *schema.UnsupportedType.
func (d *Driver) ParseType(raw string) schema.Type {
	name, args := splitType(strings.ToLower(strings.TrimSpace(raw)))
	switch name {
	case tSmallInt, tInteger, tBigInt, tInt, tInt2, tInt4, tInt8:
		return &schema.IntegerType{T: name, Size: intSize(name)}
	case tNumeric, tDecimal:
		dt := &schema.DecimalType{T: name}
		if len(args) > 0 {
			dt.Precision = atoi(args[0])
		}
		if len(args) > 1 {
			dt.Scale = atoi(args[1])
		}
		return dt
	case tReal, tFloat4:
		return &schema.FloatType{T: name, Precision: 24}
	case tDouble, tFloat8:
		return &schema.FloatType{T: name, Precision: 53}
	case tBoolean, tBool:
		return &schema.BoolType{T: name}
	case tCharVar, tVarChar, tText, tName:
		return &schema.StringType{T: name, Size: sizeArg(args), CaseSensitive: true}
	case tCharacter, tChar, tBPChar:
		return &schema.StringType{T: name, Size: sizeArg(args), CaseSensitive: true}
	case tCIText:
		return &schema.StringType{T: name, CaseSensitive: false}
	case tBytea:
		return &schema.BinaryType{T: name}
	case tDate:
		return &schema.TimeType{T: name, DateOnly: true}
	case tTimestamp, tTimestampWTZ, "timestamp", "timestamptz":
		wtz := name == tTimestampWTZ || name == "timestamptz"
		return &schema.TimeType{T: name, Precision: precisionArg(args), WithTZ: wtz}
	case tJSON, tJSONB:
		return &schema.JSONType{T: name}
	case tUUID:
		return &schema.UUIDType{T: name}
	default:
		// money, interval, time-of-day, arrays, ranges, enums and
		// domain types carry no cross-backend canonical form.
		return &schema.UnsupportedType{T: name}
	}
}

// splitType splits a format_type rendering to its base name and
// arguments, e.g. "timestamp(3) with time zone" to
// "timestamp with time zone" and ["3"].
func splitType(typ string) (name string, args []string) {
	i := strings.IndexByte(typ, '(')
	if i == -1 {
		return typ, nil
	}
	j := strings.IndexByte(typ, ')')
	if j == -1 || j < i {
		return typ, nil
	}
	for _, a := range strings.Split(typ[i+1:j], ",") {
		args = append(args, strings.TrimSpace(a))
	}
	name = strings.TrimSpace(typ[:i] + typ[j+1:])
	return name, args
}

func intSize(name string) int {
	switch name {
	case tSmallInt, tInt2:
		return 2
	case tBigInt, tInt8:
		return 8
	default:
		return 4
	}
}

func sizeArg(args []string) int {
	if len(args) == 0 {
		return 0
	}
	return atoi(args[0])
}

// precisionArg defaults to microseconds, the server default for
// unqualified timestamp types.
func precisionArg(args []string) int {
	if len(args) == 0 {
		return 6
	}
	return atoi(args[0])
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// Standard column types (and their aliases) as defined in the
// PostgreSQL codebase/website.
const (
	tBoolean = "boolean"
	tBool    = "bool" // boolean.
	tBytea   = "bytea"

	tCharacter = "character"
	tChar      = "char" // character.
	tBPChar    = "bpchar"
	tCharVar   = "character varying"
	tVarChar   = "varchar" // character varying.
	tText      = "text"
	tName      = "name"
	tCIText    = "citext"

	tSmallInt = "smallint"
	tInteger  = "integer"
	tBigInt   = "bigint"
	tInt      = "int"  // integer.
	tInt2     = "int2" // smallint.
	tInt4     = "int4" // integer.
	tInt8     = "int8" // bigint.

	tNumeric = "numeric"
	tDecimal = "decimal" // numeric.
	tReal    = "real"
	tFloat4  = "float4" // real.
	tDouble  = "double precision"
	tFloat8  = "float8" // double precision.

	tDate         = "date"
	tTimestamp    = "timestamp without time zone"
	tTimestampWTZ = "timestamp with time zone"

	tJSON  = "json"
	tJSONB = "jsonb"
	tUUID  = "uuid"
)
