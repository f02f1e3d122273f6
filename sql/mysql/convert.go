// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package mysql

import (
	"strconv"
	"strings"

	"github.com/tablediff/tablediff/sql/schema"
)

// ParseType maps a MySQL column type string (e.g. "decimal(10,2)",
// "int(11) unsigned") to its semantic class. Parsing is total: raw
// forms without a deterministic canonical rendering map to
// *schema.UnsupportedType.
func (d *Driver) ParseType(raw string) schema.Type {
	parts, size, unsigned := parseRawType(strings.ToLower(raw))
	if len(parts) == 0 {
		return &schema.UnsupportedType{T: raw}
	}
	switch t := parts[0]; t {
	case tTinyInt, tSmallInt, tMediumInt, tInt, tBigInt:
		// tinyint(1) is the storage form of BOOLEAN.
		if t == tTinyInt && size == 1 {
			return &schema.BoolType{T: t}
		}
		return &schema.IntegerType{T: t, Size: size, Unsigned: unsigned}
	case "bool", "boolean":
		return &schema.BoolType{T: t}
	case tDecimal, tNumeric:
		dt := &schema.DecimalType{T: t, Precision: 10}
		if len(parts) > 1 {
			dt.Precision = atoi(parts[1])
		}
		if len(parts) > 2 {
			dt.Scale = atoi(parts[2])
		}
		return dt
	case tFloat, tDouble, tReal:
		ft := &schema.FloatType{T: t}
		if len(parts) > 1 {
			ft.Precision = atoi(parts[1])
		}
		return ft
	case tChar, tVarchar:
		return &schema.StringType{T: t, Size: size, CaseSensitive: false}
	case tTinyText, tText, tMediumText, tLongText:
		return &schema.StringType{T: t, CaseSensitive: false}
	case tBinary, tVarBinary:
		return &schema.BinaryType{T: t, Size: size}
	case tTinyBlob, tBlob, tMediumBlob, tLongBlob:
		return &schema.BinaryType{T: t}
	case tDate:
		return &schema.TimeType{T: t, DateOnly: true}
	case tDateTime, tTimestamp:
		tt := &schema.TimeType{T: t, WithTZ: t == tTimestamp}
		if len(parts) > 1 {
			tt.Precision = atoi(parts[1])
		}
		return tt
	case tJSON:
		return &schema.JSONType{T: t}
	case tEnum, tSet:
		// Enum and set values compare as their textual members.
		return &schema.StringType{T: t, CaseSensitive: false}
	case tBit:
		return &schema.BinaryType{T: t, Size: size}
	default:
		// tTime, tYear, spatial and everything else: no canonical
		// form that survives a cross-backend round trip.
		return &schema.UnsupportedType{T: t}
	}
}

// parseRawType splits a raw column type to its name, arguments and
// modifiers, e.g. "int(10) unsigned" to ["int", "10"], 10, true.
func parseRawType(typ string) (parts []string, size int, unsigned bool) {
	parts = strings.FieldsFunc(typ, func(r rune) bool {
		return r == '(' || r == ')' || r == ' ' || r == ','
	})
	if len(parts) == 0 {
		return nil, 0, false
	}
	switch parts[0] {
	case tTinyInt, tSmallInt, tMediumInt, tInt, tBigInt:
		switch {
		case len(parts) >= 2 && parts[len(parts)-1] == "unsigned":
			unsigned = true
			fallthrough
		case len(parts) >= 2:
			if n, err := strconv.Atoi(parts[1]); err == nil {
				size = n
			}
		}
	case tBinary, tVarBinary, tChar, tVarchar, tBit:
		if len(parts) > 1 {
			if n, err := strconv.Atoi(parts[1]); err == nil {
				size = n
			}
		}
	}
	return parts, size, unsigned
}
