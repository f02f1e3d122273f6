// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqlite

import (
	"strconv"
	"strings"

	"github.com/tablediff/tablediff/sql/schema"
)

// ParseType maps a declared SQLite column type to its semantic class
// using the type-affinity rules. SQLite accepts any type name, so the
// match is by substring the way the library itself resolves affinity.
// See: https://www.sqlite.org/datatype3.html
func (d *Driver) ParseType(raw string) schema.Type {
	typ := strings.ToLower(strings.TrimSpace(raw))
	name, args := splitType(typ)
	switch {
	case name == "bool" || name == "boolean":
		return &schema.BoolType{T: name}
	case name == "date":
		return &schema.TimeType{T: name, DateOnly: true}
	case name == "datetime" || name == "timestamp":
		// Textual storage; RefineColumnTypes probes the stored width.
		return &schema.TimeType{T: name, Precision: 3}
	case name == "json":
		return &schema.JSONType{T: name}
	case name == "uuid":
		return &schema.UUIDType{T: name}
	case name == "decimal" || name == "numeric":
		dt := &schema.DecimalType{T: name}
		if len(args) > 0 {
			dt.Precision = atoi(args[0])
		}
		if len(args) > 1 {
			dt.Scale = atoi(args[1])
		}
		return dt
	case strings.Contains(name, "int"):
		return &schema.IntegerType{T: name}
	case strings.Contains(name, "char"), strings.Contains(name, "clob"), strings.Contains(name, "text"):
		return &schema.StringType{T: name, Size: sizeArg(args), CaseSensitive: true}
	case strings.Contains(name, "blob"), name == "":
		return &schema.BinaryType{T: name}
	case strings.Contains(name, "real"), strings.Contains(name, "floa"), strings.Contains(name, "doub"):
		return &schema.FloatType{T: name, Precision: 53}
	default:
		return &schema.UnsupportedType{T: name}
	}
}

// splitType splits a declared type to its base name and arguments,
// e.g. "decimal(10,2)" to "decimal" and ["10", "2"].
func splitType(typ string) (name string, args []string) {
	i := strings.IndexByte(typ, '(')
	if i == -1 {
		return typ, nil
	}
	j := strings.IndexByte(typ, ')')
	if j < i {
		return typ, nil
	}
	for _, a := range strings.Split(typ[i+1:j], ",") {
		args = append(args, strings.TrimSpace(a))
	}
	return strings.TrimSpace(typ[:i]), args
}

func sizeArg(args []string) int {
	if len(args) == 0 {
		return 0
	}
	return atoi(args[0])
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
