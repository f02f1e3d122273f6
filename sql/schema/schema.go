// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package schema

type (
	// A Table represents the resolved description of a database table
	// participating in a comparison. Columns hold their ordinal order
	// as reported by the backend catalog.
	Table struct {
		// Schema is the named database (or dataset/catalog
		// component) the table resides in. May be empty for
		// backends without schema qualification.
		Schema string
		Name   string
		// Columns as reported by the catalog, in ordinal order.
		Columns []*Column
		// PrimaryKey columns, in key order. Empty when the table
		// has no primary key or the backend cannot report one.
		PrimaryKey []*Column
	}

	// A Column represents a single column of a resolved table.
	Column struct {
		Name string
		Type *ColumnType
	}

	// ColumnType represents a column type parsed by a dialect.
	ColumnType struct {
		// Type is the semantic class of the column, or
		// *UnsupportedType when the dialect cannot give the raw
		// type a deterministic canonical form.
		Type Type
		// Raw is the backend type string, preserved for
		// diagnostics and warnings.
		Raw string
		// Null reports the column nullability.
		Null bool
	}
)

// Column returns the table column with the given name, if exists.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

type (
	// A Type represents a semantic column class shared by all dialects.
	// Two columns are comparable when their parsed types belong to the
	// same class and agree on the class parameters that affect the
	// canonical string form.
	Type interface {
		typ()
	}

	// IntegerType represents an int type of any width.
	IntegerType struct {
		T        string
		Size     int
		Unsigned bool
	}

	// DecimalType represents a fixed-point type that stores exact
	// numeric values.
	DecimalType struct {
		T         string
		Precision int
		Scale     int
	}

	// FloatType represents a floating-point type that stores
	// approximate numeric values.
	FloatType struct {
		T         string
		Precision int
	}

	// BoolType represents a boolean type.
	BoolType struct {
		T string
	}

	// StringType represents a textual type.
	StringType struct {
		T    string
		Size int
		// Collation as reported by the catalog, when available.
		Collation string
		// CaseSensitive reports whether the column collation
		// distinguishes letter case. Dialects that cannot tell
		// report true and leave folding to the run options.
		CaseSensitive bool
	}

	// TimeType represents a date/time type.
	TimeType struct {
		T string
		// Precision is the fractional-second precision, 0-9.
		Precision int
		// WithTZ reports whether values carry a UTC offset.
		WithTZ bool
		// DateOnly reports a date type without a time component.
		DateOnly bool
	}

	// BinaryType represents a type that stores binary data.
	BinaryType struct {
		T    string
		Size int
	}

	// JSONType represents a JSON document type.
	JSONType struct {
		T string
	}

	// UUIDType represents a UUID type.
	UUIDType struct {
		T string
	}

	// UnsupportedType represents a raw type the dialect cannot render
	// canonically. Such columns are excluded from comparisons and
	// reported, or fail the run under strict type checking.
	UnsupportedType struct {
		T string
	}
)

func (*IntegerType) typ()     {}
func (*DecimalType) typ()     {}
func (*FloatType) typ()       {}
func (*BoolType) typ()        {}
func (*StringType) typ()      {}
func (*TimeType) typ()        {}
func (*BinaryType) typ()      {}
func (*JSONType) typ()        {}
func (*UUIDType) typ()        {}
func (*UnsupportedType) typ() {}

// TypeParser is implemented by dialects for parsing column types from
// their backend forms to the semantic class representation.
type TypeParser interface {
	// ParseType converts the raw database type to its schema.Type
	// representation. It never fails: raw forms without a canonical
	// rendering parse to *UnsupportedType.
	ParseType(string) Type
}
