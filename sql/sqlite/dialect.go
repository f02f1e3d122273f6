// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqlite

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tablediff/tablediff/sql/internal/sqlx"
	"github.com/tablediff/tablediff/sql/schema"
	"github.com/tablediff/tablediff/sql/sqldiff"
)

// checksumDigits is the MD5 truncation width in hex digits, matching
// the md5int UDF registered on connect.
const checksumDigits = 15

// Name reports the backend family.
func (d *Driver) Name() string { return "sqlite" }

// QuoteIdent escapes an identifier with double quotes.
func (d *Driver) QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// QuoteLiteral renders a string literal.
func (d *Driver) QuoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// NormalizeExpr renders the canonical string form of the expression
// for its semantic class.
func (d *Driver) NormalizeExpr(x sqlx.Expr, t schema.Type, opts sqldiff.NormalizeOptions) (sqlx.Expr, error) {
	switch t := t.(type) {
	case *schema.IntegerType, *schema.BoolType:
		return &sqlx.Cast{X: x, As: "TEXT"}, nil
	case *schema.DecimalType:
		return printfNumeric(x, t.Scale), nil
	case *schema.FloatType:
		return printfNumeric(x, opts.FloatScale), nil
	case *schema.StringType:
		if !opts.CaseSensitive {
			return sqlx.F("LOWER", x), nil
		}
		return x, nil
	case *schema.TimeType:
		if t.DateOnly {
			return sqlx.F("STRFTIME", &sqlx.Literal{V: "'%Y-%m-%d'"}, x), nil
		}
		// %f renders milliseconds; pad to microseconds and trim to
		// the requested precision.
		full := sqlx.F("STRFTIME", &sqlx.Literal{V: "'%Y-%m-%d %H:%M:%f'"}, x)
		padded := sqlx.Infix(full, "||", &sqlx.Literal{V: "'000'"})
		return truncateTimestamp(padded, opts.TimestampPrecision), nil
	case *schema.BinaryType:
		return sqlx.F("LOWER", sqlx.F("HEX", x)), nil
	case *schema.JSONType:
		if opts.JSONStructural {
			return sqlx.F("JSON", x), nil
		}
		return &sqlx.Cast{X: x, As: "TEXT"}, nil
	case *schema.UUIDType:
		return sqlx.F("LOWER", &sqlx.Cast{X: x, As: "TEXT"}), nil
	default:
		return nil, fmt.Errorf("sqlite: no canonical form for %T", t)
	}
}

// printfNumeric renders a numeric value as a fixed-scale decimal
// string.
func printfNumeric(x sqlx.Expr, scale int) sqlx.Expr {
	return sqlx.F("PRINTF", &sqlx.Literal{V: fmt.Sprintf("'%%.%df'", scale)}, x)
}

// truncateTimestamp trims the canonical timestamp down to the
// requested fractional precision.
func truncateTimestamp(x sqlx.Expr, precision int) sqlx.Expr {
	n := 19
	if precision > 0 {
		n += 1 + precision
	}
	return sqlx.F("SUBSTR", x, &sqlx.Literal{V: "1"}, &sqlx.Literal{V: strconv.Itoa(n)})
}

// ConcatExpr folds NULL cells to the null token and joins the cells
// with the fingerprint separator.
func (d *Driver) ConcatExpr(xs ...sqlx.Expr) sqlx.Expr {
	wrap := func(x sqlx.Expr) sqlx.Expr {
		return sqlx.F("COALESCE", x, &sqlx.Literal{V: d.QuoteLiteral(sqldiff.NullToken)})
	}
	expr := wrap(xs[0])
	for _, x := range xs[1:] {
		expr = sqlx.Infix(expr, "||", &sqlx.Literal{V: d.QuoteLiteral(sqldiff.FingerprintSep)})
		expr = sqlx.Infix(expr, "||", wrap(x))
	}
	return expr
}

// MD5HexExpr renders the full 32-digit MD5 via the registered UDF.
func (d *Driver) MD5HexExpr(x sqlx.Expr) sqlx.Expr {
	return sqlx.F("md5hex", x)
}

// MD5IntExpr interprets the low 15 hex digits of the MD5 as an
// integer via the registered UDF.
func (d *Driver) MD5IntExpr(x sqlx.Expr) sqlx.Expr {
	return sqlx.F("md5int", x)
}

// SumChecksumExpr is the order-independent additive aggregate. The
// registered aggregate sums in a big integer and returns a decimal
// string, so the total never overflows.
func (d *Driver) SumChecksumExpr(x sqlx.Expr) sqlx.Expr {
	return sqlx.F("md5sum", x)
}

// ChecksumDigits reports the MD5 truncation width in hex digits.
func (d *Driver) ChecksumDigits() int { return checksumDigits }

// DistinctFromExpr renders a null-safe inequality.
func (d *Driver) DistinctFromExpr(l, r sqlx.Expr) sqlx.Expr {
	return sqlx.Infix(l, "IS NOT", r)
}

// SamplingClause reports no native table-level sampling.
func (d *Driver) SamplingClause(sqldiff.SamplingMethod, float64) (string, bool) {
	return "", false
}

// SamplingPredicate reports no random-draw fallback. RANDOM() yields
// a full-range integer, so proportional sampling here goes through
// the deterministic key-hash method instead.
func (d *Driver) SamplingPredicate(sqldiff.SamplingMethod, float64) (sqlx.Expr, bool) {
	return nil, false
}

// SupportsKeyUniqueness reports unique-constraint support.
func (d *Driver) SupportsKeyUniqueness() bool { return true }

// SupportsAlphanumericKeys reports string key-segmentation support.
func (d *Driver) SupportsAlphanumericKeys() bool { return true }

// SupportsFullOuterJoin reports native FULL OUTER JOIN support,
// available since SQLite 3.39.
func (d *Driver) SupportsFullOuterJoin() bool { return true }

// ThreadingModel reports that queries are serialized over one
// connection.
func (d *Driver) ThreadingModel() sqldiff.ThreadingModel { return sqldiff.SingleConnection }

var _ sqldiff.Dialect = (*Driver)(nil)
