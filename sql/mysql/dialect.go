// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package mysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tablediff/tablediff/sql/internal/sqlx"
	"github.com/tablediff/tablediff/sql/schema"
	"github.com/tablediff/tablediff/sql/sqldiff"
)

// checksumDigits is the MD5 truncation width in hex digits. 15 digits
// keep a single-row checksum inside a signed 64-bit integer, which
// every backend can aggregate without overflow or sign folding.
const checksumDigits = 15

// Name reports the backend family.
func (d *Driver) Name() string { return "mysql" }

// QuoteIdent escapes an identifier with backticks.
func (d *Driver) QuoteIdent(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

// QuoteLiteral renders a string literal. Backslashes are doubled
// because the server treats them as escapes under the default
// sql_mode.
func (d *Driver) QuoteLiteral(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, "'", "''")
	return "'" + v + "'"
}

// NormalizeExpr renders the canonical string form of the expression
// for its semantic class.
func (d *Driver) NormalizeExpr(x sqlx.Expr, t schema.Type, opts sqldiff.NormalizeOptions) (sqlx.Expr, error) {
	switch t := t.(type) {
	case *schema.IntegerType, *schema.BoolType:
		return &sqlx.Cast{X: x, As: "CHAR"}, nil
	case *schema.DecimalType:
		return decimalChar(x, t.Scale), nil
	case *schema.FloatType:
		return decimalChar(x, opts.FloatScale), nil
	case *schema.StringType:
		if !opts.CaseSensitive {
			return sqlx.F("LOWER", x), nil
		}
		return x, nil
	case *schema.TimeType:
		if t.DateOnly {
			return sqlx.F("DATE_FORMAT", x, &sqlx.Literal{V: "'%Y-%m-%d'"}), nil
		}
		full := sqlx.F("DATE_FORMAT", &sqlx.Cast{X: x, As: "DATETIME(6)"}, &sqlx.Literal{V: "'%Y-%m-%d %H:%i:%S.%f'"})
		return truncateTimestamp(full, opts.TimestampPrecision), nil
	case *schema.BinaryType:
		return sqlx.F("LOWER", sqlx.F("HEX", x)), nil
	case *schema.JSONType:
		if opts.JSONStructural {
			return &sqlx.Cast{X: &sqlx.Cast{X: x, As: "JSON"}, As: "CHAR"}, nil
		}
		return &sqlx.Cast{X: x, As: "CHAR"}, nil
	case *schema.UUIDType:
		return sqlx.F("LOWER", &sqlx.Cast{X: x, As: "CHAR"}), nil
	default:
		return nil, fmt.Errorf("mysql: no canonical form for %T", t)
	}
}

// decimalChar renders a numeric value as a fixed-scale decimal string.
// DECIMAL(65, s) is the widest exact type the server offers, so the
// canonical form never loses integral digits.
func decimalChar(x sqlx.Expr, scale int) sqlx.Expr {
	return &sqlx.Cast{
		X:  &sqlx.Cast{X: x, As: fmt.Sprintf("DECIMAL(65, %d)", scale)},
		As: "CHAR",
	}
}

// truncateTimestamp trims the canonical 26-char timestamp down to the
// requested fractional precision.
func truncateTimestamp(x sqlx.Expr, precision int) sqlx.Expr {
	n := 19
	if precision > 0 {
		n += 1 + precision
	}
	return sqlx.F("LEFT", x, &sqlx.Literal{V: strconv.Itoa(n)})
}

// ConcatExpr folds NULL cells to the null token and joins the cells
// with the fingerprint separator.
func (d *Driver) ConcatExpr(xs ...sqlx.Expr) sqlx.Expr {
	if len(xs) == 1 {
		return sqlx.F("COALESCE", xs[0], &sqlx.Literal{V: d.QuoteLiteral(sqldiff.NullToken)})
	}
	args := make([]sqlx.Expr, 0, 2*len(xs)-1)
	for i, x := range xs {
		if i > 0 {
			args = append(args, &sqlx.Literal{V: d.QuoteLiteral(sqldiff.FingerprintSep)})
		}
		args = append(args, sqlx.F("COALESCE", x, &sqlx.Literal{V: d.QuoteLiteral(sqldiff.NullToken)}))
	}
	return sqlx.F("CONCAT", args...)
}

// MD5HexExpr renders the full 32-digit MD5 of the expression.
func (d *Driver) MD5HexExpr(x sqlx.Expr) sqlx.Expr {
	return sqlx.F("MD5", x)
}

// MD5IntExpr interprets the low 15 hex digits of the MD5 as an
// integer. CONV returns a string, so the result is pinned to a
// DECIMAL wide enough for the additive aggregate.
func (d *Driver) MD5IntExpr(x sqlx.Expr) sqlx.Expr {
	low := sqlx.F("SUBSTRING", sqlx.F("MD5", x), &sqlx.Literal{V: "18"})
	return &sqlx.Cast{
		X:  sqlx.F("CONV", low, &sqlx.Literal{V: "16"}, &sqlx.Literal{V: "10"}),
		As: "DECIMAL(32, 0)",
	}
}

// SumChecksumExpr is the order-independent additive aggregate.
func (d *Driver) SumChecksumExpr(x sqlx.Expr) sqlx.Expr {
	return sqlx.F("SUM", x)
}

// ChecksumDigits reports the MD5 truncation width in hex digits.
func (d *Driver) ChecksumDigits() int { return checksumDigits }

// DistinctFromExpr renders a null-safe inequality.
func (d *Driver) DistinctFromExpr(l, r sqlx.Expr) sqlx.Expr {
	return sqlx.F("NOT", sqlx.Infix(l, "<=>", r))
}

// SamplingClause reports no native table-level sampling; the server
// has no TABLESAMPLE.
func (d *Driver) SamplingClause(sqldiff.SamplingMethod, float64) (string, bool) {
	return "", false
}

// SamplingPredicate renders Bernoulli sampling as a per-row RAND()
// draw. Block-level sampling has no server substitute.
func (d *Driver) SamplingPredicate(method sqldiff.SamplingMethod, fraction float64) (sqlx.Expr, bool) {
	if method != sqldiff.SampleBernoulli {
		return nil, false
	}
	f := strconv.FormatFloat(fraction, 'f', -1, 64)
	return sqlx.Infix(sqlx.F("RAND"), "<", &sqlx.Literal{V: f}), true
}

// SupportsKeyUniqueness reports unique-constraint support.
func (d *Driver) SupportsKeyUniqueness() bool { return true }

// SupportsAlphanumericKeys reports string key-segmentation support.
func (d *Driver) SupportsAlphanumericKeys() bool { return true }

// SupportsFullOuterJoin reports that the server needs the union
// rewrite of FULL OUTER JOIN.
func (d *Driver) SupportsFullOuterJoin() bool { return false }

// ThreadingModel reports concurrent query support.
func (d *Driver) ThreadingModel() sqldiff.ThreadingModel { return sqldiff.Threaded }

var _ sqldiff.Dialect = (*Driver)(nil)
