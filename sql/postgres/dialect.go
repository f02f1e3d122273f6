// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package postgres

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tablediff/tablediff/sql/internal/sqlx"
	"github.com/tablediff/tablediff/sql/schema"
	"github.com/tablediff/tablediff/sql/sqldiff"
)

// checksumDigits is the MD5 truncation width in hex digits. 15 digits
// are 60 bits, so the bit-string cast below never folds into the
// bigint sign bit.
const checksumDigits = 15

// Name reports the backend family.
func (d *Driver) Name() string { return "postgres" }

// QuoteIdent escapes an identifier with double quotes.
func (d *Driver) QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// QuoteLiteral renders a string literal. Backslashes are literal
// under standard_conforming_strings, so only quotes are doubled.
func (d *Driver) QuoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// NormalizeExpr renders the canonical string form of the expression
// for its semantic class.
func (d *Driver) NormalizeExpr(x sqlx.Expr, t schema.Type, opts sqldiff.NormalizeOptions) (sqlx.Expr, error) {
	switch t := t.(type) {
	case *schema.IntegerType:
		return &sqlx.Cast{X: x, As: "text"}, nil
	case *schema.DecimalType:
		return toCharNumeric(x, t.Scale), nil
	case *schema.FloatType:
		return toCharNumeric(&sqlx.Cast{X: x, As: "numeric"}, opts.FloatScale), nil
	case *schema.BoolType:
		return &sqlx.Cast{X: &sqlx.Cast{X: x, As: "int"}, As: "text"}, nil
	case *schema.StringType:
		// Fixed-width char pads with spaces; the canonical form is
		// the unpadded value, matching backends that strip on read.
		if t.T == tCharacter || t.T == tChar || t.T == tBPChar {
			x = sqlx.F("RTRIM", x)
		}
		if !opts.CaseSensitive {
			return sqlx.F("LOWER", x), nil
		}
		return x, nil
	case *schema.TimeType:
		if t.DateOnly {
			return sqlx.F("TO_CHAR", x, &sqlx.Literal{V: "'YYYY-MM-DD'"}), nil
		}
		if t.WithTZ {
			x = sqlx.Infix(x, "AT TIME ZONE", &sqlx.Literal{V: "'UTC'"})
		}
		full := sqlx.F("TO_CHAR", x, &sqlx.Literal{V: "'YYYY-MM-DD HH24:MI:SS.US'"})
		return truncateTimestamp(full, opts.TimestampPrecision), nil
	case *schema.BinaryType:
		return sqlx.F("ENCODE", x, &sqlx.Literal{V: "'hex'"}), nil
	case *schema.JSONType:
		if opts.JSONStructural {
			return &sqlx.Cast{X: &sqlx.Cast{X: x, As: "jsonb"}, As: "text"}, nil
		}
		return &sqlx.Cast{X: x, As: "text"}, nil
	case *schema.UUIDType:
		return sqlx.F("LOWER", &sqlx.Cast{X: x, As: "text"}), nil
	default:
		return nil, fmt.Errorf("postgres: no canonical form for %T", t)
	}
}

// toCharNumeric renders a numeric value as a fixed-scale decimal
// string. The FM mask suppresses padding and renders at least one
// integral digit, matching the exact-decimal cast on other backends.
func toCharNumeric(x sqlx.Expr, scale int) sqlx.Expr {
	var mask strings.Builder
	mask.WriteString("FM")
	mask.WriteString(strings.Repeat("9", 38))
	mask.WriteByte('0')
	if scale > 0 {
		mask.WriteByte('.')
		mask.WriteString(strings.Repeat("0", scale))
	}
	return sqlx.F("TO_CHAR", x, &sqlx.Literal{V: "'" + mask.String() + "'"})
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
// integer, going through a 60-bit string so the bigint stays
// nonnegative.
func (d *Driver) MD5IntExpr(x sqlx.Expr) sqlx.Expr {
	low := sqlx.F("SUBSTRING", sqlx.F("MD5", x), &sqlx.Literal{V: "18"})
	bits := &sqlx.Cast{
		X:  sqlx.Infix(&sqlx.Literal{V: "'x'"}, "||", low),
		As: "bit(60)",
	}
	return &sqlx.Cast{X: bits, As: "bigint"}
}

// SumChecksumExpr is the order-independent additive aggregate. SUM
// over bigint yields numeric, so the total never overflows.
func (d *Driver) SumChecksumExpr(x sqlx.Expr) sqlx.Expr {
	return sqlx.F("SUM", x)
}

// ChecksumDigits reports the MD5 truncation width in hex digits.
func (d *Driver) ChecksumDigits() int { return checksumDigits }

// DistinctFromExpr renders a null-safe inequality.
func (d *Driver) DistinctFromExpr(l, r sqlx.Expr) sqlx.Expr {
	return sqlx.Infix(l, "IS DISTINCT FROM", r)
}

// SamplingClause renders native TABLESAMPLE for the proportional
// methods. CockroachDB has no TABLESAMPLE; deterministic sampling
// always falls back to the key-hash predicate.
func (d *Driver) SamplingClause(method sqldiff.SamplingMethod, percent float64) (string, bool) {
	if d.crdb {
		return "", false
	}
	switch method {
	case sqldiff.SampleSystem:
		return fmt.Sprintf("TABLESAMPLE SYSTEM (%s)", formatPercent(percent)), true
	case sqldiff.SampleBernoulli:
		return fmt.Sprintf("TABLESAMPLE BERNOULLI (%s)", formatPercent(percent)), true
	default:
		return "", false
	}
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// SamplingPredicate renders Bernoulli sampling as a per-row random()
// draw on CockroachDB, which lacks TABLESAMPLE.
func (d *Driver) SamplingPredicate(method sqldiff.SamplingMethod, fraction float64) (sqlx.Expr, bool) {
	if method != sqldiff.SampleBernoulli {
		return nil, false
	}
	return sqlx.Infix(sqlx.F("random"), "<", &sqlx.Literal{V: formatPercent(fraction)}), true
}

// SupportsKeyUniqueness reports unique-constraint support.
func (d *Driver) SupportsKeyUniqueness() bool { return true }

// SupportsAlphanumericKeys reports string key-segmentation support.
func (d *Driver) SupportsAlphanumericKeys() bool { return true }

// SupportsFullOuterJoin reports native FULL OUTER JOIN support.
func (d *Driver) SupportsFullOuterJoin() bool { return true }

// ThreadingModel reports concurrent query support.
func (d *Driver) ThreadingModel() sqldiff.ThreadingModel { return sqldiff.Threaded }

var _ sqldiff.Dialect = (*Driver)(nil)
