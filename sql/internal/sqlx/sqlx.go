// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package sqlx provides the small SQL expression tree shared by all
// dialects, and scan helpers for the common query shapes.
package sqlx

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Quoter is the part of a dialect the expression tree depends on:
// backend-correct identifier escaping.
type Quoter interface {
	QuoteIdent(string) string
}

type (
	// Expr is an SQL expression node rendered through a Quoter.
	Expr interface {
		writeTo(*strings.Builder, Quoter)
	}

	// Ident is an identifier expression, quoted on render.
	Ident struct {
		Name string
	}

	// Qualified is a dot-joined identifier path (schema.table),
	// each part quoted on render. Empty parts are skipped.
	Qualified struct {
		Parts []string
	}

	// Literal is a pre-rendered literal such as 1 or 'a'. The
	// dialect is responsible for escaping string literals before
	// wrapping them.
	Literal struct {
		V string
	}

	// Raw is a raw SQL fragment inlined as is.
	Raw struct {
		X string
	}

	// Func is a function-call expression.
	Func struct {
		Name string
		Args []Expr
	}

	// BinOp is an infix binary expression.
	BinOp struct {
		L  Expr
		Op string
		R  Expr
	}

	// Tuple is a parenthesized, comma-joined expression list.
	Tuple struct {
		Exprs []Expr
	}

	// Cast is a CAST(x AS type) expression. The target type is a raw
	// backend type string supplied by the dialect.
	Cast struct {
		X  Expr
		As string
	}
)

func (x *Ident) writeTo(b *strings.Builder, q Quoter) {
	b.WriteString(q.QuoteIdent(x.Name))
}

func (x *Qualified) writeTo(b *strings.Builder, q Quoter) {
	var n int
	for _, p := range x.Parts {
		if p == "" {
			continue
		}
		if n > 0 {
			b.WriteByte('.')
		}
		b.WriteString(q.QuoteIdent(p))
		n++
	}
}

func (x *Literal) writeTo(b *strings.Builder, _ Quoter) {
	b.WriteString(x.V)
}

func (x *Raw) writeTo(b *strings.Builder, _ Quoter) {
	b.WriteString(x.X)
}

func (x *Func) writeTo(b *strings.Builder, q Quoter) {
	b.WriteString(x.Name)
	b.WriteByte('(')
	for i, a := range x.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		a.writeTo(b, q)
	}
	b.WriteByte(')')
}

func (x *BinOp) writeTo(b *strings.Builder, q Quoter) {
	b.WriteByte('(')
	x.L.writeTo(b, q)
	b.WriteByte(' ')
	b.WriteString(x.Op)
	b.WriteByte(' ')
	x.R.writeTo(b, q)
	b.WriteByte(')')
}

func (x *Cast) writeTo(b *strings.Builder, q Quoter) {
	b.WriteString("CAST(")
	x.X.writeTo(b, q)
	b.WriteString(" AS ")
	b.WriteString(x.As)
	b.WriteByte(')')
}

func (x *Tuple) writeTo(b *strings.Builder, q Quoter) {
	b.WriteByte('(')
	for i, e := range x.Exprs {
		if i > 0 {
			b.WriteString(", ")
		}
		e.writeTo(b, q)
	}
	b.WriteByte(')')
}

// F returns a function-call expression.
func F(name string, args ...Expr) *Func { return &Func{Name: name, Args: args} }

// Infix returns a binary expression.
func Infix(l Expr, op string, r Expr) *BinOp { return &BinOp{L: l, Op: op, R: r} }

// And folds the given conjuncts into a single expression,
// or returns nil when the list is empty.
func And(conds ...Expr) Expr {
	conds = nonNil(conds)
	switch len(conds) {
	case 0:
		return nil
	case 1:
		return conds[0]
	default:
		x := conds[0]
		for _, c := range conds[1:] {
			x = Infix(x, "AND", c)
		}
		return x
	}
}

func nonNil(xs []Expr) []Expr {
	out := xs[:0]
	for _, x := range xs {
		if x != nil {
			out = append(out, x)
		}
	}
	return out
}

// Render renders the expression through the given quoter.
func Render(x Expr, q Quoter) string {
	var b strings.Builder
	x.writeTo(&b, q)
	return b.String()
}

// A Select assembles the single query shape the engine issues:
// projected expressions over one table with conjunctive filtering,
// optional sampling, ordering and limit.
type Select struct {
	Columns []Expr
	From    *Qualified
	// Sample is a dialect-rendered fragment placed right after the
	// FROM clause (e.g. "TABLESAMPLE BERNOULLI (10)").
	Sample  string
	Where   []Expr
	OrderBy []Expr
	Limit   int
}

// SQL renders the statement through the given quoter.
func (s *Select) SQL(q Quoter) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	for i, c := range s.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		c.writeTo(&b, q)
	}
	b.WriteString(" FROM ")
	s.From.writeTo(&b, q)
	if s.Sample != "" {
		b.WriteByte(' ')
		b.WriteString(s.Sample)
	}
	if w := And(s.Where...); w != nil {
		b.WriteString(" WHERE ")
		w.writeTo(&b, q)
	}
	if len(s.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range s.OrderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			o.writeTo(&b, q)
		}
	}
	if s.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", s.Limit)
	}
	return b.String()
}

// ValidString reports if the given string is not null and valid.
func ValidString(s sql.NullString) bool {
	return s.Valid && s.String != "" && strings.ToLower(s.String) != "null"
}

// ScanStrings scans all rows into string slices. NULL values scan to
// ok=false cells represented as empty strings with the null mask.
func ScanStrings(rows *sql.Rows) ([][]sql.NullString, error) {
	defer rows.Close()
	types, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out [][]sql.NullString
	for rows.Next() {
		row := make([]sql.NullString, len(types))
		args := make([]any, len(types))
		for i := range row {
			args[i] = &row[i]
		}
		if err := rows.Scan(args...); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ScanOneRow scans exactly one row into string cells and reports an
// error when the result shape is not a single row.
func ScanOneRow(rows *sql.Rows) ([]sql.NullString, error) {
	all, err := ScanStrings(rows)
	if err != nil {
		return nil, err
	}
	if len(all) != 1 {
		return nil, fmt.Errorf("sqlx: expected a single row, got %d", len(all))
	}
	return all[0], nil
}

// QueryOneRow executes the query and scans its single-row result.
func QueryOneRow(ctx context.Context, db interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, query string) ([]sql.NullString, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return ScanOneRow(rows)
}
