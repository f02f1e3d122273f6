// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqldiff

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tablediff/tablediff/sql/internal/sqlx"
)

// joinDiffer implements the same-database fast path: one statement
// joining both segments on the key columns and filtering to rows
// whose normalized payloads are null-safe distinct. Requires both
// segments to share a Database identity and key uniqueness on both
// sides; the set join is undefined under duplicates.
type joinDiffer struct {
	r *run
}

func (j *joinDiffer) diff(ctx context.Context) error {
	l, r := j.r.left, j.r.right
	d := l.DB.Dialect()
	// Side counts run alongside the join so the final stats carry
	// per-side row totals like the hash path does.
	j.r.tasks.spawn(func() error {
		var lc, rc int64
		err := j.r.parallel(ctx,
			func(ctx context.Context) (err error) {
				lc, err = l.Count(ctx)
				return err
			},
			func(ctx context.Context) (err error) {
				rc, err = r.Count(ctx)
				return err
			},
		)
		if err != nil {
			return err
		}
		j.r.stats.addRows(lc, rc)
		return nil
	})
	q, err := j.statement(d)
	if err != nil {
		return err
	}
	var rows [][]sql.NullString
	err = j.r.withSlot(ctx, func(ctx context.Context) error {
		rs, err := l.DB.QueryContext(ctx, q)
		if err != nil {
			return &QueryError{SQL: q, Err: err}
		}
		if rows, err = sqlx.ScanStrings(rs); err != nil {
			return &QueryError{SQL: q, Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return j.emit(ctx, rows)
}

// sideQuery renders one side's subquery: normalized keys aliased
// k0..kN, normalized extras aliased c0..cN, and the payload
// concatenation aliased fp for the distinctness filter.
func (j *joinDiffer) sideQuery(d Dialect, s *TableSegment) (string, error) {
	norm, err := s.normalizedExprs()
	if err != nil {
		return "", err
	}
	nk := len(s.KeyColumns)
	var b strings.Builder
	b.WriteString("SELECT ")
	for i, x := range norm {
		if i > 0 {
			b.WriteString(", ")
		}
		alias := fmt.Sprintf("k%d", i)
		if i >= nk {
			alias = fmt.Sprintf("c%d", i-nk)
		}
		b.WriteString(sqlx.Render(x, d))
		b.WriteString(" AS ")
		b.WriteString(d.QuoteIdent(alias))
	}
	b.WriteString(", ")
	pay := sqlx.Expr(&sqlx.Literal{V: d.QuoteLiteral("")})
	if len(s.ExtraColumns) > 0 {
		pay = d.ConcatExpr(norm[nk:]...)
	}
	b.WriteString(sqlx.Render(pay, d))
	b.WriteString(" AS ")
	b.WriteString(d.QuoteIdent("fp"))
	b.WriteString(" FROM ")
	b.WriteString(sqlx.Render(s.from(), d))
	if c := s.sampleClause(); c != "" {
		b.WriteByte(' ')
		b.WriteString(c)
	}
	if w := sqlx.And(s.whereConjuncts()...); w != nil {
		b.WriteString(" WHERE ")
		b.WriteString(sqlx.Render(w, d))
	}
	return b.String(), nil
}

// statement assembles the full join. Backends without native FULL
// OUTER JOIN get a union of a left join and a right anti-join.
func (j *joinDiffer) statement(d Dialect) (string, error) {
	lsub, err := j.sideQuery(d, j.r.left)
	if err != nil {
		return "", err
	}
	rsub, err := j.sideQuery(d, j.r.right)
	if err != nil {
		return "", err
	}
	nk := len(j.r.left.KeyColumns)
	ne := len(j.r.left.ExtraColumns)
	la, ra := d.QuoteIdent("td_l"), d.QuoteIdent("td_r")
	proj := func() string {
		var cols []string
		for i := 0; i < nk; i++ {
			cols = append(cols, la+"."+d.QuoteIdent(fmt.Sprintf("k%d", i)))
		}
		for i := 0; i < nk; i++ {
			cols = append(cols, ra+"."+d.QuoteIdent(fmt.Sprintf("k%d", i)))
		}
		for i := 0; i < ne; i++ {
			cols = append(cols, la+"."+d.QuoteIdent(fmt.Sprintf("c%d", i)))
		}
		for i := 0; i < ne; i++ {
			cols = append(cols, ra+"."+d.QuoteIdent(fmt.Sprintf("c%d", i)))
		}
		return strings.Join(cols, ", ")
	}()
	var on []string
	for i := 0; i < nk; i++ {
		k := d.QuoteIdent(fmt.Sprintf("k%d", i))
		on = append(on, la+"."+k+" = "+ra+"."+k)
	}
	onClause := strings.Join(on, " AND ")
	distinct := sqlx.Render(d.DistinctFromExpr(
		&sqlx.Raw{X: la + "." + d.QuoteIdent("fp")},
		&sqlx.Raw{X: ra + "." + d.QuoteIdent("fp")},
	), d)
	if d.SupportsFullOuterJoin() {
		return fmt.Sprintf("SELECT %s FROM (%s) AS %s FULL OUTER JOIN (%s) AS %s ON %s WHERE %s",
			proj, lsub, la, rsub, ra, onClause, distinct), nil
	}
	// Left join finds missing-on-right and changed rows; the right
	// anti-join adds rows present only on the right side.
	antikey := la + "." + d.QuoteIdent("k0") + " IS NULL"
	return fmt.Sprintf(
		"SELECT %s FROM (%s) AS %s LEFT JOIN (%s) AS %s ON %s WHERE %s UNION ALL SELECT %s FROM (%s) AS %s LEFT JOIN (%s) AS %s ON %s WHERE %s",
		proj, lsub, la, rsub, ra, onClause, distinct,
		proj, rsub, ra, lsub, la, onClause, antikey), nil
}

// emit classifies the joined rows and reconstructs the differing
// column set client-side from the returned payloads.
func (j *joinDiffer) emit(ctx context.Context, rows [][]sql.NullString) error {
	l := j.r.left
	nk := len(l.KeyColumns)
	ne := len(l.ExtraColumns)
	for _, row := range rows {
		lkey, rkey := row[:nk], row[nk:2*nk]
		lvals, rvals := row[2*nk:2*nk+ne], row[2*nk+ne:]
		switch {
		case !lkey[0].Valid:
			key, err := j.parseKey(rkey)
			if err != nil {
				return err
			}
			if err := j.r.stream.emit(ctx, Record{Kind: MissingOnLeft, Key: key, Right: values(rvals)}); err != nil {
				return err
			}
		case !rkey[0].Valid:
			key, err := j.parseKey(lkey)
			if err != nil {
				return err
			}
			if err := j.r.stream.emit(ctx, Record{Kind: MissingOnRight, Key: key, Left: values(lvals)}); err != nil {
				return err
			}
		default:
			key, err := j.parseKey(lkey)
			if err != nil {
				return err
			}
			lrow := leafRow{key: key, extras: values(lvals), nulls: nullMask(lvals)}
			rrow := leafRow{key: key, extras: values(rvals), nulls: nullMask(rvals)}
			if err := (&hashDiffer{r: j.r}).comparePair(ctx, l, lrow, rrow); err != nil {
				return err
			}
		}
	}
	return nil
}

func (j *joinDiffer) parseKey(cells []sql.NullString) (Key, error) {
	vals := make([]string, len(cells))
	for i, c := range cells {
		vals[i] = c.String
	}
	return j.r.space.Parse(vals)
}

func values(cells []sql.NullString) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = c.String
	}
	return out
}

func nullMask(cells []sql.NullString) []bool {
	out := make([]bool, len(cells))
	for i, c := range cells {
		out[i] = !c.Valid
	}
	return out
}
