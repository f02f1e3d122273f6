// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqldiff

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tablediff/tablediff/sql/internal/sqlx"
	"github.com/tablediff/tablediff/sql/schema"
)

// A TableSegment identifies a contiguous key-range slice of one
// table: the owning database, the table path, the selected columns,
// optional key and update-column bounds, an opaque filter and an
// optional sampling directive. Segments are immutable; evolution
// happens by replacement with tightened bounds.
type TableSegment struct {
	DB Database
	// Schema and Table form the qualified table path. Schema may be
	// empty for backends without schema qualification.
	Schema string
	Table  string
	// KeyColumns is the ordered tuple of key-column names.
	KeyColumns []string
	// ExtraColumns are the payload columns compared for equality.
	ExtraColumns []string
	// UpdateColumn optionally names the column the update bounds
	// and the timeline statistics apply to.
	UpdateColumn string
	// MinKey (inclusive) and MaxKey (exclusive) bound the key box
	// component-wise. Nil means unbounded.
	MinKey Key
	MaxKey Key
	// MinKeyRaw and MaxKeyRaw are the unparsed forms of the bounds,
	// resolved against the run's key space at validation. Ignored
	// when the parsed bounds are set.
	MinKeyRaw []string
	MaxKeyRaw []string
	// MinUpdate (inclusive) and MaxUpdate (exclusive) bound the
	// update column. Require UpdateColumn.
	MinUpdate string
	MaxUpdate string
	// Where is an opaque predicate appended to the WHERE clause.
	Where string

	// Bound state, populated by the orchestrator.
	resolved *schema.Table
	space    *KeySpace
	norm     NormalizeOptions
	sampling *SamplingPlan
	// compared columns in emission order: keys then extras, with
	// their parsed types.
	keyTypes   []schema.Type
	extraTypes []schema.Type
	slowWarn   time.Duration
	stats      *RunStats
}

// WithSchema returns a copy of the segment with the resolved schema
// and comparison semantics bound. Every referenced column must
// appear in the resolved table.
func (s *TableSegment) WithSchema(t *schema.Table, space *KeySpace, norm NormalizeOptions) (*TableSegment, error) {
	ns := *s
	ns.resolved, ns.space, ns.norm = t, space, norm
	ns.keyTypes = make([]schema.Type, len(s.KeyColumns))
	for i, name := range s.KeyColumns {
		c, ok := t.Column(name)
		if !ok {
			return nil, errValidationf("key column %q not found in %s", name, s.path())
		}
		if c.Type.Null {
			return nil, errValidationf("key column %q is nullable", name)
		}
		ns.keyTypes[i] = c.Type.Type
	}
	ns.extraTypes = make([]schema.Type, len(s.ExtraColumns))
	for i, name := range s.ExtraColumns {
		c, ok := t.Column(name)
		if !ok {
			return nil, errValidationf("column %q not found in %s", name, s.path())
		}
		ns.extraTypes[i] = c.Type.Type
	}
	if s.UpdateColumn != "" {
		if _, ok := t.Column(s.UpdateColumn); !ok {
			return nil, errValidationf("update column %q not found in %s", s.UpdateColumn, s.path())
		}
	}
	if (s.MinUpdate != "" || s.MaxUpdate != "") && s.UpdateColumn == "" {
		return nil, errValidationf("update bounds on %s require an update column", s.path())
	}
	if s.MinKey != nil && s.MaxKey != nil && space.Compare(s.MinKey, s.MaxKey) >= 0 {
		return nil, errValidationf("min_key %s is not below max_key %s", s.MinKey, s.MaxKey)
	}
	return &ns, nil
}

func (s *TableSegment) path() string {
	if s.Schema == "" {
		return s.Table
	}
	return s.Schema + "." + s.Table
}

func (s *TableSegment) from() *sqlx.Qualified {
	return &sqlx.Qualified{Parts: []string{s.Schema, s.Table}}
}

// withKeyBounds derives a child segment covering one mesh cell.
func (s *TableSegment) withKeyBounds(min, max Key) *TableSegment {
	ns := *s
	ns.MinKey, ns.MaxKey = min, max
	return &ns
}

// withSampling attaches a resolved sampling plan.
func (s *TableSegment) withSampling(p *SamplingPlan) *TableSegment {
	ns := *s
	ns.sampling = p
	return &ns
}

func (s *TableSegment) keyExpr(i int) sqlx.Expr {
	return &sqlx.Ident{Name: s.KeyColumns[i]}
}

// normalizedExprs renders the key and extra columns in emission
// order as canonical strings.
func (s *TableSegment) normalizedExprs() ([]sqlx.Expr, error) {
	d := s.DB.Dialect()
	out := make([]sqlx.Expr, 0, len(s.KeyColumns)+len(s.ExtraColumns))
	for i, name := range s.KeyColumns {
		x, err := d.NormalizeExpr(&sqlx.Ident{Name: name}, s.keyTypes[i], s.norm)
		if err != nil {
			return nil, fmt.Errorf("sqldiff: normalize key column %q: %w", name, err)
		}
		out = append(out, x)
	}
	for i, name := range s.ExtraColumns {
		x, err := d.NormalizeExpr(&sqlx.Ident{Name: name}, s.extraTypes[i], s.norm)
		if err != nil {
			return nil, fmt.Errorf("sqldiff: normalize column %q: %w", name, err)
		}
		out = append(out, x)
	}
	return out, nil
}

// fingerprintExpr renders the per-row fingerprint input: the
// null-safe concatenation of all normalized compared columns.
func (s *TableSegment) fingerprintExpr() (sqlx.Expr, error) {
	xs, err := s.normalizedExprs()
	if err != nil {
		return nil, err
	}
	return s.DB.Dialect().ConcatExpr(xs...), nil
}

// whereConjuncts assembles the segment predicate: component-wise key
// bounds, update bounds, the opaque filter and the sampling
// predicate, all conjoined. Bounds are lo <= col and col < hi so
// sibling segments form a disjoint cover.
func (s *TableSegment) whereConjuncts() []sqlx.Expr {
	d := s.DB.Dialect()
	var conds []sqlx.Expr
	for i := range s.KeyColumns {
		dom := s.space.Domains[i]
		if s.MinKey != nil {
			conds = append(conds, sqlx.Infix(dom.Literal(d, s.MinKey[i]), "<=", s.keyExpr(i)))
		}
		if s.MaxKey != nil {
			conds = append(conds, sqlx.Infix(s.keyExpr(i), "<", dom.Literal(d, s.MaxKey[i])))
		}
	}
	if s.MinUpdate != "" {
		conds = append(conds, sqlx.Infix(&sqlx.Literal{V: d.QuoteLiteral(s.MinUpdate)}, "<=", &sqlx.Ident{Name: s.UpdateColumn}))
	}
	if s.MaxUpdate != "" {
		conds = append(conds, sqlx.Infix(&sqlx.Ident{Name: s.UpdateColumn}, "<", &sqlx.Literal{V: d.QuoteLiteral(s.MaxUpdate)}))
	}
	if s.Where != "" {
		conds = append(conds, &sqlx.Raw{X: "(" + s.Where + ")"})
	}
	if s.sampling != nil && s.sampling.Predicate != nil {
		conds = append(conds, s.sampling.Predicate(d, s.keyExprs()))
	}
	return conds
}

func (s *TableSegment) keyExprs() []sqlx.Expr {
	xs := make([]sqlx.Expr, len(s.KeyColumns))
	for i := range s.KeyColumns {
		xs[i] = s.keyExpr(i)
	}
	return xs
}

func (s *TableSegment) sampleClause() string {
	if s.sampling == nil {
		return ""
	}
	return s.sampling.Clause
}

// Count executes SELECT COUNT(*) over the segment.
func (s *TableSegment) Count(ctx context.Context) (int64, error) {
	q := (&sqlx.Select{
		Columns: []sqlx.Expr{sqlx.F("COUNT", &sqlx.Raw{X: "*"})},
		From:    s.from(),
		Sample:  s.sampleClause(),
		Where:   s.whereConjuncts(),
	}).SQL(s.DB.Dialect())
	row, err := sqlx.QueryOneRow(ctx, s.DB, q)
	if err != nil {
		return 0, &QueryError{SQL: q, Err: err}
	}
	return parseCount(row[0])
}

// CountAndChecksum executes a single round trip returning the row
// count and the additive checksum over the per-row fingerprints.
// The checksum is nil when the segment is empty.
func (s *TableSegment) CountAndChecksum(ctx context.Context) (int64, *string, error) {
	fp, err := s.fingerprintExpr()
	if err != nil {
		return 0, nil, err
	}
	d := s.DB.Dialect()
	q := (&sqlx.Select{
		Columns: []sqlx.Expr{
			sqlx.F("COUNT", &sqlx.Raw{X: "*"}),
			d.SumChecksumExpr(d.MD5IntExpr(fp)),
		},
		From:   s.from(),
		Sample: s.sampleClause(),
		Where:  s.whereConjuncts(),
	}).SQL(d)
	start := time.Now()
	row, err := sqlx.QueryOneRow(ctx, s.DB, q)
	if err != nil {
		return 0, nil, &QueryError{SQL: q, Err: err}
	}
	if s.slowWarn > 0 && time.Since(start) > s.slowWarn && s.stats != nil {
		s.stats.Warn(WarnSlowChecksum, fmt.Sprintf("checksum of %s took %s", s.path(), time.Since(start).Round(time.Millisecond)))
	}
	count, err := parseCount(row[0])
	if err != nil {
		return 0, nil, err
	}
	if count == 0 || !row[1].Valid {
		return count, nil, nil
	}
	sum := normalizeChecksum(row[1].String)
	return count, &sum, nil
}

// QueryKeyRange returns the per-component minimum and maximum of the
// key columns over the segment. The maximum is inclusive, as the
// backend reports it; callers derive the exclusive bound.
func (s *TableSegment) QueryKeyRange(ctx context.Context) (min, max Key, empty bool, err error) {
	d := s.DB.Dialect()
	cols := make([]sqlx.Expr, 0, 2*len(s.KeyColumns))
	for i, name := range s.KeyColumns {
		x, err := d.NormalizeExpr(&sqlx.Ident{Name: name}, s.keyTypes[i], s.norm)
		if err != nil {
			return nil, nil, false, err
		}
		cols = append(cols, sqlx.F("MIN", x), sqlx.F("MAX", x))
	}
	q := (&sqlx.Select{
		Columns: cols,
		From:    s.from(),
		Sample:  s.sampleClause(),
		Where:   s.whereConjuncts(),
	}).SQL(d)
	row, err := sqlx.QueryOneRow(ctx, s.DB, q)
	if err != nil {
		return nil, nil, false, &QueryError{SQL: q, Err: err}
	}
	mins := make([]string, len(s.KeyColumns))
	maxs := make([]string, len(s.KeyColumns))
	for i := range s.KeyColumns {
		lo, hi := row[2*i], row[2*i+1]
		if !lo.Valid || !hi.Valid {
			return nil, nil, true, nil
		}
		mins[i], maxs[i] = lo.String, hi.String
	}
	if min, err = s.space.Parse(mins); err != nil {
		return nil, nil, false, err
	}
	if max, err = s.space.Parse(maxs); err != nil {
		return nil, nil, false, err
	}
	return min, max, false, nil
}

// ChooseCheckpoints spaces interior checkpoints over the resolved
// bounds. For composite keys the factor is taken per dimension so
// the final mesh has approximately n cells. Returns per-dimension
// checkpoint lists; a degenerate range yields nil.
func (s *TableSegment) ChooseCheckpoints(n int) [][]KeyValue {
	if s.MinKey == nil || s.MaxKey == nil {
		return nil
	}
	dims := len(s.space.Domains)
	per := perDimFactor(n, dims)
	mesh := make([][]KeyValue, dims)
	any := false
	for i, dom := range s.space.Domains {
		mesh[i] = dom.Checkpoints(s.MinKey[i], s.MaxKey[i], per)
		if len(mesh[i]) > 0 {
			any = true
		}
	}
	if !any {
		return nil
	}
	return mesh
}

// perDimFactor returns the smallest per-dimension factor whose mesh
// reaches n cells.
func perDimFactor(n, dims int) int {
	if dims <= 1 {
		return n
	}
	per := 2
	for total := 1 << dims; total < n; total = pow(per, dims) {
		per++
	}
	return per
}

func pow(b, e int) int {
	out := 1
	for i := 0; i < e; i++ {
		out *= b
	}
	return out
}

// SegmentByCheckpoints produces child segments covering the mesh
// cells induced by the per-dimension checkpoints, each with
// tightened bounds. Sibling cells are disjoint and cover the parent.
func (s *TableSegment) SegmentByCheckpoints(mesh [][]KeyValue) []*TableSegment {
	dims := len(s.space.Domains)
	edges := make([][]KeyValue, dims)
	for i := range edges {
		edges[i] = append(append([]KeyValue{s.MinKey[i]}, mesh[i]...), s.MaxKey[i])
	}
	var out []*TableSegment
	lo, hi := make(Key, dims), make(Key, dims)
	idx := make([]int, dims)
	for {
		for i, j := range idx {
			lo[i], hi[i] = edges[i][j], edges[i][j+1]
		}
		out = append(out, s.withKeyBounds(append(Key(nil), lo...), append(Key(nil), hi...)))
		d := dims - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < len(edges[d])-1 {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return out
		}
	}
}

// Values materializes the normalized rows of the segment, ordered by
// key so both sides of a leaf can be merged in one pass.
func (s *TableSegment) Values(ctx context.Context) ([][]sql.NullString, error) {
	cols, err := s.normalizedExprs()
	if err != nil {
		return nil, err
	}
	q := (&sqlx.Select{
		Columns: cols,
		From:    s.from(),
		Sample:  s.sampleClause(),
		Where:   s.whereConjuncts(),
		OrderBy: s.keyExprs(),
	}).SQL(s.DB.Dialect())
	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, &QueryError{SQL: q, Err: err}
	}
	vals, err := sqlx.ScanStrings(rows)
	if err != nil {
		return nil, &QueryError{SQL: q, Err: err}
	}
	if s.stats != nil {
		var by int64
		for _, r := range vals {
			for _, c := range r {
				by += int64(len(c.String))
			}
		}
		s.stats.addFetched(int64(len(vals)), by)
	}
	return vals, nil
}

// spanSize reports the number of distinct keys the segment bounds
// can hold, when all domains can tell.
func (s *TableSegment) spanSize() (int64, bool) {
	if s.MinKey == nil || s.MaxKey == nil {
		return 0, false
	}
	total := int64(1)
	for i, dom := range s.space.Domains {
		n, ok := dom.Span(s.MinKey[i], s.MaxKey[i])
		if !ok {
			return 0, false
		}
		if n == 0 {
			return 0, true
		}
		if total > (1<<62)/n {
			return 0, false
		}
		total *= n
	}
	return total, true
}

func parseCount(v sql.NullString) (int64, error) {
	if !v.Valid {
		return 0, &InternalError{Assertion: "NULL COUNT(*) result"}
	}
	var n int64
	if _, err := fmt.Sscanf(v.String, "%d", &n); err != nil {
		return 0, fmt.Errorf("sqldiff: parse count %q: %w", v.String, err)
	}
	return n, nil
}

// normalizeChecksum strips backend decoration from an aggregate
// checksum (trailing ".000" from decimal sums, spaces) so checksums
// compare as plain integer strings.
func normalizeChecksum(v string) string {
	v = strings.TrimSpace(v)
	if i := strings.IndexByte(v, '.'); i >= 0 {
		v = v[:i]
	}
	return v
}
