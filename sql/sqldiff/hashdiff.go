// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqldiff

import (
	"context"
	"math"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/tablediff/tablediff/sql/schema"
)

// hashDiffer runs the recursive checksum-bisection algorithm over a
// pair of segments. Bandwidth is proportional to the differences:
// equal subtrees are classified by a single count+checksum round
// trip per side, and only leaf segments materialize rows.
type hashDiffer struct {
	r *run
}

// diff resolves the root key box and processes the root pair.
// Recursion is modeled as task spawning on the run's pool, so the
// depth never consumes goroutine stack proportional to the tree.
func (h *hashDiffer) diff(ctx context.Context) error {
	left, right := h.r.left, h.r.right
	// Caller-supplied bounds define the box outright. Only missing
	// components are resolved from the observed key ranges.
	min := firstKey(left.MinKey, right.MinKey)
	max := firstKey(left.MaxKey, right.MaxKey)
	if min == nil || max == nil {
		var (
			lmin, lmax, rmin, rmax Key
			lempty, rempty         bool
		)
		err := h.r.parallel(ctx,
			func(ctx context.Context) (err error) {
				lmin, lmax, lempty, err = left.QueryKeyRange(ctx)
				return err
			},
			func(ctx context.Context) (err error) {
				rmin, rmax, rempty, err = right.QueryKeyRange(ctx)
				return err
			},
		)
		if err != nil {
			return err
		}
		switch {
		case lempty && rempty:
			return nil
		case lempty:
			lo, hi := min, max
			if lo == nil {
				lo = rmin
			}
			if hi == nil {
				hi = exclusiveMax(h.r.space, rmax)
			}
			return h.emitAll(ctx, right.withKeyBounds(lo, hi), MissingOnLeft)
		case rempty:
			lo, hi := min, max
			if lo == nil {
				lo = lmin
			}
			if hi == nil {
				hi = exclusiveMax(h.r.space, lmax)
			}
			return h.emitAll(ctx, left.withKeyBounds(lo, hi), MissingOnRight)
		}
		// The union of both ranges covers every key, so rows outside
		// the narrower side's range surface as missing naturally.
		if min == nil {
			min = minKey(h.r.space, lmin, rmin)
		}
		if max == nil {
			max = exclusiveMax(h.r.space, maxKey(h.r.space, lmax, rmax))
		}
	}
	left, right = left.withKeyBounds(min, max), right.withKeyBounds(min, max)
	h.spawnPair(ctx, left, right)
	return nil
}

// spawnPair schedules one segment pair on the pool.
func (h *hashDiffer) spawnPair(ctx context.Context, l, r *TableSegment) {
	h.r.tasks.spawn(func() error {
		return h.processPair(ctx, l, r)
	})
}

// processPair implements one node of the recursion: leaf test,
// internal count+checksum test, then bisection into aligned child
// pairs over shared checkpoints.
func (h *hashDiffer) processPair(ctx context.Context, l, r *TableSegment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.r.stats.addSegments(1)
	// A key box too small to hold more rows than the threshold can
	// go straight to the leaf path without a checksum round trip.
	if n, ok := l.spanSize(); ok && n <= int64(h.r.opts.BisectionThreshold) {
		return h.leaf(ctx, l, r)
	}
	var (
		lc, rc     int64
		lsum, rsum *string
	)
	err := h.r.parallel(ctx,
		func(ctx context.Context) (err error) {
			lc, lsum, err = l.CountAndChecksum(ctx)
			return err
		},
		func(ctx context.Context) (err error) {
			rc, rsum, err = r.CountAndChecksum(ctx)
			return err
		},
	)
	if err != nil {
		return err
	}
	h.r.stats.addChecksums(2)
	h.r.stats.addRows(lc, rc)
	if lc == rc && equalChecksum(lsum, rsum) {
		return nil
	}
	h.r.log().Debug("segment unequal",
		zap.String("min", keyString(l.MinKey)), zap.String("max", keyString(l.MaxKey)),
		zap.Int64("left", lc), zap.Int64("right", rc))
	// Counts alone differing does not short-circuit: bisection
	// proceeds so individual keys can be reported.
	if maxInt64(lc, rc) <= int64(h.r.opts.BisectionThreshold) {
		return h.leaf(ctx, l, r)
	}
	mesh := l.ChooseCheckpoints(h.r.opts.BisectionFactor)
	if mesh == nil {
		// Degenerate range: checkpoints collapsed.
		return h.leaf(ctx, l, r)
	}
	lchildren := l.SegmentByCheckpoints(mesh)
	rchildren := r.SegmentByCheckpoints(mesh)
	for i := range lchildren {
		h.spawnPair(ctx, lchildren[i], rchildren[i])
	}
	return nil
}

// emitAll reports every row of the segment with the given kind,
// used when the other side is empty.
func (h *hashDiffer) emitAll(ctx context.Context, s *TableSegment, kind Kind) error {
	var rows []leafRow
	err := h.r.withSlot(ctx, func(ctx context.Context) (err error) {
		rows, err = h.fetch(ctx, s)
		return err
	})
	if err != nil {
		return err
	}
	for _, row := range rows {
		rec := Record{Kind: kind, Key: row.key}
		if kind == MissingOnRight {
			rec.Left = row.extras
		} else {
			rec.Right = row.extras
		}
		if err := h.r.stream.emit(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// leafRow is a materialized row: parsed key plus the normalized
// extra-column values.
type leafRow struct {
	key    Key
	extras []string
	nulls  []bool
}

// fetch materializes and key-sorts the segment rows. Sorting happens
// client-side with the key-space comparator, so cross-backend
// collation differences cannot skew the merge. The caller holds the
// pool slot.
func (h *hashDiffer) fetch(ctx context.Context, s *TableSegment) ([]leafRow, error) {
	raw, err := s.Values(ctx)
	if err != nil {
		return nil, err
	}
	nk := len(s.KeyColumns)
	rows := make([]leafRow, 0, len(raw))
	for _, cells := range raw {
		keyVals := make([]string, nk)
		for i := 0; i < nk; i++ {
			if !cells[i].Valid {
				return nil, &InternalError{Assertion: "NULL key component in leaf row"}
			}
			keyVals[i] = cells[i].String
		}
		key, err := h.r.space.Parse(keyVals)
		if err != nil {
			return nil, err
		}
		extras := make([]string, len(cells)-nk)
		nulls := make([]bool, len(cells)-nk)
		for i, c := range cells[nk:] {
			extras[i], nulls[i] = c.String, !c.Valid
		}
		rows = append(rows, leafRow{key: key, extras: extras, nulls: nulls})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return h.r.space.Compare(rows[i].key, rows[j].key) < 0
	})
	return rows, nil
}

// leaf materializes both sides and merges them by key. Keys on one
// side only yield missing records; keys on both sides compare
// component-wise on their normalized extras, with the float
// tolerance honored here and nowhere else.
func (h *hashDiffer) leaf(ctx context.Context, l, r *TableSegment) error {
	var lrows, rrows []leafRow
	err := h.r.parallel(ctx,
		func(ctx context.Context) (err error) {
			lrows, err = h.fetch(ctx, l)
			return err
		},
		func(ctx context.Context) (err error) {
			rrows, err = h.fetch(ctx, r)
			return err
		},
	)
	if err != nil {
		return err
	}
	i, j := 0, 0
	for i < len(lrows) || j < len(rrows) {
		switch {
		case i == len(lrows):
			if err := h.r.stream.emit(ctx, Record{Kind: MissingOnLeft, Key: rrows[j].key, Right: rrows[j].extras}); err != nil {
				return err
			}
			h.bucket(r, rrows[j])
			j++
		case j == len(rrows):
			if err := h.r.stream.emit(ctx, Record{Kind: MissingOnRight, Key: lrows[i].key, Left: lrows[i].extras}); err != nil {
				return err
			}
			h.bucket(l, lrows[i])
			i++
		default:
			switch c := h.r.space.Compare(lrows[i].key, rrows[j].key); {
			case c < 0:
				if err := h.r.stream.emit(ctx, Record{Kind: MissingOnRight, Key: lrows[i].key, Left: lrows[i].extras}); err != nil {
					return err
				}
				h.bucket(l, lrows[i])
				i++
			case c > 0:
				if err := h.r.stream.emit(ctx, Record{Kind: MissingOnLeft, Key: rrows[j].key, Right: rrows[j].extras}); err != nil {
					return err
				}
				h.bucket(r, rrows[j])
				j++
			default:
				if err := h.comparePair(ctx, l, lrows[i], rrows[j]); err != nil {
					return err
				}
				i++
				j++
			}
		}
	}
	return nil
}

// comparePair compares the extras of two rows sharing a key.
func (h *hashDiffer) comparePair(ctx context.Context, l *TableSegment, lr, rr leafRow) error {
	var differing []string
	for c, name := range l.ExtraColumns {
		eq := cellsEqual(lr, rr, c, l.extraTypes[c], h.r.opts.FloatTolerance)
		h.r.stats.columnCompared(name, !eq)
		if !eq {
			differing = append(differing, name)
		}
	}
	if len(differing) == 0 {
		return nil
	}
	h.bucket(l, lr)
	return h.r.stream.emit(ctx, Record{
		Kind:             Changed,
		Key:              lr.key,
		Left:             lr.extras,
		Right:            rr.extras,
		DifferingColumns: differing,
	})
}

// bucket attributes a difference to its update-column period.
func (h *hashDiffer) bucket(s *TableSegment, row leafRow) {
	if s.UpdateColumn == "" {
		return
	}
	for i, name := range s.ExtraColumns {
		if name == s.UpdateColumn && !row.nulls[i] {
			v := row.extras[i]
			if len(v) > 10 {
				v = v[:10] // date component of the canonical form
			}
			h.r.stats.timelineBucket(v)
			return
		}
	}
}

func cellsEqual(lr, rr leafRow, i int, t schema.Type, tolerance float64) bool {
	if lr.nulls[i] != rr.nulls[i] {
		return false
	}
	if lr.nulls[i] {
		return true
	}
	if lr.extras[i] == rr.extras[i] {
		return true
	}
	if _, ok := t.(*schema.FloatType); ok && tolerance > 0 {
		if fl, err1 := strconv.ParseFloat(lr.extras[i], 64); err1 == nil {
			if fr, err2 := strconv.ParseFloat(rr.extras[i], 64); err2 == nil {
				return math.Abs(fl-fr) <= tolerance
			}
		}
	}
	return false
}

func equalChecksum(a, b *string) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return *a == *b
	}
}

// firstKey returns the first non-nil bound.
func firstKey(a, b Key) Key {
	if a != nil {
		return a
	}
	return b
}

func minKey(s *KeySpace, a, b Key) Key {
	out := make(Key, len(a))
	for i, d := range s.Domains {
		if d.Compare(a[i], b[i]) <= 0 {
			out[i] = a[i]
		} else {
			out[i] = b[i]
		}
	}
	return out
}

func maxKey(s *KeySpace, a, b Key) Key {
	out := make(Key, len(a))
	for i, d := range s.Domains {
		if d.Compare(a[i], b[i]) >= 0 {
			out[i] = a[i]
		} else {
			out[i] = b[i]
		}
	}
	return out
}

// exclusiveMax turns the inclusive catalog maximum into the
// exclusive upper bound segments carry.
func exclusiveMax(s *KeySpace, inclusive Key) Key {
	out := make(Key, len(inclusive))
	for i, d := range s.Domains {
		out[i] = d.Next(inclusive[i])
	}
	return out
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func keyString(k Key) string {
	if k == nil {
		return "-"
	}
	return k.String()
}
