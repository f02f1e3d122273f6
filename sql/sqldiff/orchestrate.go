// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqldiff

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tablediff/tablediff/sql/schema"
)

// run owns one comparison: validated options, bound segments, the
// worker pool and the output stream.
type run struct {
	opts   Options
	left   *TableSegment
	right  *TableSegment
	space  *KeySpace
	stream *Stream
	stats  *RunStats
	sem    *semaphore.Weighted
	tasks  *taskGroup
	cancel context.CancelFunc
	ctx    context.Context
}

// newRun validates the request and resolves both schemas. All
// Validation and Schema errors surface here, before any diff query
// is issued.
func newRun(ctx context.Context, left, right *TableSegment, opts Options) (*run, error) {
	if left == nil || right == nil || left.DB == nil || right.DB == nil {
		return nil, errValidationf("both segments need a database handle")
	}
	if left.Table == "" || right.Table == "" {
		return nil, errValidationf("both segments need a table path")
	}
	applyDefaults(&opts)
	if opts.BisectionFactor < 2 {
		return nil, errValidationf("bisection factor %d below minimum 2", opts.BisectionFactor)
	}
	if opts.BisectionThreshold < 1 {
		return nil, errValidationf("bisection threshold %d below minimum 1", opts.BisectionThreshold)
	}
	if opts.Threads < 1 {
		return nil, errValidationf("threads %d below minimum 1", opts.Threads)
	}
	if len(left.KeyColumns) == 0 {
		return nil, errValidationf("key columns are required")
	}
	if len(left.KeyColumns) != len(right.KeyColumns) {
		return nil, errValidationf("key arity differs: %d vs %d", len(left.KeyColumns), len(right.KeyColumns))
	}
	if ld, rd := left.DB.Dialect().ChecksumDigits(), right.DB.Dialect().ChecksumDigits(); ld != rd {
		return nil, errValidationf("checksum truncation width differs: %d vs %d hex digits", ld, rd)
	}
	if opts.Sampling != nil {
		if err := validateSampling(opts.Sampling); err != nil {
			return nil, err
		}
	}
	l, r := *left, *right
	if opts.Where != "" {
		if l.Where == "" {
			l.Where = opts.Where
		}
		if r.Where == "" {
			r.Where = opts.Where
		}
	}
	if opts.ExtraColumns != nil {
		l.ExtraColumns = append([]string(nil), opts.ExtraColumns...)
		r.ExtraColumns = remapColumns(opts.ExtraColumns, opts.ColumnRemapping)
	}
	stats := newRunStats()
	if opts.TimestampPrecision > 6 {
		stats.Warn(WarnPrecisionLoss, fmt.Sprintf("timestamp precision %d clamped to the 6 microsecond digits backends can render", opts.TimestampPrecision))
		opts.TimestampPrecision = 6
	}
	var lt, rt *schema.Table
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		lt, err = resolveTable(gctx, &l)
		return err
	})
	g.Go(func() (err error) {
		rt, err = resolveTable(gctx, &r)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if l.ExtraColumns == nil {
		intersectExtras(&l, lt, &r, rt, opts.ColumnRemapping, stats)
	}
	if err := excludeUnsupported(&l, lt, &r, rt, opts.StrictTypeChecking, stats); err != nil {
		return nil, err
	}
	space, err := buildKeySpace(&l, lt, &r, rt)
	if err != nil {
		return nil, err
	}
	if err := parseRawBounds(&l, space); err != nil {
		return nil, err
	}
	if err := parseRawBounds(&r, space); err != nil {
		return nil, err
	}
	norm := NormalizeOptions{
		CaseSensitive:      !opts.CaseInsensitive,
		FloatScale:         DefaultFloatScale,
		TimestampPrecision: opts.TimestampPrecision,
		JSONStructural:     opts.JSONStructural,
	}
	if opts.CaseInsensitive {
		stats.Warn(WarnCaseFolding, "text columns folded to lower case before hashing")
	}
	warnTimezones(&l, lt, stats)
	warnTimezones(&r, rt, stats)
	lb, err := l.WithSchema(lt, space, norm)
	if err != nil {
		return nil, err
	}
	rb, err := r.WithSchema(rt, space, norm)
	if err != nil {
		return nil, err
	}
	algo, err := chooseAlgorithm(opts.Algorithm, lb, rb)
	if err != nil {
		return nil, err
	}
	opts.Algorithm = algo
	rctx, cancel := context.WithCancel(ctx)
	rn := &run{
		opts:   opts,
		left:   lb,
		right:  rb,
		space:  space,
		stats:  stats,
		sem:    semaphore.NewWeighted(int64(opts.Threads)),
		cancel: cancel,
		ctx:    rctx,
	}
	rn.stream = newStream(lb.KeyColumns, lb.ExtraColumns, 2*opts.Threads)
	rn.stream.stats = stats
	rn.tasks = &taskGroup{cancel: cancel}
	slow := time.Duration(opts.SlowChecksumWarn) * time.Millisecond
	lb.stats, rb.stats = stats, stats
	lb.slowWarn, rb.slowWarn = slow, slow
	return rn, nil
}

func applyDefaults(opts *Options) {
	if opts.Algorithm == "" {
		opts.Algorithm = AlgorithmAuto
	}
	if opts.BisectionFactor == 0 {
		opts.BisectionFactor = DefaultBisectionFactor
	}
	if opts.BisectionThreshold == 0 {
		opts.BisectionThreshold = DefaultBisectionThreshold
	}
	if opts.Threads == 0 {
		opts.Threads = 1
	}
	if opts.TimestampPrecision == 0 {
		opts.TimestampPrecision = DefaultTimestampPrecision
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
}

func validateSampling(s *SamplingOptions) error {
	switch s.Method {
	case "", SampleSystem, SampleBernoulli, SampleDeterministic:
	default:
		return errValidationf("unknown sampling method %q", s.Method)
	}
	if s.Percent < 0 || s.Percent > 100 {
		return errValidationf("sampling percent %v out of range", s.Percent)
	}
	if s.Percent == 0 && s.Size == 0 && s.Confidence == 0 {
		return errValidationf("sampling directive needs percent, size or confidence")
	}
	if s.Confidence > 0 {
		if _, ok := zScores[s.Confidence]; !ok {
			return errValidationf("unsupported confidence level %v", s.Confidence)
		}
	}
	return nil
}

func remapColumns(cols []string, remap map[string]string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		if r, ok := remap[c]; ok {
			out[i] = r
		} else {
			out[i] = c
		}
	}
	return out
}

// parseRawBounds resolves string-form key bounds against the run's
// key space.
func parseRawBounds(s *TableSegment, space *KeySpace) error {
	if s.MinKey == nil && len(s.MinKeyRaw) > 0 {
		k, err := space.Parse(s.MinKeyRaw)
		if err != nil {
			return errValidationf("min_key: %v", err)
		}
		s.MinKey = k
	}
	if s.MaxKey == nil && len(s.MaxKeyRaw) > 0 {
		k, err := space.Parse(s.MaxKeyRaw)
		if err != nil {
			return errValidationf("max_key: %v", err)
		}
		s.MaxKey = k
	}
	return nil
}

// resolveTable describes the table and refines the descriptors of
// every column the run touches.
func resolveTable(ctx context.Context, s *TableSegment) (*schema.Table, error) {
	t, err := s.DB.DescribeTable(ctx, s.Schema, s.Table)
	if err != nil {
		return nil, err
	}
	cols := append(append([]string(nil), s.KeyColumns...), s.ExtraColumns...)
	if s.UpdateColumn != "" {
		cols = append(cols, s.UpdateColumn)
	}
	if err := s.DB.RefineColumnTypes(ctx, t, cols); err != nil {
		return nil, err
	}
	return t, nil
}

// intersectExtras selects all non-key columns present on both sides.
// Columns unique to one side are a warning, not a row difference.
func intersectExtras(l *TableSegment, lt *schema.Table, r *TableSegment, rt *schema.Table, remap map[string]string, stats *RunStats) {
	isKey := make(map[string]bool, len(l.KeyColumns))
	for _, k := range l.KeyColumns {
		isKey[k] = true
	}
	rightKeys := make(map[string]bool, len(r.KeyColumns))
	for _, k := range r.KeyColumns {
		rightKeys[k] = true
	}
	var lcols, rcols []string
	for _, c := range lt.Columns {
		if isKey[c.Name] {
			continue
		}
		rname := c.Name
		if m, ok := remap[c.Name]; ok {
			rname = m
		}
		if _, ok := rt.Column(rname); !ok || rightKeys[rname] {
			if !rightKeys[rname] {
				stats.Warn(WarnColumnMissing, fmt.Sprintf("column %q is missing on the right side", c.Name))
			}
			continue
		}
		lcols = append(lcols, c.Name)
		rcols = append(rcols, rname)
	}
	matched := make(map[string]bool, len(rcols))
	for _, c := range rcols {
		matched[c] = true
	}
	for _, c := range rt.Columns {
		if !matched[c.Name] && !rightKeys[c.Name] {
			stats.Warn(WarnColumnMissing, fmt.Sprintf("column %q is missing on the left side", c.Name))
		}
	}
	l.ExtraColumns, r.ExtraColumns = lcols, rcols
}

// excludeUnsupported drops payload columns without a deterministic
// canonical form on both sides, or fails under strict checking.
// Unsupported key columns always fail.
func excludeUnsupported(l *TableSegment, lt *schema.Table, r *TableSegment, rt *schema.Table, strict bool, stats *RunStats) error {
	unsupported := func(t *schema.Table, name string) (string, bool) {
		c, ok := t.Column(name)
		if !ok {
			return "", false
		}
		if u, ok := c.Type.Type.(*schema.UnsupportedType); ok {
			return u.T, true
		}
		return "", false
	}
	for _, k := range l.KeyColumns {
		if raw, ok := unsupported(lt, k); ok {
			return errValidationf("key column %q has unsupported type %q", k, raw)
		}
	}
	for _, k := range r.KeyColumns {
		if raw, ok := unsupported(rt, k); ok {
			return errValidationf("key column %q has unsupported type %q", k, raw)
		}
	}
	var lcols, rcols []string
	for i := range l.ExtraColumns {
		lraw, lbad := unsupported(lt, l.ExtraColumns[i])
		rraw, rbad := unsupported(rt, r.ExtraColumns[i])
		if lbad || rbad {
			name, raw := l.ExtraColumns[i], lraw
			if !lbad {
				raw = rraw
			}
			if strict {
				return &SchemaError{Column: name, Raw: raw}
			}
			stats.Warn(WarnUnsupportedColumn, fmt.Sprintf("column %q excluded: unsupported type %q", name, raw))
			continue
		}
		lcols = append(lcols, l.ExtraColumns[i])
		rcols = append(rcols, r.ExtraColumns[i])
	}
	l.ExtraColumns, r.ExtraColumns = lcols, rcols
	return nil
}

// buildKeySpace derives the shared key-space and rejects key columns
// that are not order-compatible across the two sides.
func buildKeySpace(l *TableSegment, lt *schema.Table, r *TableSegment, rt *schema.Table) (*KeySpace, error) {
	domains := make([]KeyDomain, len(l.KeyColumns))
	for i := range l.KeyColumns {
		lc, ok := lt.Column(l.KeyColumns[i])
		if !ok {
			return nil, errValidationf("key column %q not found on the left side", l.KeyColumns[i])
		}
		rc, ok := rt.Column(r.KeyColumns[i])
		if !ok {
			return nil, errValidationf("key column %q not found on the right side", r.KeyColumns[i])
		}
		if lc.Type.Null || rc.Type.Null {
			return nil, errValidationf("key column %q must be non-nullable on both sides", l.KeyColumns[i])
		}
		ld, err := DomainFor(lc.Type.Type, l.DB.Dialect())
		if err != nil {
			return nil, err
		}
		rd, err := DomainFor(rc.Type.Type, r.DB.Dialect())
		if err != nil {
			return nil, err
		}
		if ld.Name() != rd.Name() {
			return nil, errValidationf("key column %q is not order-compatible: %s vs %s", l.KeyColumns[i], ld.Name(), rd.Name())
		}
		domains[i] = ld
	}
	return &KeySpace{Domains: domains}, nil
}

func warnTimezones(s *TableSegment, t *schema.Table, stats *RunStats) {
	for _, name := range s.ExtraColumns {
		c, ok := t.Column(name)
		if !ok {
			continue
		}
		if tt, ok := c.Type.Type.(*schema.TimeType); ok && !tt.WithTZ && !tt.DateOnly {
			stats.Warn(WarnTimezoneFolding, fmt.Sprintf("column %q has no timezone; values are compared as stored (pre-convert to UTC)", name))
			return
		}
	}
}

// chooseAlgorithm applies the auto policy and validates explicit
// choices. JoinDiff demands a shared Database identity and key
// uniqueness on both sides.
func chooseAlgorithm(a Algorithm, l, r *TableSegment) (Algorithm, error) {
	sameDB := l.DB == r.DB
	switch a {
	case AlgorithmAuto:
		if sameDB && keyUnique(l) && keyUnique(r) {
			return AlgorithmJoinDiff, nil
		}
		return AlgorithmHashDiff, nil
	case AlgorithmHashDiff:
		return a, nil
	case AlgorithmJoinDiff:
		if !sameDB {
			return "", errValidationf("joindiff requires both segments on the same database")
		}
		if !keyUnique(l) || !keyUnique(r) {
			return "", errValidationf("joindiff requires a unique key constraint on both sides")
		}
		return a, nil
	default:
		return "", errValidationf("unknown algorithm %q", a)
	}
}

// keyUnique reports whether the backend can guarantee key uniqueness
// for the segment: the primary key must be covered by the key
// columns.
func keyUnique(s *TableSegment) bool {
	if !s.DB.Dialect().SupportsKeyUniqueness() {
		return false
	}
	if len(s.resolved.PrimaryKey) == 0 {
		return false
	}
	keys := make(map[string]bool, len(s.KeyColumns))
	for _, k := range s.KeyColumns {
		keys[k] = true
	}
	for _, c := range s.resolved.PrimaryKey {
		if !keys[c.Name] {
			return false
		}
	}
	return true
}

// run drives the chosen algorithm and closes the stream with its
// terminal status.
func (r *run) run() {
	start := time.Now()
	err := r.execute()
	r.stats.addPhase("total", time.Since(start))
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		err = ErrCancelled
	case errors.Is(err, context.DeadlineExceeded):
		err = fmt.Errorf("sqldiff: run timed out: %w", err)
	}
	if err != nil {
		r.log().Warn("run failed", zap.Error(err))
	}
	r.cancel()
	r.stream.close(err)
}

func (r *run) execute() error {
	defer r.cancel()
	if r.opts.Sampling != nil {
		if err := r.resolveSampling(); err != nil {
			return err
		}
	}
	phase := time.Now()
	switch r.opts.Algorithm {
	case AlgorithmJoinDiff:
		j := &joinDiffer{r: r}
		if err := j.diff(r.ctx); err != nil {
			r.tasks.fail(err)
		}
	default:
		h := &hashDiffer{r: r}
		if err := h.diff(r.ctx); err != nil {
			r.tasks.fail(err)
		}
	}
	err := r.tasks.wait()
	r.stats.addPhase("diff", time.Since(phase))
	return err
}

// resolveSampling turns the directive into per-side plans, counting
// the population when the directive is size- or confidence-based.
func (r *run) resolveSampling() error {
	var population int64
	s := r.opts.Sampling
	if s.Size > 0 || s.Confidence > 0 {
		phase := time.Now()
		n, err := r.left.Count(r.ctx)
		if err != nil {
			return err
		}
		population = n
		r.stats.addPhase("sampling_count", time.Since(phase))
	}
	plan, err := planSampling(s, r.left, r.right, population, r.stats)
	if err != nil {
		return err
	}
	r.left = r.left.withSampling(plan)
	r.right = r.right.withSampling(plan)
	return nil
}

func (r *run) log() *zap.Logger { return r.opts.Logger }

// withSlot runs f under one worker-pool slot, so no more than the
// configured thread count of queries is in flight at once.
func (r *run) withSlot(ctx context.Context, f func(context.Context) error) error {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.sem.Release(1)
	return f(ctx)
}

// parallel runs the two side-functions concurrently, each under its
// own pool slot, so the latencies of a segment pair overlap.
func (r *run) parallel(ctx context.Context, fns ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range fns {
		f := f
		g.Go(func() error {
			return r.withSlot(gctx, f)
		})
	}
	return g.Wait()
}

// taskGroup tracks the dynamically spawned segment tasks of a run.
// The first failure cancels the run context, so sibling tasks stop
// at their next suspension point.
type taskGroup struct {
	wg     sync.WaitGroup
	mu     sync.Mutex
	err    error
	cancel context.CancelFunc
}

func (g *taskGroup) spawn(f func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := f(); err != nil {
			g.fail(err)
		}
	}()
}

func (g *taskGroup) fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err == nil || errors.Is(g.err, context.Canceled) && !errors.Is(err, context.Canceled) {
		g.err = err
	}
	g.cancel()
}

func (g *taskGroup) wait() error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}
