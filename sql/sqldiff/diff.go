// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package sqldiff implements row-level comparison of two tables that
// may reside in different relational stores. It exposes a single
// entry point, DiffTables, and depends on the abstract Database
// capability for all I/O.
package sqldiff

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Algorithm selects the comparison strategy.
type Algorithm string

const (
	// AlgorithmAuto picks JoinDiff when both segments share a
	// Database identity and HashDiff otherwise.
	AlgorithmAuto Algorithm = "auto"
	// AlgorithmHashDiff forces the checksum-bisection algorithm.
	AlgorithmHashDiff Algorithm = "hashdiff"
	// AlgorithmJoinDiff forces the same-database set-join algorithm.
	AlgorithmJoinDiff Algorithm = "joindiff"
)

// Defaults applied by DiffTables when an option is zero.
const (
	DefaultBisectionFactor    = 32
	DefaultBisectionThreshold = 16384
	DefaultFloatScale         = 6
	DefaultTimestampPrecision = 6
	DefaultChecksumDigits     = 15
)

// Options configures a run. The zero value selects the documented
// defaults; explicit fields always win.
type Options struct {
	Algorithm Algorithm
	// BisectionFactor is the number of child segments produced at
	// each internal node of the HashDiff recursion. Minimum 2.
	BisectionFactor int
	// BisectionThreshold is the row count below which HashDiff stops
	// recursing and materializes rows directly. Minimum 1.
	BisectionThreshold int
	// Threads bounds the number of in-flight backend queries.
	Threads int
	// ExtraColumns are the payload columns to compare. Nil selects
	// all intersected non-key columns.
	ExtraColumns []string
	// ColumnRemapping maps a left-side column name to its right-side
	// name before schema intersection.
	ColumnRemapping map[string]string
	// Where is appended to both segment WHERE clauses identically,
	// unless the segments carry their own per-side filters.
	Where string
	// FloatTolerance is the absolute tolerance applied to float
	// columns at the leaf comparator only.
	FloatTolerance float64
	// CaseInsensitive enables lower-case folding of text columns
	// on both sides before hashing and comparison. The default is a
	// case-sensitive comparison.
	CaseInsensitive bool
	// StrictTypeChecking turns unsupported-type columns into a
	// validation error instead of an excluded-column warning.
	StrictTypeChecking bool
	// TimestampPrecision is the fractional-second precision, 0-6.
	TimestampPrecision int
	// JSONStructural selects structural JSON comparison.
	JSONStructural bool
	// Sampling, when non-nil, compares a subset of the key space.
	Sampling *SamplingOptions
	// SlowChecksumWarn is the wall-clock threshold above which a
	// checksum query attaches a warning. Zero disables it.
	SlowChecksumWarn int64 // milliseconds
	// Logger receives run diagnostics. Nil means no logging.
	Logger *zap.Logger
}

// Kind classifies a difference record.
type Kind int8

const (
	// Changed reports a key present on both sides with differing
	// normalized payloads.
	Changed Kind = iota
	// MissingOnLeft reports a key present only on the right side.
	MissingOnLeft
	// MissingOnRight reports a key present only on the left side.
	MissingOnRight
)

func (k Kind) String() string {
	switch k {
	case Changed:
		return "changed"
	case MissingOnLeft:
		return "missing_on_left"
	case MissingOnRight:
		return "missing_on_right"
	default:
		return "unknown"
	}
}

// A Record is one emitted difference. Rows hold the normalized string
// form of the compared columns, aligned to Stream.Columns; a nil row
// marks the missing side. Records arrive in no guaranteed order
// across segments.
type Record struct {
	Kind  Kind
	Key   Key
	Left  []string
	Right []string
	// DifferingColumns is populated for Changed records only.
	DifferingColumns []string
}

// A Stream is the lazy sequence of difference records emitted by a
// run, plus the run identity and statistics. The records channel is
// closed at end of stream; Err reports the terminal error, if any.
type Stream struct {
	runID   uuid.UUID
	columns []string
	keyCols []string
	recs    chan Record
	stats   *RunStats

	mu   sync.Mutex
	err  error
	done chan struct{}
}

func newStream(keyCols, columns []string, buffer int) *Stream {
	return &Stream{
		runID:   uuid.New(),
		columns: columns,
		keyCols: keyCols,
		recs:    make(chan Record, buffer),
		stats:   newRunStats(),
		done:    make(chan struct{}),
	}
}

// RunID identifies the run for sinks and logs.
func (s *Stream) RunID() uuid.UUID { return s.runID }

// Columns reports the compared payload columns, in emission order.
func (s *Stream) Columns() []string { return s.columns }

// KeyColumns reports the key columns, in key order.
func (s *Stream) KeyColumns() []string { return s.keyCols }

// Records returns the difference channel. It is closed when the run
// finishes; check Err afterwards.
func (s *Stream) Records() <-chan Record { return s.recs }

// Stats returns the live run counters.
func (s *Stream) Stats() *RunStats { return s.stats }

// Err reports the terminal error of the run. It blocks until the
// stream has ended.
func (s *Stream) Err() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) close(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.recs)
	close(s.done)
}

// emit delivers a record unless the run is being cancelled.
func (s *Stream) emit(ctx context.Context, r Record) error {
	select {
	case s.recs <- r:
		s.stats.addDiffs(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DiffTables compares the two segments and returns the difference
// stream. Validation and schema errors are returned synchronously,
// before any query is issued; runtime errors terminate the stream
// and surface through Stream.Err.
func DiffTables(ctx context.Context, left, right *TableSegment, opts Options) (*Stream, error) {
	r, err := newRun(ctx, left, right, opts)
	if err != nil {
		return nil, err
	}
	go r.run()
	return r.stream, nil
}
