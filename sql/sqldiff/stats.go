// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqldiff

import (
	"sync"
	"sync/atomic"
	"time"
)

// WarningCode classifies a non-fatal condition attached to a run.
type WarningCode string

const (
	WarnUnsupportedColumn WarningCode = "unsupported_column"
	WarnColumnMissing     WarningCode = "column_missing"
	WarnPrecisionLoss     WarningCode = "precision_loss"
	WarnTimezoneFolding   WarningCode = "timezone_folding"
	WarnCaseFolding       WarningCode = "case_folding"
	WarnSamplingApplied   WarningCode = "sampling_applied"
	WarnSlowChecksum      WarningCode = "slow_checksum"
)

// A Warning is a non-fatal condition reported on RunStats.
type Warning struct {
	Code    WarningCode
	Message string
}

// RunStats carries the monotonically updated counters of a run. All
// counter methods are safe for concurrent use; a consistent final
// tally requires waiting for stream end.
type RunStats struct {
	rowsLeft     atomic.Int64
	rowsRight    atomic.Int64
	checksums    atomic.Int64
	segments     atomic.Int64
	rowsFetched  atomic.Int64
	bytesFetched atomic.Int64
	diffs        atomic.Int64

	mu       sync.Mutex
	warnings []Warning
	phases   map[string]time.Duration
	columns  map[string]*ColumnStats
	timeline map[string]int64
}

// ColumnStats accumulates per-column mismatch counts at the leaves.
type ColumnStats struct {
	Compared  int64
	Differing int64
}

func newRunStats() *RunStats {
	return &RunStats{
		phases:   make(map[string]time.Duration),
		columns:  make(map[string]*ColumnStats),
		timeline: make(map[string]int64),
	}
}

func (s *RunStats) addRows(left, right int64) {
	s.rowsLeft.Add(left)
	s.rowsRight.Add(right)
}

func (s *RunStats) addChecksums(n int64)      { s.checksums.Add(n) }
func (s *RunStats) addSegments(n int64)       { s.segments.Add(n) }
func (s *RunStats) addDiffs(n int64)          { s.diffs.Add(n) }
func (s *RunStats) addFetched(rows, by int64) { s.rowsFetched.Add(rows); s.bytesFetched.Add(by) }

// RowsLeft reports rows counted on the left side so far.
func (s *RunStats) RowsLeft() int64 { return s.rowsLeft.Load() }

// RowsRight reports rows counted on the right side so far.
func (s *RunStats) RowsRight() int64 { return s.rowsRight.Load() }

// Checksums reports checksum queries issued so far.
func (s *RunStats) Checksums() int64 { return s.checksums.Load() }

// Segments reports segment pairs expanded so far.
func (s *RunStats) Segments() int64 { return s.segments.Load() }

// RowsFetched reports rows materialized at leaves so far.
func (s *RunStats) RowsFetched() int64 { return s.rowsFetched.Load() }

// BytesFetched estimates bytes fetched for row materialization.
func (s *RunStats) BytesFetched() int64 { return s.bytesFetched.Load() }

// Diffs reports difference records emitted so far.
func (s *RunStats) Diffs() int64 { return s.diffs.Load() }

// Warn attaches a non-fatal warning to the run.
func (s *RunStats) Warn(code WarningCode, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, Warning{Code: code, Message: msg})
}

// Warnings returns a copy of the warnings attached so far.
func (s *RunStats) Warnings() []Warning {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Warning(nil), s.warnings...)
}

func (s *RunStats) addPhase(name string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases[name] += d
}

// Phases returns the accumulated wall clock per run phase.
func (s *RunStats) Phases() map[string]time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Duration, len(s.phases))
	for k, v := range s.phases {
		out[k] = v
	}
	return out
}

func (s *RunStats) columnCompared(name string, differs bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := s.columns[name]
	if cs == nil {
		cs = &ColumnStats{}
		s.columns[name] = cs
	}
	cs.Compared++
	if differs {
		cs.Differing++
	}
}

// Columns returns a copy of the per-column comparison statistics.
func (s *RunStats) Columns() map[string]ColumnStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ColumnStats, len(s.columns))
	for k, v := range s.columns {
		out[k] = *v
	}
	return out
}

func (s *RunStats) timelineBucket(period string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeline[period]++
}

// Timeline returns per-period diff counts bucketed on the update
// column. Empty unless an update column was configured.
func (s *RunStats) Timeline() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.timeline))
	for k, v := range s.timeline {
		out[k] = v
	}
	return out
}
