// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package sink persists difference streams: in memory, as JSON lines,
// or into a set of report relations.
package sink

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tablediff/tablediff/sql/sqldiff"
)

// A Run describes the stream being persisted.
type Run struct {
	ID         uuid.UUID
	LeftURL    string
	RightURL   string
	LeftTable  string
	RightTable string
	KeyColumns []string
	Columns    []string
	Algorithm  string
	StartedAt  time.Time
}

// A Sink receives the records of one run. Write is called from a
// single goroutine; Close is called exactly once with the final
// statistics and the terminal error of the run.
type Sink interface {
	Start(ctx context.Context, run *Run) error
	Write(ctx context.Context, rec sqldiff.Record) error
	Close(ctx context.Context, stats *sqldiff.RunStats, runErr error) error
}

// Drain feeds an entire stream into the sink and returns the run
// error, if any.
func Drain(ctx context.Context, s Sink, run *Run, stream *sqldiff.Stream) error {
	if err := s.Start(ctx, run); err != nil {
		return err
	}
	for rec := range stream.Records() {
		if err := s.Write(ctx, rec); err != nil {
			return err
		}
	}
	runErr := stream.Err()
	if err := s.Close(ctx, stream.Stats(), runErr); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// Memory collects records in memory. Useful for tests and small runs.
type Memory struct {
	mu   sync.Mutex
	run  *Run
	recs []sqldiff.Record
	err  error
}

// Start implements Sink.
func (m *Memory) Start(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.run = run
	return nil
}

// Write implements Sink.
func (m *Memory) Write(_ context.Context, rec sqldiff.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

// Close implements Sink.
func (m *Memory) Close(_ context.Context, _ *sqldiff.RunStats, runErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = runErr
	return nil
}

// Records returns the collected records.
func (m *Memory) Records() []sqldiff.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sqldiff.Record(nil), m.recs...)
}

// Err returns the terminal error recorded at Close.
func (m *Memory) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}
