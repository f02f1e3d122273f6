// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/tablediff/tablediff/sql/sqldiff"
)

// JSONLines writes one JSON object per record to the given writer.
type JSONLines struct {
	w   *bufio.Writer
	enc *json.Encoder
	run *Run
}

// NewJSONLines returns a sink writing to w.
func NewJSONLines(w io.Writer) *JSONLines {
	bw := bufio.NewWriter(w)
	return &JSONLines{w: bw, enc: json.NewEncoder(bw)}
}

type jsonRecord struct {
	RunID            string   `json:"run_id"`
	Kind             string   `json:"kind"`
	Key              []string `json:"key"`
	Left             []string `json:"left,omitempty"`
	Right            []string `json:"right,omitempty"`
	DifferingColumns []string `json:"differing_columns,omitempty"`
}

// Start implements Sink.
func (j *JSONLines) Start(_ context.Context, run *Run) error {
	j.run = run
	return nil
}

// Write implements Sink.
func (j *JSONLines) Write(_ context.Context, rec sqldiff.Record) error {
	return j.enc.Encode(jsonRecord{
		RunID:            j.run.ID.String(),
		Kind:             rec.Kind.String(),
		Key:              rec.Key.Values(),
		Left:             rec.Left,
		Right:            rec.Right,
		DifferingColumns: rec.DifferingColumns,
	})
}

// Close flushes buffered records.
func (j *JSONLines) Close(context.Context, *sqldiff.RunStats, error) error {
	return j.w.Flush()
}
