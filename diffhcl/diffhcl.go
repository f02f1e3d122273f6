// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package diffhcl decodes run specifications written in HCL into
// engine options and table segments.
package diffhcl

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/tablediff/tablediff/sql/sqldiff"
)

type (
	// File is a decoded run-specification document.
	File struct {
		Diffs []*Diff `hcl:"diff,block"`
	}

	// Diff is one named comparison between two table sides.
	Diff struct {
		Name  string `hcl:"name,label"`
		Left  *Side  `hcl:"left,block"`
		Right *Side  `hcl:"right,block"`

		KeyColumns         []string          `hcl:"key_columns"`
		ExtraColumns       []string          `hcl:"extra_columns,optional"`
		UpdateColumn       string            `hcl:"update_column,optional"`
		Algorithm          string            `hcl:"algorithm,optional"`
		Threads            int               `hcl:"threads,optional"`
		BisectionFactor    int               `hcl:"bisection_factor,optional"`
		BisectionThreshold int               `hcl:"bisection_threshold,optional"`
		FloatTolerance     float64           `hcl:"float_tolerance,optional"`
		CaseInsensitive    bool              `hcl:"case_insensitive,optional"`
		StrictTypes        bool              `hcl:"strict_types,optional"`
		TimestampPrecision int               `hcl:"timestamp_precision,optional"`
		JSONStructural     bool              `hcl:"json_structural,optional"`
		Where              string            `hcl:"where,optional"`
		Remap              map[string]string `hcl:"remap,optional"`
		Sampling           *Sampling         `hcl:"sampling,block"`
	}

	// Side binds one side of a comparison to a backend table.
	Side struct {
		URL   string `hcl:"url"`
		Table string `hcl:"table"`

		Where     string   `hcl:"where,optional"`
		MinKey    []string `hcl:"min_key,optional"`
		MaxKey    []string `hcl:"max_key,optional"`
		MinUpdate string   `hcl:"min_update,optional"`
		MaxUpdate string   `hcl:"max_update,optional"`
	}

	// Sampling configures key-space sampling for a diff.
	Sampling struct {
		Method     string  `hcl:"method,optional"`
		Percent    float64 `hcl:"percent,optional"`
		Size       int64   `hcl:"size,optional"`
		Confidence float64 `hcl:"confidence,optional"`
		Margin     float64 `hcl:"margin_of_error,optional"`
		MinSize    int64   `hcl:"min_size,optional"`
		MaxSize    int64   `hcl:"max_size,optional"`
	}
)

// DecodeFile reads and decodes a run-specification file.
func DecodeFile(path string) (*File, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("diffhcl: reading %q: %w", path, err)
	}
	return Decode(src, path)
}

// Decode decodes a run specification. Attribute expressions may
// reference process environment values as env.NAME.
func Decode(src []byte, filename string) (*File, error) {
	p := hclparse.NewParser()
	hf, diags := p.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("diffhcl: %w", diags)
	}
	var f File
	if diags := gohcl.DecodeBody(hf.Body, evalContext(), &f); diags.HasErrors() {
		return nil, fmt.Errorf("diffhcl: %w", diags)
	}
	for _, d := range f.Diffs {
		if err := d.validate(); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

// evalContext exposes the process environment to url and filter
// expressions, so credentials stay out of checked-in specs.
func evalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = cty.StringVal(v)
		}
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(env),
		},
	}
}

func (d *Diff) validate() error {
	if d.Left == nil || d.Right == nil {
		return fmt.Errorf("diffhcl: diff %q needs both left and right blocks", d.Name)
	}
	if len(d.KeyColumns) == 0 {
		return fmt.Errorf("diffhcl: diff %q needs key_columns", d.Name)
	}
	switch sqldiff.Algorithm(d.Algorithm) {
	case "", sqldiff.AlgorithmAuto, sqldiff.AlgorithmHashDiff, sqldiff.AlgorithmJoinDiff:
	default:
		return fmt.Errorf("diffhcl: diff %q: unknown algorithm %q", d.Name, d.Algorithm)
	}
	return nil
}

// Options maps the decoded diff onto engine options.
func (d *Diff) Options() sqldiff.Options {
	opts := sqldiff.Options{
		Algorithm:          sqldiff.Algorithm(d.Algorithm),
		BisectionFactor:    d.BisectionFactor,
		BisectionThreshold: d.BisectionThreshold,
		Threads:            d.Threads,
		ExtraColumns:       d.ExtraColumns,
		ColumnRemapping:    d.Remap,
		Where:              d.Where,
		FloatTolerance:     d.FloatTolerance,
		CaseInsensitive:    d.CaseInsensitive,
		StrictTypeChecking: d.StrictTypes,
		TimestampPrecision: d.TimestampPrecision,
		JSONStructural:     d.JSONStructural,
	}
	if s := d.Sampling; s != nil {
		opts.Sampling = &sqldiff.SamplingOptions{
			Method:     sqldiff.SamplingMethod(s.Method),
			Percent:    s.Percent,
			Size:       s.Size,
			Confidence: s.Confidence,
			Margin:     s.Margin,
			MinSample:  s.MinSize,
			MaxSample:  s.MaxSize,
		}
	}
	return opts
}

// Segment maps one decoded side onto a table segment. The database
// handle is attached by the caller after opening the side's URL.
func (s *Side) Segment(db sqldiff.Database, keyColumns []string, updateColumn string) *sqldiff.TableSegment {
	schemaName, table := splitTable(s.Table)
	return &sqldiff.TableSegment{
		DB:           db,
		Schema:       schemaName,
		Table:        table,
		KeyColumns:   keyColumns,
		UpdateColumn: updateColumn,
		MinKeyRaw:    s.MinKey,
		MaxKeyRaw:    s.MaxKey,
		MinUpdate:    s.MinUpdate,
		MaxUpdate:    s.MaxUpdate,
		Where:        s.Where,
	}
}

// splitTable splits "schema.table" into its parts; a bare name leaves
// the schema to the backend default.
func splitTable(path string) (schemaName, table string) {
	if i := strings.LastIndexByte(path, '.'); i != -1 {
		return path[:i], path[i+1:]
	}
	return "", path
}
