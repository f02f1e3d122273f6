// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqldiff

import (
	"fmt"
	"math"

	"github.com/tablediff/tablediff/sql/internal/sqlx"
)

// SamplingOptions is the caller-facing sampling directive.
type SamplingOptions struct {
	Method SamplingMethod
	// Percent selects a proportional sample. Exclusive with Size.
	Percent float64
	// Size selects a target sample size computed against the table
	// population; Confidence and Margin refine it.
	Size int64
	// Confidence level in (0, 1), e.g. 0.95. Used with Size == 0 to
	// derive the statistically justified sample size.
	Confidence float64
	// Margin is the acceptable error E for the derived sample size.
	Margin float64
	// MinSample and MaxSample clip the derived size.
	MinSample int64
	MaxSample int64
}

// A SamplingPlan is the resolved rendering of a sampling directive
// for one side: a native table-level clause, a backend random-draw
// predicate, or a deterministic key-hash predicate identical on both
// sides.
type SamplingPlan struct {
	Method SamplingMethod
	// Clause is the native fragment placed after FROM, when used.
	Clause string
	// Predicate renders the per-row selection filter: the
	// deterministic key-hash modulus, or a backend random draw when
	// the method has no native clause.
	Predicate func(d Dialect, keys []sqlx.Expr) sqlx.Expr
	// Modulus of the deterministic filter, for reporting.
	Modulus int64
	// EffectiveFraction is the fraction of rows the plan selects.
	EffectiveFraction float64
}

// zScores for the confidence levels the planner accepts. Two-sided
// normal quantiles.
var zScores = map[float64]float64{
	0.80: 1.2816,
	0.90: 1.6449,
	0.95: 1.9600,
	0.98: 2.3263,
	0.99: 2.5758,
}

// SampleSize computes n = z² p(1-p) / E² with finite-population
// correction against population N, rounded up. The planner assumes
// worst-case p = 0.5 when no prior proportion is known.
func SampleSize(confidence, margin float64, population int64) (int64, error) {
	z, ok := zScores[confidence]
	if !ok {
		return 0, errValidationf("unsupported confidence level %v", confidence)
	}
	if margin <= 0 || margin >= 1 {
		return 0, errValidationf("margin must be in (0, 1), got %v", margin)
	}
	const p = 0.5
	n0 := z * z * p * (1 - p) / (margin * margin)
	if population > 0 {
		n0 = n0 / (1 + (n0-1)/float64(population))
	}
	return int64(math.Ceil(n0)), nil
}

// ConfidenceInterval returns the half-width z·sqrt(p̂(1-p̂)/n) of the
// per-proportion confidence interval at the given level.
func ConfidenceInterval(confidence, proportion float64, n int64) (float64, error) {
	z, ok := zScores[confidence]
	if !ok {
		return 0, errValidationf("unsupported confidence level %v", confidence)
	}
	if n <= 0 {
		return 0, errValidationf("sample size must be positive")
	}
	return z * math.Sqrt(proportion*(1-proportion)/float64(n)), nil
}

// planSampling resolves the directive into per-side plans. Sampling
// across databases forces the deterministic method, because only a
// key-hash selects the same subset on both sides.
func planSampling(opts *SamplingOptions, left, right *TableSegment, population int64, stats *RunStats) (*SamplingPlan, error) {
	if opts == nil {
		return nil, nil
	}
	fraction, err := sampleFraction(opts, population)
	if err != nil {
		return nil, err
	}
	method := opts.Method
	if method == "" {
		method = SampleDeterministic
	}
	crossDB := left.DB != right.DB
	if crossDB && method != SampleDeterministic {
		return nil, errValidationf("cross-database sampling requires the deterministic method")
	}
	plan := &SamplingPlan{Method: method, EffectiveFraction: fraction}
	switch method {
	case SampleSystem, SampleBernoulli:
		d := left.DB.Dialect()
		if clause, ok := d.SamplingClause(method, fraction*100); ok {
			plan.Clause = clause
			break
		}
		pred, ok := d.SamplingPredicate(method, fraction)
		if !ok {
			return nil, errValidationf("backend %q does not support %s sampling", d.Name(), method)
		}
		plan.Predicate = func(Dialect, []sqlx.Expr) sqlx.Expr { return pred }
	case SampleDeterministic:
		m := int64(math.Round(1 / fraction))
		if m < 1 {
			m = 1
		}
		plan.Modulus = m
		plan.EffectiveFraction = 1 / float64(m)
		// The % operator is the one modulus spelling all backends
		// share; MOD() does not exist on SQLite.
		plan.Predicate = func(d Dialect, keys []sqlx.Expr) sqlx.Expr {
			h := d.MD5IntExpr(d.ConcatExpr(keys...))
			return sqlx.Infix(sqlx.Infix(h, "%", &sqlx.Literal{V: fmt.Sprintf("%d", m)}), "=", &sqlx.Literal{V: "0"})
		}
	default:
		return nil, errValidationf("unknown sampling method %q", method)
	}
	stats.Warn(WarnSamplingApplied, fmt.Sprintf("sampling %s at %.4g%% of the key space", method, plan.EffectiveFraction*100))
	return plan, nil
}

func sampleFraction(opts *SamplingOptions, population int64) (float64, error) {
	switch {
	case opts.Percent > 0:
		if opts.Percent > 100 {
			return 0, errValidationf("sampling percent %v out of range", opts.Percent)
		}
		return opts.Percent / 100, nil
	case opts.Size > 0:
		if population <= 0 {
			return 0, errValidationf("size-based sampling requires a known population")
		}
		return fractionOf(clipSize(opts, opts.Size), population), nil
	case opts.Confidence > 0:
		if population <= 0 {
			return 0, errValidationf("derived sampling requires a known population")
		}
		n, err := SampleSize(opts.Confidence, opts.Margin, population)
		if err != nil {
			return 0, err
		}
		return fractionOf(clipSize(opts, n), population), nil
	default:
		return 0, errValidationf("sampling directive needs percent, size or confidence")
	}
}

// clipSize clips a derived sample size to [MinSample, MaxSample].
func clipSize(opts *SamplingOptions, n int64) int64 {
	if opts.MinSample > 0 && n < opts.MinSample {
		n = opts.MinSample
	}
	if opts.MaxSample > 0 && n > opts.MaxSample {
		n = opts.MaxSample
	}
	return n
}

func fractionOf(n, population int64) float64 {
	f := float64(n) / float64(population)
	if f > 1 {
		f = 1
	}
	return f
}
