// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqldiff

import (
	"context"

	"github.com/tablediff/tablediff/sql/internal/sqlx"
	"github.com/tablediff/tablediff/sql/schema"
)

// ThreadingModel describes how a backend tolerates concurrent queries
// over a single logical connection.
type ThreadingModel int8

const (
	// Threaded backends accept concurrent queries up to the pool size.
	Threaded ThreadingModel = iota
	// SingleConnection backends serialize queries internally; the
	// client publishes a queued interface over one connection.
	SingleConnection
)

// SamplingMethod selects how a sampling directive is rendered.
type SamplingMethod string

const (
	// SampleSystem uses the backend's block-level TABLESAMPLE.
	SampleSystem SamplingMethod = "system"
	// SampleBernoulli uses per-row backend randomness.
	SampleBernoulli SamplingMethod = "bernoulli"
	// SampleDeterministic selects rows by a key-hash modulus that is
	// bit-identical on every backend. Mandatory for cross-database
	// sampling.
	SampleDeterministic SamplingMethod = "deterministic"
)

// NormalizeOptions carries the comparison semantics a normalized
// rendering must honor. Both sides of a run use identical options so
// equal logical values render to equal strings.
type NormalizeOptions struct {
	// CaseSensitive disables the lower-case fold on text columns.
	CaseSensitive bool
	// FloatScale is the fixed decimal scale floats are rendered at.
	FloatScale int
	// TimestampPrecision is the fractional-second precision, 0-6.
	TimestampPrecision int
	// JSONStructural selects structural (canonicalized) JSON
	// rendering instead of the raw document text.
	JSONStructural bool
}

// NullToken is the canonical stand-in for NULL inside row
// fingerprints, so a NULL cell and an empty string hash differently.
// A payload value equal to the token can mask a difference at an
// internal checksum node; the leaf comparator still sees the true
// NULL mask, so only checksum-pruned subtrees are affected.
const NullToken = "<null>"

// FingerprintSep joins normalized cells inside the fingerprint so
// adjacent values cannot alias across the column boundary.
const FingerprintSep = "|"

// A Dialect provides pure SQL rendering for one backend family.
// Implementations perform no I/O.
type Dialect interface {
	sqlx.Quoter

	// Name reports the backend family name (e.g. "mysql").
	Name() string

	// ParseType maps a backend type string to its semantic class.
	// Raw forms without a deterministic canonical rendering map to
	// *schema.UnsupportedType; parsing is total.
	ParseType(raw string) schema.Type

	// QuoteLiteral renders a string value as a backend string literal.
	QuoteLiteral(v string) string

	// NormalizeExpr renders the expression as the canonical string
	// form for its semantic class under the given options. The
	// result is a textual SQL expression; NULL stays NULL.
	NormalizeExpr(x sqlx.Expr, t schema.Type, opts NormalizeOptions) (sqlx.Expr, error)

	// ConcatExpr renders the null-safe concatenation of normalized
	// expressions into the per-row fingerprint input. NULL cells are
	// folded to NullToken so a NULL and an empty string differ.
	ConcatExpr(xs ...sqlx.Expr) sqlx.Expr

	// MD5HexExpr renders the full 32-digit hex MD5 of the expression.
	MD5HexExpr(x sqlx.Expr) sqlx.Expr

	// MD5IntExpr renders the low ChecksumDigits hex digits of the
	// MD5 of the expression as a nonnegative integer.
	MD5IntExpr(x sqlx.Expr) sqlx.Expr

	// SumChecksumExpr renders the additive order-independent
	// aggregate over MD5IntExpr values. The aggregate value is
	// scanned as a decimal string so it never overflows the wire.
	SumChecksumExpr(x sqlx.Expr) sqlx.Expr

	// ChecksumDigits reports the MD5 truncation width in hex digits.
	// Both sides of a run must agree; the default is 15 so a single
	// row checksum fits a signed 64-bit integer on every backend.
	ChecksumDigits() int

	// DistinctFromExpr renders a null-safe inequality between the
	// two expressions.
	DistinctFromExpr(l, r sqlx.Expr) sqlx.Expr

	// SamplingClause renders the backend's native table-level
	// sampling fragment for the method at the given percentage, or
	// ok=false when the backend has no native clause for it.
	SamplingClause(method SamplingMethod, percent float64) (fragment string, ok bool)

	// SamplingPredicate renders a per-row random predicate selecting
	// approximately the given fraction of rows, for methods the
	// backend cannot render as a table-level clause. ok=false when
	// the method is not supported as a predicate either.
	SamplingPredicate(method SamplingMethod, fraction float64) (x sqlx.Expr, ok bool)

	// SupportsKeyUniqueness reports whether the backend can enforce
	// and report unique key constraints.
	SupportsKeyUniqueness() bool

	// SupportsAlphanumericKeys reports whether string-typed key
	// columns may be segmented on this backend.
	SupportsAlphanumericKeys() bool

	// SupportsFullOuterJoin reports native FULL OUTER JOIN support.
	// Without it, JoinDiff renders a union of one-sided joins.
	SupportsFullOuterJoin() bool

	// ThreadingModel reports the backend concurrency capability.
	ThreadingModel() ThreadingModel
}

// A Database is the capability the engine runs against: a connection
// pool plus query executor for one backend, honoring its Dialect.
// Implementations must be safe for concurrent use by up to the run's
// thread count; SingleConnection backends serialize internally.
type Database interface {
	schema.ExecQuerier

	// Dialect returns the rendering dialect of the backend.
	Dialect() Dialect

	// DescribeTable resolves the table description from the backend
	// catalog. Column names are preserved exactly; case folding is
	// the dialect's concern.
	DescribeTable(ctx context.Context, schemaName, name string) (*schema.Table, error)

	// RefineColumnTypes may issue follow-up queries to pin down
	// descriptors the catalog reports vaguely (e.g. timestamp
	// precision or decimal scale). Columns not listed are left as is.
	RefineColumnTypes(ctx context.Context, t *schema.Table, columns []string) error

	// URL reports the redacted connection identity of the backend.
	// Used only for logs and for same-database detection fallbacks.
	URL() string

	// Close shuts the pool down. Idempotent.
	Close() error
}
