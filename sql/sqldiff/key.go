// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqldiff

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tablediff/tablediff/sql/internal/sqlx"
	"github.com/tablediff/tablediff/sql/schema"
)

type (
	// A KeyValue is one component of a composite key, drawn from a
	// totally ordered domain. String returns the canonical form the
	// backends render the value to.
	KeyValue interface {
		fmt.Stringer
	}

	// A KeyDomain defines the interval arithmetic of one key-column
	// type: parsing, ordering, literal rendering and the checkpoint
	// mesh HashDiff bisects on.
	KeyDomain interface {
		Name() string
		// Parse converts a backend-normalized string to a value.
		Parse(s string) (KeyValue, error)
		Compare(a, b KeyValue) int
		// Checkpoints returns up to n-1 strictly interior points of
		// [lo, hi), ascending and evenly spaced. A degenerate range
		// yields fewer points, possibly none.
		Checkpoints(lo, hi KeyValue, n int) []KeyValue
		// Literal renders the value as a backend literal.
		Literal(d Dialect, v KeyValue) sqlx.Expr
		// Span reports the number of distinct values in [lo, hi)
		// when the domain can tell cheaply.
		Span(lo, hi KeyValue) (int64, bool)
		// Next returns the smallest value strictly greater than v,
		// used to turn an inclusive catalog max into an exclusive
		// upper bound.
		Next(v KeyValue) KeyValue
	}

	// A Key is an ordered tuple of key-component values.
	Key []KeyValue

	// A KeySpace pairs the ordered key-column domains of a run and
	// compares composite keys lexicographically.
	KeySpace struct {
		Domains []KeyDomain
	}
)

// String renders the key tuple for logs and sinks.
func (k Key) String() string {
	parts := make([]string, len(k))
	for i, v := range k {
		parts[i] = v.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Values returns the canonical string form of each component.
func (k Key) Values() []string {
	vs := make([]string, len(k))
	for i, v := range k {
		vs[i] = v.String()
	}
	return vs
}

// Compare orders two keys lexicographically component-wise.
func (s *KeySpace) Compare(a, b Key) int {
	for i, d := range s.Domains {
		if c := d.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

// Parse converts a tuple of backend-normalized strings into a key.
func (s *KeySpace) Parse(vs []string) (Key, error) {
	if len(vs) != len(s.Domains) {
		return nil, fmt.Errorf("sqldiff: key arity mismatch: %d != %d", len(vs), len(s.Domains))
	}
	k := make(Key, len(vs))
	for i, v := range vs {
		kv, err := s.Domains[i].Parse(v)
		if err != nil {
			return nil, fmt.Errorf("sqldiff: parse key component %d: %w", i, err)
		}
		k[i] = kv
	}
	return k, nil
}

// DomainFor maps a semantic column class to its key domain. Columns
// outside the totally ordered domains cannot serve as key columns.
func DomainFor(t schema.Type, d Dialect) (KeyDomain, error) {
	switch t := t.(type) {
	case *schema.IntegerType:
		return intDomain{}, nil
	case *schema.DecimalType:
		return decimalDomain{scale: int32(t.Scale)}, nil
	case *schema.UUIDType:
		return uuidDomain{}, nil
	case *schema.StringType:
		if !d.SupportsAlphanumericKeys() {
			return nil, errValidationf("backend %q does not support alphanumeric key columns", d.Name())
		}
		return textDomain{}, nil
	default:
		return nil, errValidationf("type %T cannot be used as a key column", t)
	}
}

// intDomain is the arithmetic over signed 64-bit integer keys.
type intDomain struct{}

type intValue int64

func (v intValue) String() string { return fmt.Sprintf("%d", int64(v)) }

func (intDomain) Name() string { return "integer" }

func (intDomain) Parse(s string) (KeyValue, error) {
	var n int64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return nil, fmt.Errorf("parse integer %q: %w", s, err)
	}
	return intValue(n), nil
}

func (intDomain) Compare(a, b KeyValue) int {
	x, y := a.(intValue), b.(intValue)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func (intDomain) Checkpoints(lo, hi KeyValue, n int) []KeyValue {
	l, h := int64(lo.(intValue)), int64(hi.(intValue))
	if h <= l || n < 2 {
		return nil
	}
	span := h - l
	if span < int64(n) {
		n = int(span)
		if n < 2 {
			return nil
		}
	}
	step := span / int64(n)
	if step == 0 {
		return nil
	}
	points := make([]KeyValue, 0, n-1)
	for p := l + step; p < h && len(points) < n-1; p += step {
		points = append(points, intValue(p))
	}
	return points
}

func (intDomain) Literal(_ Dialect, v KeyValue) sqlx.Expr {
	return &sqlx.Literal{V: v.String()}
}

func (intDomain) Span(lo, hi KeyValue) (int64, bool) {
	l, h := int64(lo.(intValue)), int64(hi.(intValue))
	if h < l {
		return 0, true
	}
	return h - l, true
}

func (intDomain) Next(v KeyValue) KeyValue { return v.(intValue) + 1 }

// decimalDomain is the arithmetic over fixed-scale decimal keys.
type decimalDomain struct {
	scale int32
}

type decimalValue struct {
	d decimal.Decimal
	s int32
}

func (v decimalValue) String() string { return v.d.StringFixed(v.s) }

func (d decimalDomain) Name() string { return "decimal" }

func (d decimalDomain) Parse(s string) (KeyValue, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return decimalValue{d: v, s: d.scale}, nil
}

func (decimalDomain) Compare(a, b KeyValue) int {
	return a.(decimalValue).d.Cmp(b.(decimalValue).d)
}

func (d decimalDomain) Checkpoints(lo, hi KeyValue, n int) []KeyValue {
	l, h := lo.(decimalValue).d, hi.(decimalValue).d
	if h.Cmp(l) <= 0 || n < 2 {
		return nil
	}
	// The smallest representable step at the key scale bounds the
	// number of distinct checkpoints a degenerate range can hold.
	unit := decimal.New(1, -d.scale)
	span := h.Sub(l)
	if span.Cmp(unit.Mul(decimal.NewFromInt(int64(n)))) < 0 {
		n = int(span.Div(unit).IntPart())
		if n < 2 {
			return nil
		}
	}
	step := span.Div(decimal.NewFromInt(int64(n))).RoundDown(d.scale)
	if step.IsZero() {
		return nil
	}
	points := make([]KeyValue, 0, n-1)
	for p := l.Add(step); p.Cmp(h) < 0 && len(points) < n-1; p = p.Add(step) {
		points = append(points, decimalValue{d: p, s: d.scale})
	}
	return points
}

func (d decimalDomain) Literal(_ Dialect, v KeyValue) sqlx.Expr {
	return &sqlx.Literal{V: v.String()}
}

func (d decimalDomain) Span(lo, hi KeyValue) (int64, bool) {
	unit := decimal.New(1, -d.scale)
	span := hi.(decimalValue).d.Sub(lo.(decimalValue).d).Div(unit)
	if span.Sign() < 0 {
		return 0, true
	}
	if !span.BigInt().IsInt64() {
		return 0, false
	}
	return span.IntPart(), true
}

func (d decimalDomain) Next(v KeyValue) KeyValue {
	return decimalValue{d: v.(decimalValue).d.Add(decimal.New(1, -d.scale)), s: d.scale}
}

// uuidDomain treats UUID keys as unsigned 128-bit integers.
type uuidDomain struct{}

type uuidValue struct {
	n *big.Int
}

func (v uuidValue) String() string {
	var b [16]byte
	v.n.FillBytes(b[:])
	u, _ := uuid.FromBytes(b[:])
	return u.String()
}

func (uuidDomain) Name() string { return "uuid" }

func (uuidDomain) Parse(s string) (KeyValue, error) {
	u, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse uuid %q: %w", s, err)
	}
	return uuidValue{n: new(big.Int).SetBytes(u[:])}, nil
}

func (uuidDomain) Compare(a, b KeyValue) int {
	return a.(uuidValue).n.Cmp(b.(uuidValue).n)
}

func (uuidDomain) Checkpoints(lo, hi KeyValue, n int) []KeyValue {
	return bigCheckpoints(lo.(uuidValue).n, hi.(uuidValue).n, n, func(p *big.Int) KeyValue {
		return uuidValue{n: p}
	})
}

func (uuidDomain) Literal(d Dialect, v KeyValue) sqlx.Expr {
	return &sqlx.Literal{V: d.QuoteLiteral(v.String())}
}

func (uuidDomain) Span(lo, hi KeyValue) (int64, bool) {
	span := new(big.Int).Sub(hi.(uuidValue).n, lo.(uuidValue).n)
	if span.Sign() < 0 {
		return 0, true
	}
	if !span.IsInt64() {
		return 0, false
	}
	return span.Int64(), true
}

func (uuidDomain) Next(v KeyValue) KeyValue {
	return uuidValue{n: new(big.Int).Add(v.(uuidValue).n, big.NewInt(1))}
}

// textDomain treats fixed-width strings over a printable alphabet as
// base-N integers, padding shorter strings on the right.
type textDomain struct{}

type textValue struct {
	s string
}

// textAlphabet orders the characters alphanumeric keys may contain.
// Index 0 is reserved for the implicit end-of-string padding so that
// "ab" sorts before "ab0".
const textAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

func (v textValue) String() string { return v.s }

func (textDomain) Name() string { return "text" }

func (textDomain) Parse(s string) (KeyValue, error) {
	for _, r := range s {
		if !strings.ContainsRune(textAlphabet, r) {
			return nil, fmt.Errorf("alphanumeric key contains unsupported character %q", r)
		}
	}
	return textValue{s: s}, nil
}

func (textDomain) Compare(a, b KeyValue) int {
	return strings.Compare(a.(textValue).s, b.(textValue).s)
}

const textWidth = 16 // positional digits carried by the integer form

func textToBig(s string) *big.Int {
	base := big.NewInt(int64(len(textAlphabet) + 1))
	n := new(big.Int)
	for i := 0; i < textWidth; i++ {
		n.Mul(n, base)
		if i < len(s) {
			n.Add(n, big.NewInt(int64(strings.IndexByte(textAlphabet, s[i])+1)))
		}
	}
	return n
}

func bigToText(n *big.Int) string {
	base := big.NewInt(int64(len(textAlphabet) + 1))
	digits := make([]byte, 0, textWidth)
	m, r := new(big.Int).Set(n), new(big.Int)
	for i := 0; i < textWidth; i++ {
		m.QuoRem(m, base, r)
		digits = append(digits, byte(r.Int64()))
	}
	var b strings.Builder
	for i := len(digits) - 1; i >= 0; i-- {
		if digits[i] == 0 {
			break
		}
		b.WriteByte(textAlphabet[digits[i]-1])
	}
	return b.String()
}

func (textDomain) Checkpoints(lo, hi KeyValue, n int) []KeyValue {
	l, h := textToBig(lo.(textValue).s), textToBig(hi.(textValue).s)
	return bigCheckpoints(l, h, n, func(p *big.Int) KeyValue {
		return textValue{s: bigToText(p)}
	})
}

func (textDomain) Literal(d Dialect, v KeyValue) sqlx.Expr {
	return &sqlx.Literal{V: d.QuoteLiteral(v.(textValue).s)}
}

func (textDomain) Span(lo, hi KeyValue) (int64, bool) {
	span := new(big.Int).Sub(textToBig(hi.(textValue).s), textToBig(lo.(textValue).s))
	if span.Sign() < 0 {
		return 0, true
	}
	if !span.IsInt64() {
		return 0, false
	}
	return span.Int64(), true
}

func (textDomain) Next(v KeyValue) KeyValue {
	return textValue{s: bigToText(new(big.Int).Add(textToBig(v.(textValue).s), big.NewInt(1)))}
}

// bigCheckpoints spaces up to n-1 interior points over [lo, hi) in
// arbitrary-precision integer space.
func bigCheckpoints(lo, hi *big.Int, n int, wrap func(*big.Int) KeyValue) []KeyValue {
	if hi.Cmp(lo) <= 0 || n < 2 {
		return nil
	}
	span := new(big.Int).Sub(hi, lo)
	if span.Cmp(big.NewInt(int64(n))) < 0 {
		n = int(span.Int64())
		if n < 2 {
			return nil
		}
	}
	step := new(big.Int).Div(span, big.NewInt(int64(n)))
	if step.Sign() == 0 {
		return nil
	}
	points := make([]KeyValue, 0, n-1)
	for p := new(big.Int).Add(lo, step); p.Cmp(hi) < 0 && len(points) < n-1; p = new(big.Int).Add(p, step) {
		points = append(points, wrap(new(big.Int).Set(p)))
	}
	return points
}
