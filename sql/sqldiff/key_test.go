// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqldiff

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tablediff/tablediff/sql/schema"
)

func TestIntDomain(t *testing.T) {
	d := intDomain{}
	v, err := d.Parse("42")
	require.NoError(t, err)
	require.Equal(t, "42", v.String())
	_, err = d.Parse("x")
	require.Error(t, err)

	lo, _ := d.Parse("0")
	hi, _ := d.Parse("1000")
	require.Equal(t, -1, d.Compare(lo, hi))
	require.Equal(t, 1, d.Compare(hi, lo))
	require.Equal(t, 0, d.Compare(lo, lo))

	points := d.Checkpoints(lo, hi, 4)
	require.Equal(t, []KeyValue{intValue(250), intValue(500), intValue(750)}, points)

	// Degenerate ranges collapse to fewer or no checkpoints.
	require.Nil(t, d.Checkpoints(lo, lo, 4))
	one, _ := d.Parse("1")
	require.Nil(t, d.Checkpoints(lo, one, 4))

	span, ok := d.Span(lo, hi)
	require.True(t, ok)
	require.Equal(t, int64(1000), span)
	require.Equal(t, intValue(1001), d.Next(hi))
}

func TestDecimalDomain(t *testing.T) {
	d := decimalDomain{scale: 2}
	v, err := d.Parse("10.50")
	require.NoError(t, err)
	require.Equal(t, "10.50", v.String())

	lo, _ := d.Parse("0.00")
	hi, _ := d.Parse("1.00")
	require.Equal(t, -1, d.Compare(lo, hi))

	points := d.Checkpoints(lo, hi, 4)
	require.Len(t, points, 3)
	require.Equal(t, "0.25", points[0].String())
	require.Equal(t, "0.75", points[2].String())

	span, ok := d.Span(lo, hi)
	require.True(t, ok)
	require.Equal(t, int64(100), span)
	require.Equal(t, "1.01", d.Next(hi).String())
}

func TestUUIDDomain(t *testing.T) {
	d := uuidDomain{}
	v, err := d.Parse("550e8400-e29b-41d4-a716-446655440000")
	require.NoError(t, err)
	require.Equal(t, "550e8400-e29b-41d4-a716-446655440000", v.String())
	_, err = d.Parse("not-a-uuid")
	require.Error(t, err)

	lo, _ := d.Parse("00000000-0000-0000-0000-000000000000")
	hi, _ := d.Parse("00000000-0000-0000-0000-000000000400")
	require.Equal(t, -1, d.Compare(lo, hi))

	points := d.Checkpoints(lo, hi, 4)
	require.Len(t, points, 3)
	for i := 1; i < len(points); i++ {
		require.Equal(t, -1, d.Compare(points[i-1], points[i]))
	}
	require.Equal(t, "00000000-0000-0000-0000-000000000401", d.Next(hi).String())
}

func TestTextDomain(t *testing.T) {
	d := textDomain{}
	v, err := d.Parse("user_01")
	require.NoError(t, err)
	require.Equal(t, "user_01", v.String())
	_, err = d.Parse("has space")
	require.Error(t, err)
	_, err = d.Parse("héllo")
	require.Error(t, err)

	lo, _ := d.Parse("a")
	hi, _ := d.Parse("z")
	require.Equal(t, -1, d.Compare(lo, hi))

	points := d.Checkpoints(lo, hi, 8)
	require.Len(t, points, 7)
	prev := lo
	for _, p := range points {
		require.Equal(t, -1, d.Compare(prev, p), "checkpoints must ascend")
		require.Equal(t, -1, d.Compare(p, hi))
		prev = p
	}
}

func TestTextRoundTrip(t *testing.T) {
	for _, s := range []string{"", "a", "user_01", "ZZ_9", "abcdefgh"} {
		require.Equal(t, s, bigToText(textToBig(s)), s)
	}
	// The integer form preserves lexicographic order, including the
	// prefix case where one key extends the other.
	require.Equal(t, -1, textToBig("ab").Cmp(textToBig("ab0")))
	require.Equal(t, -1, textToBig("ab0").Cmp(textToBig("b")))
}

func TestKeySpace(t *testing.T) {
	s := &KeySpace{Domains: []KeyDomain{intDomain{}, textDomain{}}}
	k1, err := s.Parse([]string{"1", "a"})
	require.NoError(t, err)
	k2, err := s.Parse([]string{"1", "b"})
	require.NoError(t, err)
	k3, err := s.Parse([]string{"2", "a"})
	require.NoError(t, err)

	require.Equal(t, -1, s.Compare(k1, k2))
	require.Equal(t, -1, s.Compare(k2, k3))
	require.Equal(t, 0, s.Compare(k1, k1))
	require.Equal(t, "(1, a)", k1.String())
	require.Equal(t, []string{"1", "a"}, k1.Values())

	_, err = s.Parse([]string{"1"})
	require.Error(t, err)
}

func TestDomainFor(t *testing.T) {
	d := &testDialect{}
	dom, err := DomainFor(&schema.IntegerType{T: "bigint"}, d)
	require.NoError(t, err)
	require.Equal(t, "integer", dom.Name())

	dom, err = DomainFor(&schema.DecimalType{T: "numeric", Scale: 2}, d)
	require.NoError(t, err)
	require.Equal(t, "decimal", dom.Name())

	dom, err = DomainFor(&schema.UUIDType{T: "uuid"}, d)
	require.NoError(t, err)
	require.Equal(t, "uuid", dom.Name())

	dom, err = DomainFor(&schema.StringType{T: "text"}, d)
	require.NoError(t, err)
	require.Equal(t, "text", dom.Name())

	_, err = DomainFor(&schema.FloatType{T: "real"}, d)
	require.True(t, IsValidationError(err))

	_, err = DomainFor(&schema.StringType{T: "text"}, &testDialect{noTextKeys: true})
	require.True(t, IsValidationError(err))
}
