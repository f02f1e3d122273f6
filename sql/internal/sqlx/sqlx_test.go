// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqlx

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

// quoter doubles as the minimal dialect for render tests.
type quoter struct{}

func (quoter) QuoteIdent(s string) string { return `"` + s + `"` }

func TestRender(t *testing.T) {
	q := quoter{}
	tests := []struct {
		x        Expr
		expected string
	}{
		{&Ident{Name: "id"}, `"id"`},
		{&Qualified{Parts: []string{"public", "users"}}, `"public"."users"`},
		{&Qualified{Parts: []string{"", "users"}}, `"users"`},
		{&Literal{V: "1"}, `1`},
		{&Raw{X: "COUNT(*)"}, `COUNT(*)`},
		{F("MIN", &Ident{Name: "id"}), `MIN("id")`},
		{Infix(&Ident{Name: "a"}, "<", &Literal{V: "5"}), `("a" < 5)`},
		{&Tuple{Exprs: []Expr{&Ident{Name: "a"}, &Ident{Name: "b"}}}, `("a", "b")`},
		{&Cast{X: &Ident{Name: "a"}, As: "text"}, `CAST("a" AS text)`},
		{And(), ""},
		{And(&Raw{X: "a"}), `a`},
		{And(&Raw{X: "a"}, &Raw{X: "b"}, &Raw{X: "c"}), `((a AND b) AND c)`},
		{And(nil, &Raw{X: "a"}, nil), `a`},
	}
	for _, tt := range tests {
		if tt.x == nil {
			continue
		}
		require.Equal(t, tt.expected, Render(tt.x, q))
	}
	require.Nil(t, And())
	require.Nil(t, And(nil, nil))
}

func TestSelect_SQL(t *testing.T) {
	q := quoter{}
	s := &Select{
		Columns: []Expr{F("COUNT", &Raw{X: "*"}), F("SUM", &Ident{Name: "v"})},
		From:    &Qualified{Parts: []string{"public", "users"}},
		Where: []Expr{
			Infix(&Literal{V: "10"}, "<=", &Ident{Name: "id"}),
			Infix(&Ident{Name: "id"}, "<", &Literal{V: "20"}),
		},
	}
	require.Equal(
		t,
		`SELECT COUNT(*), SUM("v") FROM "public"."users" WHERE ((10 <= "id") AND ("id" < 20))`,
		s.SQL(q),
	)

	s = &Select{
		Columns: []Expr{&Ident{Name: "id"}},
		From:    &Qualified{Parts: []string{"users"}},
		Sample:  "TABLESAMPLE SYSTEM (10)",
		OrderBy: []Expr{&Ident{Name: "id"}},
		Limit:   5,
	}
	require.Equal(
		t,
		`SELECT "id" FROM "users" TABLESAMPLE SYSTEM (10) ORDER BY "id" LIMIT 5`,
		s.SQL(q),
	)
}

func TestScanStrings(t *testing.T) {
	db, m, err := sqlmock.New()
	require.NoError(t, err)
	m.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"a", "b"}).
			AddRow("1", nil).
			AddRow("2", "x"),
	)
	rows, err := db.QueryContext(context.Background(), "SELECT a, b FROM t")
	require.NoError(t, err)
	out, err := ScanStrings(rows)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "1", out[0][0].String)
	require.False(t, out[0][1].Valid)
	require.Equal(t, "x", out[1][1].String)
}

func TestQueryOneRow(t *testing.T) {
	db, m, err := sqlmock.New()
	require.NoError(t, err)
	m.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow("7"))
	row, err := QueryOneRow(context.Background(), db, "SELECT COUNT(*) FROM t")
	require.NoError(t, err)
	require.Equal(t, "7", row[0].String)

	m.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow("1").AddRow("2"))
	_, err = QueryOneRow(context.Background(), db, "SELECT n FROM t")
	require.Error(t, err)
}
