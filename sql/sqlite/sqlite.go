// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package sqlite implements the comparison dialect and catalog
// inspection for SQLite. The md5 functions the engine depends on are
// registered as connect-hook UDFs on the bundled driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/tablediff/tablediff/sql/internal/sqlx"
	"github.com/tablediff/tablediff/sql/schema"
)

// Driver represents a SQLite driver for inspecting table descriptions
// and rendering comparison SQL.
type Driver struct {
	schema.ExecQuerier
	// System variables that are set on `Open`.
	version string
}

// Open opens a new SQLite driver.
func Open(db schema.ExecQuerier) (*Driver, error) {
	drv := &Driver{ExecQuerier: db}
	if err := db.QueryRowContext(context.Background(), "SELECT sqlite_version()").Scan(&drv.version); err != nil {
		return nil, fmt.Errorf("sqlite: scanning database version: %w", err)
	}
	return drv, nil
}

// Version returns the library version reported by the database.
func (d *Driver) Version() string { return d.version }

// DescribeTable resolves the table description from the catalog, or a
// schema.NotExistError if the table was not found.
func (d *Driver) DescribeTable(ctx context.Context, schemaName, name string) (*schema.Table, error) {
	if schemaName == "" {
		schemaName = "main"
	}
	rows, err := d.QueryContext(ctx, columnsQuery, name, schemaName)
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying %q columns: %w", name, err)
	}
	defer rows.Close()
	t := &schema.Table{Schema: schemaName, Name: name}
	type pkCol struct {
		c   *schema.Column
		pos int
	}
	var pk []pkCol
	for rows.Next() {
		var (
			cname, typ       string
			notNull, keyPart int
		)
		if err := rows.Scan(&cname, &typ, &notNull, &keyPart); err != nil {
			return nil, fmt.Errorf("sqlite: scanning %q columns: %w", name, err)
		}
		c := &schema.Column{
			Name: cname,
			Type: &schema.ColumnType{
				Raw:  typ,
				Type: d.ParseType(typ),
				Null: notNull == 0,
			},
		}
		t.Columns = append(t.Columns, c)
		if keyPart > 0 {
			pk = append(pk, pkCol{c: c, pos: keyPart})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(t.Columns) == 0 {
		return nil, &schema.NotExistError{
			Err: fmt.Errorf("sqlite: table %q was not found", name),
		}
	}
	sort.Slice(pk, func(i, j int) bool { return pk[i].pos < pk[j].pos })
	for _, p := range pk {
		t.PrimaryKey = append(t.PrimaryKey, p.c)
	}
	return t, nil
}

// RefineColumnTypes probes stored values of datetime columns to pin
// down their fractional-second width, which the declared type does
// not carry.
func (d *Driver) RefineColumnTypes(ctx context.Context, t *schema.Table, columns []string) error {
	for _, name := range columns {
		c, ok := t.Column(name)
		if !ok {
			continue
		}
		tt, ok := c.Type.Type.(*schema.TimeType)
		if !ok || tt.DateOnly {
			continue
		}
		from := sqlx.Render(&sqlx.Qualified{Parts: []string{t.Schema, t.Name}}, d)
		col := d.QuoteIdent(name)
		// The cast keeps the driver from mapping a declared datetime
		// column to time.Time, which would reformat the stored text.
		var v sql.NullString
		err := d.QueryRowContext(ctx,
			fmt.Sprintf("SELECT CAST(%s AS TEXT) FROM %s WHERE %s IS NOT NULL LIMIT 1", col, from, col),
		).Scan(&v)
		switch {
		case err == sql.ErrNoRows:
			continue
		case err != nil:
			return fmt.Errorf("sqlite: probing %q precision: %w", name, err)
		}
		if i := strings.LastIndexByte(v.String, '.'); i != -1 {
			tt.Precision = len(v.String) - i - 1
		} else {
			tt.Precision = 0
		}
	}
	return nil
}

// Query to list table columns in ordinal order.
const columnsQuery = `SELECT "name", "type", "notnull", "pk" FROM pragma_table_info(?, ?) ORDER BY "cid"`
