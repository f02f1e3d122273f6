// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package postgres implements the comparison dialect and catalog
// inspection for PostgreSQL and CockroachDB.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/tablediff/tablediff/sql/schema"
)

// Driver represents a PostgreSQL driver for inspecting table
// descriptions and rendering comparison SQL.
type Driver struct {
	schema.ExecQuerier
	// System variables that are set on `Open`.
	version string
	crdb    bool
}

// Open opens a new PostgreSQL driver.
func Open(db schema.ExecQuerier) (*Driver, error) {
	drv := &Driver{ExecQuerier: db}
	rows, err := db.QueryContext(context.Background(), paramsQuery)
	if err != nil {
		return nil, fmt.Errorf("postgres: querying system parameters: %w", err)
	}
	defer rows.Close()
	var params []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("postgres: scanning system parameters: %w", err)
		}
		params = append(params, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(params) {
	case 1:
		drv.version = formatVersion(params[0])
	case 2:
		// A crdb_version row marks a CockroachDB server.
		drv.version, drv.crdb = formatVersion(params[0]), true
	default:
		return nil, fmt.Errorf("postgres: unexpected number of rows: %d", len(params))
	}
	return drv, nil
}

// Version returns the server version in dotted form.
func (d *Driver) Version() string { return d.version }

// formatVersion converts server_version_num (e.g. "140005") to a
// dotted form.
func formatVersion(v string) string {
	if len(v) != 6 {
		return v
	}
	return fmt.Sprintf("%s.%s.%s", strings.TrimLeft(v[:2], "0"), v[2:4], v[4:])
}

// DescribeTable resolves the table description from the catalog, or a
// schema.NotExistError if the table was not found.
func (d *Driver) DescribeTable(ctx context.Context, schemaName, name string) (*schema.Table, error) {
	query, args := columnsQuery, []any{schemaName, name}
	if schemaName == "" {
		query, args = columnsNoSchemaQuery, []any{name}
	}
	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: querying %q columns: %w", name, err)
	}
	t := &schema.Table{Schema: schemaName, Name: name}
	if err := func() error {
		defer rows.Close()
		for rows.Next() {
			if err := d.addColumn(t, rows); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
		}
		return rows.Err()
	}(); err != nil {
		return nil, err
	}
	if len(t.Columns) == 0 {
		return nil, &schema.NotExistError{
			Err: fmt.Errorf("postgres: table %q was not found", name),
		}
	}
	if err := d.primaryKey(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// addColumn scans the current row and adds a new column from it to the table.
func (d *Driver) addColumn(t *schema.Table, rows *sql.Rows) error {
	var name, typ, nullable, fsp, scale, collation sql.NullString
	if err := rows.Scan(&name, &typ, &nullable, &fsp, &scale, &collation); err != nil {
		return err
	}
	c := &schema.Column{
		Name: name.String,
		Type: &schema.ColumnType{
			Raw:  typ.String,
			Type: d.ParseType(typ.String),
			Null: nullable.String == "YES",
		},
	}
	switch ct := c.Type.Type.(type) {
	case *schema.TimeType:
		if !ct.DateOnly && fsp.Valid {
			ct.Precision, _ = strconv.Atoi(fsp.String)
		}
	case *schema.DecimalType:
		if ct.Scale == 0 && scale.Valid {
			ct.Scale, _ = strconv.Atoi(scale.String)
		}
	case *schema.StringType:
		if collation.Valid {
			ct.Collation = collation.String
		}
	}
	t.Columns = append(t.Columns, c)
	return nil
}

// primaryKey queries and fills the primary-key columns of the table,
// in key order.
func (d *Driver) primaryKey(ctx context.Context, t *schema.Table) error {
	schemaName := t.Schema
	if schemaName == "" {
		row := d.QueryRowContext(ctx, "SELECT CURRENT_SCHEMA()")
		var s sql.NullString
		if err := row.Scan(&s); err != nil {
			return fmt.Errorf("postgres: scanning current schema: %w", err)
		}
		schemaName = s.String
	}
	rows, err := d.QueryContext(ctx, pkQuery, schemaName, t.Name)
	if err != nil {
		return fmt.Errorf("postgres: querying %q primary key: %w", t.Name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("postgres: scanning primary key: %w", err)
		}
		if c, ok := t.Column(name); ok {
			t.PrimaryKey = append(t.PrimaryKey, c)
		}
	}
	return rows.Err()
}

// RefineColumnTypes is a no-op on PostgreSQL. The catalog reports
// scale and fractional-second precision exactly.
func (d *Driver) RefineColumnTypes(context.Context, *schema.Table, []string) error {
	return nil
}

const (
	// Query to list runtime parameters. The crdb_version row, when
	// present, marks a CockroachDB server.
	paramsQuery = `SELECT setting FROM pg_settings WHERE name IN ('server_version_num', 'crdb_version') ORDER BY name DESC`

	// Queries to list table columns.
	columnsQuery = `
SELECT
	t1.column_name,
	pg_catalog.format_type(a.atttypid, a.atttypmod) AS format_type,
	t1.is_nullable,
	t1.datetime_precision,
	t1.numeric_scale,
	t1.collation_name
FROM
	"information_schema"."columns" AS t1
	JOIN pg_catalog.pg_namespace AS t2 ON t2.nspname = t1.table_schema
	JOIN pg_catalog.pg_class AS t3 ON t3.relnamespace = t2.oid AND t3.relname = t1.table_name
	JOIN pg_catalog.pg_attribute AS a ON a.attrelid = t3.oid AND a.attname = t1.column_name
WHERE
	t1.table_schema = $1 AND t1.table_name = $2
ORDER BY
	t1.ordinal_position
`
	columnsNoSchemaQuery = `
SELECT
	t1.column_name,
	pg_catalog.format_type(a.atttypid, a.atttypmod) AS format_type,
	t1.is_nullable,
	t1.datetime_precision,
	t1.numeric_scale,
	t1.collation_name
FROM
	"information_schema"."columns" AS t1
	JOIN pg_catalog.pg_namespace AS t2 ON t2.nspname = t1.table_schema
	JOIN pg_catalog.pg_class AS t3 ON t3.relnamespace = t2.oid AND t3.relname = t1.table_name
	JOIN pg_catalog.pg_attribute AS a ON a.attrelid = t3.oid AND a.attname = t1.column_name
WHERE
	t1.table_schema = CURRENT_SCHEMA() AND t1.table_name = $1
ORDER BY
	t1.ordinal_position
`
	// Query to list primary-key columns in key order.
	pkQuery = `
SELECT
	k.column_name
FROM
	"information_schema"."table_constraints" AS t
	JOIN "information_schema"."key_column_usage" AS k
	ON k.constraint_name = t.constraint_name AND k.table_schema = t.table_schema
WHERE
	t.constraint_type = 'PRIMARY KEY' AND t.table_schema = $1 AND t.table_name = $2
ORDER BY
	k.ordinal_position
`
)
