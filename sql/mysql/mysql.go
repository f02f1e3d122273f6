// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package mysql implements the comparison dialect and catalog
// inspection for MySQL, MariaDB and TiDB.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/tablediff/tablediff/sql/schema"
)

// Driver represents a MySQL driver for inspecting table descriptions
// and rendering comparison SQL.
type Driver struct {
	schema.ExecQuerier
	// System variables that are set on `Open`.
	version string
	collate string
	charset string
}

// Open opens a new MySQL driver.
func Open(db schema.ExecQuerier) (*Driver, error) {
	drv := &Driver{ExecQuerier: db}
	rows, err := db.QueryContext(context.Background(), variablesQuery)
	if err != nil {
		return nil, fmt.Errorf("mysql: querying system variables: %w", err)
	}
	vars, err := scanVariables(rows)
	if err != nil {
		return nil, fmt.Errorf("mysql: scanning system variables: %w", err)
	}
	drv.version, drv.collate, drv.charset = vars[0], vars[1], vars[2]
	return drv, nil
}

// Version returns the raw version string reported by the server.
func (d *Driver) Version() string { return d.version }

// compareVersion is the server version in semver comparable form.
// TiDB reports versions like "5.7.25-TiDB-v4.0.0"; the suffix after
// the first dash is not part of the MySQL compatibility level.
func (d *Driver) compareVersion() string {
	v := d.version
	if i := strings.IndexByte(v, '-'); i > 0 {
		v = v[:i]
	}
	return "v" + v
}

// supportsFSP reports fractional-second precision support. Servers
// before 5.6.4 store DATETIME and TIMESTAMP at whole seconds and the
// DATETIME_PRECISION catalog column is absent.
func (d *Driver) supportsFSP() bool {
	return semver.Compare(d.compareVersion(), "v5.6.4") != -1
}

// tidb reports whether the server is a TiDB instance.
func (d *Driver) tidb() bool {
	return strings.Contains(d.version, "TiDB")
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
		return nil, fmt.Errorf("mysql: querying %q columns: %w", name, err)
	}
	defer rows.Close()
	t := &schema.Table{Schema: schemaName, Name: name}
	for rows.Next() {
		if err := d.addColumn(t, rows); err != nil {
			return nil, fmt.Errorf("mysql: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(t.Columns) == 0 {
		return nil, &schema.NotExistError{
			Err: fmt.Errorf("mysql: table %q was not found", name),
		}
	}
	return t, nil
}

// addColumn scans the current row and adds a new column from it to the table.
func (d *Driver) addColumn(t *schema.Table, rows *sql.Rows) error {
	var name, typ, nullable, key, collation, fsp, scale sql.NullString
	if err := rows.Scan(&name, &typ, &nullable, &key, &collation, &fsp, &scale); err != nil {
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
	case *schema.StringType:
		if validString(collation) {
			ct.Collation = collation.String
			ct.CaseSensitive = caseSensitive(collation.String)
		}
	case *schema.TimeType:
		if d.supportsFSP() && validString(fsp) {
			ct.Precision = atoi(fsp.String)
		}
	case *schema.DecimalType:
		if ct.Scale == 0 && validString(scale) {
			ct.Scale = atoi(scale.String)
		}
	}
	t.Columns = append(t.Columns, c)
	if key.String == "PRI" {
		t.PrimaryKey = append(t.PrimaryKey, c)
	}
	return nil
}

// RefineColumnTypes is a no-op on MySQL. The information_schema
// catalog reports scale and fractional-second precision exactly.
func (d *Driver) RefineColumnTypes(context.Context, *schema.Table, []string) error {
	return nil
}

// caseSensitive reports whether the collation distinguishes letter
// case. MySQL encodes it in the collation name suffix.
func caseSensitive(collation string) bool {
	return strings.HasSuffix(collation, "_bin") || strings.HasSuffix(collation, "_cs")
}

// scanVariables scans the three system variables in name order.
func scanVariables(rows *sql.Rows) ([3]string, error) {
	var vars [3]string
	defer rows.Close()
	for i := 0; rows.Next(); i++ {
		var name, v sql.NullString
		if err := rows.Scan(&name, &v); err != nil {
			return vars, err
		}
		switch name.String {
		case "version":
			vars[0] = v.String
		case "collation_server":
			vars[1] = v.String
		case "character_set_server":
			vars[2] = v.String
		}
	}
	if err := rows.Err(); err != nil {
		return vars, err
	}
	if vars[0] == "" {
		return vars, fmt.Errorf("missing server version")
	}
	return vars, nil
}

// validString reports if the given string is valid and not nullable.
func validString(s sql.NullString) bool {
	return s.Valid && s.String != "" && strings.ToLower(s.String) != "null"
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

const (
	// Query to fetch the server version and defaults.
	variablesQuery = "SHOW VARIABLES WHERE `Variable_name` IN ('version', 'collation_server', 'character_set_server')"

	// Queries to list table columns.
	columnsQuery         = "SELECT `COLUMN_NAME`, `COLUMN_TYPE`, `IS_NULLABLE`, `COLUMN_KEY`, `COLLATION_NAME`, `DATETIME_PRECISION`, `NUMERIC_SCALE` FROM `INFORMATION_SCHEMA`.`COLUMNS` WHERE `TABLE_SCHEMA` = ? AND `TABLE_NAME` = ? ORDER BY `ORDINAL_POSITION`"
	columnsNoSchemaQuery = "SELECT `COLUMN_NAME`, `COLUMN_TYPE`, `IS_NULLABLE`, `COLUMN_KEY`, `COLLATION_NAME`, `DATETIME_PRECISION`, `NUMERIC_SCALE` FROM `INFORMATION_SCHEMA`.`COLUMNS` WHERE `TABLE_SCHEMA` = (SELECT DATABASE()) AND `TABLE_NAME` = ? ORDER BY `ORDINAL_POSITION`"
)

// MySQL standard column types as defined in its codebase.
//
// https://github.com/mysql/mysql-server/blob/8.0/include/field_types.h
const (
	tBit       = "bit"
	tInt       = "int"
	tTinyInt   = "tinyint"
	tSmallInt  = "smallint"
	tMediumInt = "mediumint"
	tBigInt    = "bigint"

	tDecimal = "decimal"
	tNumeric = "numeric"
	tFloat   = "float"
	tDouble  = "double"
	tReal    = "real"

	tTimestamp = "timestamp"
	tDate      = "date"
	tTime      = "time"
	tDateTime  = "datetime"
	tYear      = "year"

	tVarchar    = "varchar"
	tChar       = "char"
	tVarBinary  = "varbinary"
	tBinary     = "binary"
	tBlob       = "blob"
	tTinyBlob   = "tinyblob"
	tMediumBlob = "mediumblob"
	tLongBlob   = "longblob"
	tText       = "text"
	tTinyText   = "tinytext"
	tMediumText = "mediumtext"
	tLongText   = "longtext"

	tEnum = "enum"
	tSet  = "set"
	tJSON = "json"
)
