// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/tablediff/tablediff/sql/internal/sqltest"
	"github.com/tablediff/tablediff/sql/schema"
)

type mock struct {
	sqlmock.Sqlmock
}

func (m mock) version(version string) {
	m.ExpectQuery(sqltest.Escape(paramsQuery)).
		WillReturnRows(sqltest.Rows(`
+-----------------+
| setting         |
+-----------------+
| ` + version + ` |
+-----------------+
`))
}

func (m mock) crdb(version string) {
	m.ExpectQuery(sqltest.Escape(paramsQuery)).
		WillReturnRows(sqltest.Rows(`
+--------------------------------+
| setting                        |
+--------------------------------+
| ` + version + `                |
| CockroachDB CCL v21.2.1        |
+--------------------------------+
`))
}

func TestDriver_Open(t *testing.T) {
	db, m, err := sqlmock.New()
	require.NoError(t, err)
	mock{m}.version("140005")
	drv, err := Open(db)
	require.NoError(t, err)
	require.Equal(t, "14.00.05", drv.Version())
	require.False(t, drv.crdb)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestDriver_OpenCockroach(t *testing.T) {
	db, m, err := sqlmock.New()
	require.NoError(t, err)
	mock{m}.crdb("130008")
	drv, err := Open(db)
	require.NoError(t, err)
	require.True(t, drv.crdb)
}

func TestDriver_DescribeTable(t *testing.T) {
	db, m, err := sqlmock.New()
	require.NoError(t, err)
	mock{m}.version("140005")
	drv, err := Open(db)
	require.NoError(t, err)
	m.ExpectQuery(sqltest.Escape(columnsQuery)).
		WithArgs("public", "users").
		WillReturnRows(sqltest.Rows(`
+-------------+-----------------------------+-------------+--------------------+---------------+----------------+
| column_name | format_type                 | is_nullable | datetime_precision | numeric_scale | collation_name |
+-------------+-----------------------------+-------------+--------------------+---------------+----------------+
| id          | bigint                      | NO          | nil                | nil           | nil            |
| name        | character varying(255)      | YES         | nil                | nil           | nil            |
| total       | numeric(10,2)               | NO          | nil                | 2             | nil            |
| updated_at  | timestamp with time zone    | YES         | 3                  | nil           | nil            |
+-------------+-----------------------------+-------------+--------------------+---------------+----------------+
`))
	m.ExpectQuery(sqltest.Escape(pkQuery)).
		WithArgs("public", "users").
		WillReturnRows(sqltest.Rows(`
+-------------+
| column_name |
+-------------+
| id          |
+-------------+
`))
	tbl, err := drv.DescribeTable(context.Background(), "public", "users")
	require.NoError(t, err)
	require.Len(t, tbl.Columns, 4)

	id, ok := tbl.Column("id")
	require.True(t, ok)
	require.Equal(t, &schema.IntegerType{T: "bigint", Size: 8}, id.Type.Type)
	require.Equal(t, []*schema.Column{id}, tbl.PrimaryKey)

	total, ok := tbl.Column("total")
	require.True(t, ok)
	require.Equal(t, 2, total.Type.Type.(*schema.DecimalType).Scale)

	updated, ok := tbl.Column("updated_at")
	require.True(t, ok)
	tt, ok := updated.Type.Type.(*schema.TimeType)
	require.True(t, ok)
	require.True(t, tt.WithTZ)
	require.Equal(t, 3, tt.Precision)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestDriver_DescribeTableNotFound(t *testing.T) {
	db, m, err := sqlmock.New()
	require.NoError(t, err)
	mock{m}.version("140005")
	drv, err := Open(db)
	require.NoError(t, err)
	m.ExpectQuery(sqltest.Escape(columnsQuery)).
		WithArgs("public", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "format_type", "is_nullable", "datetime_precision", "numeric_scale", "collation_name"}))
	_, err = drv.DescribeTable(context.Background(), "public", "ghost")
	require.True(t, schema.IsNotExistError(err))
}

func TestFormatVersion(t *testing.T) {
	require.Equal(t, "14.00.05", formatVersion("140005"))
	require.Equal(t, "9.06.19", formatVersion("090619"))
	require.Equal(t, "10.1", formatVersion("10.1"))
}
