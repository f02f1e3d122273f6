// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package postgres

import (
	"net/url"

	// Registers the "postgres" database/sql driver.
	_ "github.com/lib/pq"

	"github.com/tablediff/tablediff/sql/schema"
	"github.com/tablediff/tablediff/sql/sqlclient"
)

func init() {
	sqlclient.Register(
		"postgres",
		sqlclient.DriverOpener("postgres", opener, dsn),
		sqlclient.RegisterFlavours("postgresql", "cockroach", "crdb"),
	)
}

func opener(db schema.ExecQuerier) (sqlclient.Driver, error) {
	return Open(db)
}

// dsn passes the URL through; lib/pq accepts postgres:// URLs as is.
func dsn(u *url.URL) string {
	out := *u
	out.Scheme = "postgres"
	return out.String()
}
