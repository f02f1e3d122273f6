// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package sqltest provides helpers for writing driver tests against
// go-sqlmock.
package sqltest

import (
	"database/sql/driver"
	"regexp"
	"strings"

	"github.com/DATA-DOG/go-sqlmock"
)

// Rows converts console-style table output to mock rows. The first
// content line names the columns; "nil" and "NULL" cells scan as NULL.
// For example:
//
//	+-------------+-------------+
//	| column_name | is_nullable |
//	+-------------+-------------+
//	| id          | NO          |
//	| name        | nil         |
//	+-------------+-------------+
func Rows(table string) *sqlmock.Rows {
	var rows *sqlmock.Rows
	for _, line := range strings.Split(table, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '+' || line[0] == '-' {
			continue
		}
		var cells []string
		for _, c := range strings.Split(strings.Trim(line, "|"), "|") {
			cells = append(cells, strings.TrimSpace(c))
		}
		if rows == nil {
			rows = sqlmock.NewRows(cells)
			continue
		}
		values := make([]driver.Value, len(cells))
		for i, c := range cells {
			if c != "" && c != "nil" && c != "NULL" {
				values[i] = c
			}
		}
		rows.AddRow(values...)
	}
	return rows
}

// Escape collapses the query to one line and escapes all regular
// expression metacharacters, for exact sqlmock matching.
func Escape(query string) string {
	lines := strings.Split(query, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	query = strings.TrimSpace(strings.Join(lines, " "))
	return regexp.QuoteMeta(query) + "$"
}
