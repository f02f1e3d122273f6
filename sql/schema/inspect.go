// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package schema

import (
	"context"
	"database/sql"
	"errors"
)

// A NotExistError wraps another error to retain its original text
// and let callers detect a missing table or schema.
type NotExistError struct {
	Err error
}

func (e *NotExistError) Error() string { return e.Err.Error() }

// IsNotExistError reports if an error is a NotExistError.
func IsNotExistError(err error) bool {
	if err == nil {
		return false
	}
	var e *NotExistError
	return errors.As(err, &e)
}

// ExecQuerier wraps the standard sql.DB methods.
type ExecQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Inspector is implemented by dialect drivers to resolve table
// descriptions from the backend catalog.
type Inspector interface {
	// Table returns the table description by its name. A NotExistError
	// is returned when the table does not exist in the schema. An empty
	// schema selects the connection default.
	Table(ctx context.Context, schema, name string) (*Table, error)
}
