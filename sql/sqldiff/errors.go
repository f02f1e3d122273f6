// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqldiff

import (
	"errors"
	"fmt"
)

type (
	// ValidationError reports an illegal comparison request:
	// incompatible key types, missing columns, illegal bounds or an
	// unparseable sampling spec. Raised before any query is issued.
	ValidationError struct {
		Reason string
	}

	// SchemaError reports a column whose catalog type cannot be
	// mapped while strict type checking is enabled.
	SchemaError struct {
		Column string
		Raw    string
	}

	// QueryError wraps a backend-originated error together with the
	// SQL snippet that produced it. The snippet is for diagnostic
	// logs only and must not be surfaced to untrusted callers.
	QueryError struct {
		SQL string
		Err error
	}

	// InternalError reports an invariant violation inside the engine.
	InternalError struct {
		Assertion string
	}
)

// ErrCancelled is reported when the caller cancelled the run.
var ErrCancelled = errors.New("sqldiff: run cancelled")

func (e *ValidationError) Error() string {
	return fmt.Sprintf("sqldiff: validation: %s", e.Reason)
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("sqldiff: column %q has unsupported type %q", e.Column, e.Raw)
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("sqldiff: query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func (e *InternalError) Error() string {
	return fmt.Sprintf("sqldiff: internal: %s", e.Assertion)
}

func errValidationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError reports if err is a ValidationError.
func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsSchemaError reports if err is a SchemaError.
func IsSchemaError(err error) bool {
	var e *SchemaError
	return errors.As(err, &e)
}

// IsQueryError reports if err is a QueryError.
func IsQueryError(err error) bool {
	var e *QueryError
	return errors.As(err, &e)
}
