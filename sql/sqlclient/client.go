// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package sqlclient provides the backend registry and the pooled
// client the comparison engine runs against. Clients are dialect
// specific and should be instantiated using a call to Open.
package sqlclient

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tablediff/tablediff/sql/schema"
	"github.com/tablediff/tablediff/sql/sqldiff"
)

type (
	// Driver is the per-backend part of a client: pure SQL rendering
	// plus catalog inspection over an open pool.
	Driver interface {
		sqldiff.Dialect

		// DescribeTable resolves the table description from the
		// backend catalog.
		DescribeTable(ctx context.Context, schemaName, name string) (*schema.Table, error)

		// RefineColumnTypes pins down descriptors the catalog reports
		// vaguely. Columns not listed are left as is.
		RefineColumnTypes(ctx context.Context, t *schema.Table, columns []string) error
	}

	// Client is a pooled connection to one backend together with its
	// driver. It implements sqldiff.Database: queries are safe for
	// concurrent use up to the run's thread count, and transient
	// failures are retried with capped exponential backoff.
	Client struct {
		// DB used for creating the client.
		DB *sql.DB

		// Driver of the attached dialect.
		Driver

		u      *url.URL
		closed sync.Once
		cerr   error
	}
)

// Dialect returns the rendering dialect of the backend.
func (c *Client) Dialect() sqldiff.Dialect { return c.Driver }

// URL reports the redacted connection identity of the backend.
func (c *Client) URL() string {
	u := *c.u
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.String()
}

// QueryContext executes a query against the pool, retrying transient
// failures.
func (c *Client) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := backoff.Retry(func() error {
		var err error
		if rows, err = c.DB.QueryContext(ctx, query, args...); err != nil && !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, c.policy(ctx))
	return rows, err
}

// QueryRowContext executes a single-row query against the pool.
func (c *Client) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.DB.QueryRowContext(ctx, query, args...)
}

// ExecContext executes a statement against the pool, retrying
// transient failures.
func (c *Client) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := backoff.Retry(func() error {
		var err error
		if res, err = c.DB.ExecContext(ctx, query, args...); err != nil && !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, c.policy(ctx))
	return res, err
}

// Close closes the underlying pool. Idempotent.
func (c *Client) Close() error {
	c.closed.Do(func() { c.cerr = c.DB.Close() })
	return c.cerr
}

func (c *Client) policy(ctx context.Context) backoff.BackOff {
	p := backoff.NewExponentialBackOff()
	p.InitialInterval = 50 * time.Millisecond
	p.MaxElapsedTime = 3 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(p, 4), ctx)
}

// transient reports whether the error is worth a reconnect attempt.
func transient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

var _ sqldiff.Database = (*Client)(nil)

type (
	// Opener opens a client by the given URL.
	Opener interface {
		Open(ctx context.Context, u *url.URL) (*Client, error)
	}

	// OpenerFunc allows using a function as an Opener.
	OpenerFunc func(context.Context, *url.URL) (*Client, error)

	namedOpener struct {
		Opener
		name string
	}
)

// Open calls f(ctx, u).
func (f OpenerFunc) Open(ctx context.Context, u *url.URL) (*Client, error) {
	return f(ctx, u)
}

var drivers sync.Map

// Open opens a client by its provided url string.
func Open(ctx context.Context, s string) (*Client, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("sql/sqlclient: parse open url: %w", err)
	}
	v, ok := drivers.Load(u.Scheme)
	if !ok {
		return nil, fmt.Errorf("sql/sqlclient: no opener was registered with name %q", u.Scheme)
	}
	return v.(namedOpener).Open(ctx, u)
}

type (
	registerOptions struct {
		flavours []string
	}
	// RegisterOption allows configuring the Opener
	// registration using functional options.
	RegisterOption func(*registerOptions)
)

// RegisterFlavours allows registering additional flavours
// (i.e. scheme names) accepted for opening clients.
func RegisterFlavours(flavours ...string) RegisterOption {
	return func(opts *registerOptions) {
		opts.flavours = flavours
	}
}

// DriverOpener is a helper Opener creator shared by all drivers. The
// driverName names the registered database/sql driver, and dsn maps
// the open URL to its data source form.
func DriverOpener(driverName string, open func(schema.ExecQuerier) (Driver, error), dsn func(*url.URL) string) Opener {
	return OpenerFunc(func(ctx context.Context, u *url.URL) (*Client, error) {
		db, err := sql.Open(driverName, dsn(u))
		if err != nil {
			return nil, err
		}
		drv, err := open(db)
		if err != nil {
			if cerr := db.Close(); cerr != nil {
				err = fmt.Errorf("%w: %v", err, cerr)
			}
			return nil, err
		}
		// Backends that serialize queries internally get a pool of
		// one; concurrent callers queue at the pool.
		if drv.ThreadingModel() == sqldiff.SingleConnection {
			db.SetMaxOpenConns(1)
		}
		return &Client{DB: db, Driver: drv, u: u}, nil
	})
}

// Register registers a client Opener (i.e. creator) with the given name.
func Register(name string, opener Opener, opts ...RegisterOption) {
	if opener == nil {
		panic("sql/sqlclient: Register opener is nil")
	}
	opt := &registerOptions{}
	for i := range opts {
		opts[i](opt)
	}
	for _, f := range append(opt.flavours, name) {
		if _, ok := drivers.Load(f); ok {
			panic("sql/sqlclient: Register called twice for " + f)
		}
		drivers.Store(f, namedOpener{
			name:   name,
			Opener: opener,
		})
	}
}
