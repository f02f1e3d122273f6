// Copyright 2021-present The Tablediff Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqlite

import (
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"math/big"
	"net/url"
	"strconv"

	"github.com/mattn/go-sqlite3"

	"github.com/tablediff/tablediff/sql/schema"
	"github.com/tablediff/tablediff/sql/sqlclient"
)

// DriverName is the database/sql driver carrying the md5 UDFs the
// comparison dialect renders against.
const DriverName = "sqlite3_tablediff"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("md5hex", md5hex, true); err != nil {
				return err
			}
			if err := conn.RegisterFunc("md5int", md5int, true); err != nil {
				return err
			}
			return conn.RegisterAggregator("md5sum", newChecksumSum, true)
		},
	})
	sqlclient.Register(
		"sqlite",
		sqlclient.DriverOpener(DriverName, opener, dsn),
		sqlclient.RegisterFlavours("sqlite3"),
	)
}

func opener(db schema.ExecQuerier) (sqlclient.Driver, error) {
	return Open(db)
}

// dsn maps sqlite://path?opts to the file: form the driver accepts.
func dsn(u *url.URL) string {
	s := "file:" + u.Host + u.Path
	if u.Opaque != "" {
		s = "file:" + u.Opaque
	}
	if u.RawQuery != "" {
		s += "?" + u.RawQuery
	}
	return s
}

// md5hex returns the full 32-digit hex MD5 of the input.
func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// md5int returns the low 15 hex digits of the MD5 as an integer.
// 60 bits, so the value is always a nonnegative int64.
func md5int(s string) int64 {
	h := md5hex(s)
	v, _ := strconv.ParseUint(h[len(h)-checksumDigits:], 16, 64)
	return int64(v)
}

// checksumSum is the md5sum aggregate: an exact big-integer sum of
// row checksums, returned as a decimal string.
type checksumSum struct {
	total big.Int
	step  big.Int
}

func newChecksumSum() *checksumSum { return &checksumSum{} }

func (s *checksumSum) Step(v int64) {
	s.step.SetInt64(v)
	s.total.Add(&s.total, &s.step)
}

func (s *checksumSum) Done() string {
	return s.total.String()
}
