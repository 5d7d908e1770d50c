// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package cassandrastore

import (
	"context"

	"github.com/gocql/gocql"
)

// session is the subset of *gocql.Session Store and KeyStore need, so
// tests can substitute a fake without a live cluster.
type session interface {
	Query(stmt string, values ...interface{}) query
}

// query is the subset of *gocql.Query used by this package. WithContext
// must return query rather than *gocql.Query, which is why *gocql.Query
// itself can't satisfy query directly and needs gocqlQuery below.
type query interface {
	WithContext(ctx context.Context) query
	Exec() error
	Scan(dest ...interface{}) error
	Iter() iterator
}

// iterator is the subset of *gocql.Iter used for key enumeration scans.
type iterator interface {
	Scan(dest ...interface{}) bool
	Close() error
}

// gocqlSession adapts a *gocql.Session to session.
type gocqlSession struct {
	*gocql.Session
}

func (s gocqlSession) Query(stmt string, values ...interface{}) query {
	return gocqlQuery{s.Session.Query(stmt, values...)}
}

type gocqlQuery struct {
	*gocql.Query
}

func (q gocqlQuery) WithContext(ctx context.Context) query {
	return gocqlQuery{q.Query.WithContext(ctx)}
}

func (q gocqlQuery) Iter() iterator {
	return q.Query.Iter()
}
