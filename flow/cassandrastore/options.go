// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package cassandrastore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"
)

type options struct {
	keyspace    string
	consistency gocql.Consistency
	timeout     time.Duration
	log         *slog.Logger
}

// Option configures a [Store] or [KeyStore].
type Option func(*options)

// WithConsistency overrides the default consistency level of [gocql.Quorum].
func WithConsistency(c gocql.Consistency) Option {
	return func(o *options) { o.consistency = c }
}

// WithTimeout overrides the per-query timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

func defaultOptions(keyspace string) *options {
	return &options{
		keyspace:    keyspace,
		consistency: gocql.Quorum,
		timeout:     10 * time.Second,
		log:         defaultLogger(),
	}
}

func newSession(hosts []string, cfg *options) (*gocql.Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = cfg.keyspace
	cluster.Consistency = cfg.consistency
	cluster.Timeout = cfg.timeout

	sess, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("cassandrastore: failed to create session: %w", err)
	}
	return sess, nil
}

const (
	snapshotsTableDDL = `CREATE TABLE IF NOT EXISTS flow_snapshots (
		application_id text,
		group_id text,
		topic text,
		partition int,
		user_key text,
		state blob,
		PRIMARY KEY ((application_id, group_id, topic, partition), user_key)
	)`

	keysTableDDL = `CREATE TABLE IF NOT EXISTS flow_keys (
		application_id text,
		group_id text,
		topic text,
		partition int,
		user_key text,
		PRIMARY KEY ((application_id, group_id, partition), topic, user_key)
	)`
)

// EnsureSchema creates the flow_snapshots and flow_keys tables in keyspace
// on the given hosts, if they don't already exist. Intended for
// startup/migration tooling, not the hot path.
func EnsureSchema(ctx context.Context, hosts []string, keyspace string, opts ...Option) error {
	cfg := defaultOptions(keyspace)
	for _, opt := range opts {
		opt(cfg)
	}

	sess, err := newSession(hosts, cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	for _, ddl := range []string{snapshotsTableDDL, keysTableDDL} {
		if err := sess.Query(ddl).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("cassandrastore: failed to apply schema: %w", err)
		}
	}
	return nil
}
