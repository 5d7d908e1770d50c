// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package cassandrastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gocql/gocql"

	"github.com/streamfold/flow"
)

const getStmt = `SELECT state FROM flow_snapshots WHERE application_id = ? AND group_id = ? AND topic = ? AND partition = ? AND user_key = ?`
const persistStmt = `INSERT INTO flow_snapshots (application_id, group_id, topic, partition, user_key, state) VALUES (?, ?, ?, ?, ?, ?)`
const deleteStmt = `DELETE FROM flow_snapshots WHERE application_id = ? AND group_id = ? AND topic = ? AND partition = ? AND user_key = ?`

// Store implements [flow.SnapshotStore] against Cassandra. A Store is
// bound to a single application and group at construction time; Topic and
// Partition still vary per key, since one flow deployment may run several
// topics through the same keyspace.
type Store[S any] struct {
	applicationID string
	groupID       string

	sess  session
	codec flow.Codec[S]
	log   *slog.Logger

	closer interface{ Close() }
}

// NewStore opens a session to hosts and returns a Store scoped to
// applicationID/groupID. The keyspace and its tables must already exist
// (see [EnsureSchema]).
func NewStore[S any](hosts []string, keyspace, applicationID, groupID string, codec flow.Codec[S], opts ...Option) (*Store[S], error) {
	cfg := defaultOptions(keyspace)
	for _, opt := range opts {
		opt(cfg)
	}

	sess, err := newSession(hosts, cfg)
	if err != nil {
		return nil, err
	}

	return &Store[S]{
		applicationID: applicationID,
		groupID:       groupID,
		sess:          gocqlSession{sess},
		codec:         codec,
		log:           cfg.log,
		closer:        sess,
	}, nil
}

// Close releases the underlying Cassandra session.
func (s *Store[S]) Close() {
	if s.closer != nil {
		s.closer.Close()
	}
}

// Get loads the latest snapshot for key.
func (s *Store[S]) Get(ctx context.Context, key flow.Key) (S, bool, error) {
	_, span := tracer().Start(ctx, "Store.Get")
	defer span.End()

	var zero S
	var raw []byte
	err := s.sess.Query(getStmt, s.applicationID, s.groupID, key.Topic, key.Partition, key.UserKey).
		WithContext(ctx).
		Scan(&raw)
	if errors.Is(err, gocql.ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, s.wrap("get", key, err)
	}

	state, err := s.codec.Decode(raw)
	if err != nil {
		return zero, false, &flow.CodecError{Op: "decode", Err: err}
	}
	return state, true, nil
}

// Persist overwrites the snapshot for key.
func (s *Store[S]) Persist(ctx context.Context, key flow.Key, state S) error {
	_, span := tracer().Start(ctx, "Store.Persist")
	defer span.End()

	value, err := s.codec.Encode(state)
	if err != nil {
		return &flow.CodecError{Op: "encode", Err: err}
	}

	err = s.sess.Query(persistStmt, s.applicationID, s.groupID, key.Topic, key.Partition, key.UserKey, value).
		WithContext(ctx).
		Exec()
	if err != nil {
		return s.wrap("persist", key, err)
	}
	s.log.DebugContext(ctx, "persisted snapshot", flow.KeyAttr(key.UserKey))
	return nil
}

// Delete removes the snapshot for key.
func (s *Store[S]) Delete(ctx context.Context, key flow.Key) error {
	_, span := tracer().Start(ctx, "Store.Delete")
	defer span.End()

	err := s.sess.Query(deleteStmt, s.applicationID, s.groupID, key.Topic, key.Partition, key.UserKey).
		WithContext(ctx).
		Exec()
	if err != nil {
		return s.wrap("delete", key, err)
	}
	s.log.DebugContext(ctx, "deleted snapshot", flow.KeyAttr(key.UserKey))
	return nil
}

func (s *Store[S]) wrap(op string, key flow.Key, err error) error {
	wrapped := fmt.Errorf("cassandrastore: failed to %s key %q: %w", op, key.UserKey, err)
	if isTransient(err) {
		return &flow.StoreTransient{Err: wrapped}
	}
	return wrapped
}
