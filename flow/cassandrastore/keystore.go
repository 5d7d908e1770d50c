// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package cassandrastore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streamfold/flow"
)

const listKeysStmt = `SELECT topic, user_key FROM flow_keys WHERE application_id = ? AND group_id = ? AND partition = ?`
const addKeyStmt = `INSERT INTO flow_keys (application_id, group_id, topic, partition, user_key) VALUES (?, ?, ?, ?, ?)`
const removeKeyStmt = `DELETE FROM flow_keys WHERE application_id = ? AND group_id = ? AND topic = ? AND partition = ? AND user_key = ?`

// KeyStore implements [flow.KeyStore] against Cassandra, enumerating keys
// by (application, group, partition) so [flow.EagerRecovery] can bootstrap
// a partition's full key set across every topic that consumer group owns.
type KeyStore struct {
	applicationID string
	groupID       string

	sess session
	log  *slog.Logger

	closer interface{ Close() }
}

// NewKeyStore opens a session to hosts and returns a KeyStore scoped to
// applicationID/groupID. The keyspace and its tables must already exist
// (see [EnsureSchema]).
func NewKeyStore(hosts []string, keyspace, applicationID, groupID string, opts ...Option) (*KeyStore, error) {
	cfg := defaultOptions(keyspace)
	for _, opt := range opts {
		opt(cfg)
	}

	sess, err := newSession(hosts, cfg)
	if err != nil {
		return nil, err
	}

	return &KeyStore{
		applicationID: applicationID,
		groupID:       groupID,
		sess:          gocqlSession{sess},
		log:           cfg.log,
		closer:        sess,
	}, nil
}

// Close releases the underlying Cassandra session.
func (ks *KeyStore) Close() {
	if ks.closer != nil {
		ks.closer.Close()
	}
}

func (ks *KeyStore) List(ctx context.Context, partition int32) ([]flow.Key, error) {
	_, span := tracer().Start(ctx, "KeyStore.List")
	defer span.End()

	iter := ks.sess.Query(listKeysStmt, ks.applicationID, ks.groupID, partition).WithContext(ctx).Iter()

	var keys []flow.Key
	var topic, userKey string
	for iter.Scan(&topic, &userKey) {
		keys = append(keys, flow.Key{
			ApplicationID: ks.applicationID,
			GroupID:       ks.groupID,
			Topic:         topic,
			Partition:     partition,
			UserKey:       userKey,
		})
	}
	if err := iter.Close(); err != nil {
		wrapped := fmt.Errorf("cassandrastore: failed to list keys for partition %d: %w", partition, err)
		if isTransient(err) {
			return nil, &flow.StoreTransient{Err: wrapped}
		}
		return nil, wrapped
	}
	return keys, nil
}

func (ks *KeyStore) Add(ctx context.Context, key flow.Key) error {
	_, span := tracer().Start(ctx, "KeyStore.Add")
	defer span.End()

	err := ks.sess.Query(addKeyStmt, ks.applicationID, ks.groupID, key.Topic, key.Partition, key.UserKey).
		WithContext(ctx).
		Exec()
	if err != nil {
		return ks.wrap("add", key, err)
	}
	ks.log.DebugContext(ctx, "added key", flow.KeyAttr(key.UserKey))
	return nil
}

func (ks *KeyStore) Remove(ctx context.Context, key flow.Key) error {
	_, span := tracer().Start(ctx, "KeyStore.Remove")
	defer span.End()

	err := ks.sess.Query(removeKeyStmt, ks.applicationID, ks.groupID, key.Topic, key.Partition, key.UserKey).
		WithContext(ctx).
		Exec()
	return ks.wrap("remove", key, err)
}

func (ks *KeyStore) wrap(op string, key flow.Key, err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("cassandrastore: failed to %s key %q: %w", op, key.UserKey, err)
	if isTransient(err) {
		return &flow.StoreTransient{Err: wrapped}
	}
	return wrapped
}
