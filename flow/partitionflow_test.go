// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package flow_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamfold/flow"
	"github.com/streamfold/flow/memstore"
)

// valueFold treats the record value as the new state verbatim, unless it
// is empty (delete) or prefixed "R:" (delete the prefix and request an
// additional persist for this key).
type valueFold struct{}

func (valueFold) Fold(_ context.Context, extras flow.Extras, _ string, _ bool, record flow.Record) (string, bool, error) {
	v := string(record.Value)
	if v == "" {
		return "", false, nil
	}
	if strings.HasPrefix(v, "R:") {
		extras.RequestAdditionalPersist()
		v = strings.TrimPrefix(v, "R:")
	}
	return v, true, nil
}

type recordedCommit struct {
	topic     string
	partition int32
	offset    flow.Offset
}

type commitRecorder struct {
	commits []recordedCommit
}

func (c *commitRecorder) ScheduleCommit(_ context.Context, topic string, partition int32, offset flow.Offset) error {
	c.commits = append(c.commits, recordedCommit{topic, partition, offset})
	return nil
}

func (c *commitRecorder) last() (flow.Offset, bool) {
	if len(c.commits) == 0 {
		return 0, false
	}
	return c.commits[len(c.commits)-1].offset, true
}

func rec(key string, offset flow.Offset, value string) flow.Record {
	return flow.Record{Topic: "orders", Partition: 0, Key: key, Offset: offset, Value: []byte(value)}
}

func newTestFlow(t *testing.T, assignedAt flow.Offset, timer flow.TimerConfig, cooldown time.Duration, store flow.SnapshotStore[string], keys flow.KeyStore, commit *commitRecorder) *flow.PartitionFlow[string] {
	t.Helper()
	cfg := flow.PartitionFlowConfig{
		ApplicationID:         "app",
		GroupID:               "group",
		Topic:                 "orders",
		Partition:             0,
		AssignedAtOffset:      assignedAt,
		Timer:                 timer,
		AdditionalCooldown:    cooldown,
		CommitOffsetsInterval: 0,
	}
	return flow.NewPartitionFlow[string](cfg, valueFold{}, store, keys, commit)
}

// Scenario: single key roundtrip. Each record's fold result is visible
// immediately and persists advance the persisted offset.
func TestPartitionFlow_BasicRoundtrip(t *testing.T) {
	store := memstore.New[string]()
	keys := memstore.NewKeyStore()
	commit := &commitRecorder{}

	pf := newTestFlow(t, 1, flow.TimerConfig{FireEvery: 0, PersistEvery: 0}, 0, store, keys, commit)

	err := pf.Apply(context.Background(), []flow.Record{
		rec("key0", 1, "state1"),
		rec("key0", 2, "state2"),
		rec("key0", 3, "state3"),
	})
	require.NoError(t, err)

	snap := store.Snapshot()
	key0 := flow.Key{ApplicationID: "app", GroupID: "group", Topic: "orders", Partition: 0, UserKey: "key0"}
	require.Equal(t, "state3", snap[key0])

	last, ok := commit.last()
	require.True(t, ok)
	require.Equal(t, flow.Offset(4), last, "safe commit is one past the last persisted offset")
}

// Scenario 2: deletion and re-creation.
func TestPartitionFlow_DeletionAndRecreation(t *testing.T) {
	store := memstore.New[string]()
	keys := memstore.NewKeyStore()
	commit := &commitRecorder{}

	pf := newTestFlow(t, 1, flow.TimerConfig{FireEvery: 0, PersistEvery: 0}, 0, store, keys, commit)
	key0 := flow.Key{ApplicationID: "app", GroupID: "group", Topic: "orders", Partition: 0, UserKey: "key0"}

	require.NoError(t, pf.Apply(context.Background(), []flow.Record{rec("key0", 1, "state1")}))
	require.Equal(t, "state1", store.Snapshot()[key0])

	require.NoError(t, pf.Apply(context.Background(), []flow.Record{rec("key0", 2, "")}))
	_, stillPresent := store.Snapshot()[key0]
	require.False(t, stillPresent, "deletion must remove the snapshot")
	require.Equal(t, 0, pf.LiveKeyCount(), "deleted-and-persisted key is dropped from the partition")

	require.NoError(t, pf.Apply(context.Background(), []flow.Record{rec("key0", 3, "state3")}))
	require.Equal(t, "state3", store.Snapshot()[key0])
}

// Scenario 3: additional persist advances commit for a key ahead of its
// neighbor, which remains capped at its own last regular persist because
// neither its persist interval nor a fresh additional-persist request
// fired in the second batch.
func TestPartitionFlow_AdditionalPersistAdvancesCommit(t *testing.T) {
	store := memstore.New[string]()
	keys := memstore.NewKeyStore()
	commit := &commitRecorder{}

	// PersistEvery is large so, once each key has its first (unconditional)
	// persist, only explicit additional-persist requests persist again.
	pf := newTestFlow(t, 101, flow.TimerConfig{FireEvery: 0, PersistEvery: time.Hour}, 0, store, keys, commit)

	require.NoError(t, pf.Apply(context.Background(), []flow.Record{
		rec("key1", 101, "value1"),
		rec("key2", 102, "value2"),
	}))

	key1 := flow.Key{ApplicationID: "app", GroupID: "group", Topic: "orders", Partition: 0, UserKey: "key1"}
	key2 := flow.Key{ApplicationID: "app", GroupID: "group", Topic: "orders", Partition: 0, UserKey: "key2"}
	snap := store.Snapshot()
	require.Equal(t, "value1", snap[key1])
	require.Equal(t, "value2", snap[key2])

	err := pf.Apply(context.Background(), []flow.Record{
		rec("key1", 103, "R:value3"),
		rec("key2", 104, "value4"),
	})
	require.NoError(t, err)

	snap = store.Snapshot()
	require.Equal(t, "value3", snap[key1], "key1's additional persist fires")
	require.Equal(t, "value2", snap[key2], "key2 has neither an elapsed interval nor a pending request")

	last, ok := commit.last()
	require.True(t, ok)
	require.Equal(t, flow.Offset(103), last, "one past key2's still-unpersisted-since offset (102), the laggard")
}

// Scenario 4: persist failure with ignorePersistErrors=true stalls only
// the failing key's contribution to the commit offset.
func TestPartitionFlow_IgnorePersistErrorsStallsOnlyFailingKey(t *testing.T) {
	store := &selectivelyFailingStore{Store: memstore.New[string](), failKeys: map[string]bool{}}
	keys := memstore.NewKeyStore()
	commit := &commitRecorder{}

	pf := newTestFlow(t, 101, flow.TimerConfig{FireEvery: 0, PersistEvery: 0, IgnorePersistErrors: true}, 0, store, keys, commit)

	require.NoError(t, pf.Apply(context.Background(), []flow.Record{rec("key1", 101, "value7")}))
	firstCommit, _ := commit.last()
	require.Equal(t, flow.Offset(102), firstCommit)

	store.failKeys["key1"] = true
	require.NoError(t, pf.Apply(context.Background(), []flow.Record{
		rec("key2", 102, "value11"),
		rec("key3", 103, "value12"),
		rec("key1", 104, "value10"),
	}))

	last, _ := commit.last()
	require.Equal(t, flow.Offset(102), last, "key1's persist fails, so safe commit stalls at its last durable offset + 1")
}

type selectivelyFailingStore struct {
	*memstore.Store[string]
	failKeys map[string]bool
}

func (s *selectivelyFailingStore) Persist(ctx context.Context, key flow.Key, state string) error {
	if s.failKeys[key.UserKey] {
		return errors.New("store rejected write")
	}
	return s.Store.Persist(ctx, key, state)
}

// Scenario 5: eager recovery doesn't let recovered keys hold back commit.
func TestPartitionFlow_EagerRecoveryDoesNotHoldBackCommit(t *testing.T) {
	store := memstore.New[string]()
	keys := memstore.NewKeyStore()
	commit := &commitRecorder{}

	key1 := flow.Key{ApplicationID: "app", GroupID: "group", Topic: "orders", Partition: 0, UserKey: "key1"}
	key2 := flow.Key{ApplicationID: "app", GroupID: "group", Topic: "orders", Partition: 0, UserKey: "key2"}
	require.NoError(t, store.Persist(context.Background(), key1, "A"))
	require.NoError(t, store.Persist(context.Background(), key2, "B"))
	require.NoError(t, keys.Add(context.Background(), key1))
	require.NoError(t, keys.Add(context.Background(), key2))

	recovery := flow.NewEagerRecovery[string](keys, store)
	recovered, err := recovery.Recover(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recovered, 2)

	pf := newTestFlow(t, 500, flow.TimerConfig{FireEvery: 0, PersistEvery: 0}, 0, store, keys, commit)
	pf.Seed(recovered)

	require.NoError(t, pf.Apply(context.Background(), []flow.Record{rec("key3", 501, "value3")}))

	last, ok := commit.last()
	require.True(t, ok)
	require.Equal(t, flow.Offset(501), last, "recovered keys contribute assignedAtOffset+1, no lower, the same floor an empty key set would give")
}

// Scenario 6: flush on revoke persists keys left dirty because the fire
// interval has not yet elapsed.
func TestPartitionFlow_FlushOnRevoke(t *testing.T) {
	store := memstore.New[string]()
	keys := memstore.NewKeyStore()
	commit := &commitRecorder{}

	pf := newTestFlow(t, 1, flow.TimerConfig{FireEvery: time.Hour, PersistEvery: time.Hour, FlushOnRevoke: true}, 0, store, keys, commit)
	key0 := flow.Key{ApplicationID: "app", GroupID: "group", Topic: "orders", Partition: 0, UserKey: "key0"}

	require.NoError(t, pf.Apply(context.Background(), []flow.Record{rec("key0", 1, "state1")}))
	require.Equal(t, "state1", store.Snapshot()[key0], "a key's very first persist is never held back by the interval")

	require.NoError(t, pf.Apply(context.Background(), []flow.Record{rec("key0", 2, "state2")}))
	require.Equal(t, "state1", store.Snapshot()[key0], "the fire interval has not elapsed, so this update is still only in memory")

	pf.FlushOnRevoke(context.Background())

	require.Equal(t, "state2", store.Snapshot()[key0])
}

// Fold errors abort the whole batch without persisting anything.
func TestPartitionFlow_FoldErrorAbortsBatch(t *testing.T) {
	store := memstore.New[string]()
	keys := memstore.NewKeyStore()
	commit := &commitRecorder{}

	badFold := flow.EnhancedFoldFunc[string](func(context.Context, flow.Extras, string, bool, flow.Record) (string, bool, error) {
		return "", false, errors.New("business rule violated")
	})
	cfg := flow.PartitionFlowConfig{Topic: "orders", Partition: 0, AssignedAtOffset: 1}
	broken := flow.NewPartitionFlow[string](cfg, badFold, store, keys, commit)

	err := broken.Apply(context.Background(), []flow.Record{rec("key0", 1, "state1")})

	var foldErr *flow.FoldError
	require.ErrorAs(t, err, &foldErr)
	require.Empty(t, store.Snapshot())
	require.Empty(t, commit.commits)
}
