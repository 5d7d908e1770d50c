// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// setFold replaces the key's state with the record value's first byte,
// read as an integer. A byte of 0xFF deletes the key's state; 'R' also
// requests an additional persist.
type setFold struct{}

func (setFold) Fold(_ context.Context, extras Extras, state int, hasState bool, record Record) (int, bool, error) {
	v := int(record.Value[0])
	if v == 0xFF {
		return 0, false, nil
	}
	if v == 'R' {
		extras.RequestAdditionalPersist()
	}
	return v, true, nil
}

type failingFold struct{ err error }

func (f failingFold) Fold(context.Context, Extras, int, bool, Record) (int, bool, error) {
	return 0, false, f.err
}

func testKey(userKey string) Key {
	return Key{ApplicationID: "app", GroupID: "group", Topic: "t", Partition: 0, UserKey: userKey}
}

func TestKeyState_ApplyAdvancesLastSeenOffset(t *testing.T) {
	ks := newKeyState(testKey("k0"), setFold{}, time.Minute)

	err := ks.apply(context.Background(), Record{Key: "k0", Offset: 1, Value: []byte{1}})
	require.NoError(t, err)

	state, hasState := ks.State()
	require.True(t, hasState)
	require.Equal(t, 1, state)
	require.Equal(t, Offset(1), ks.LastSeenOffset())
}

func TestKeyState_ApplyFoldErrorLeavesStateUnchanged(t *testing.T) {
	ks := newKeyState(testKey("k0"), failingFold{err: errors.New("boom")}, time.Minute)
	ks.lastSeenOffset = 5

	err := ks.apply(context.Background(), Record{Key: "k0", Offset: 6, Value: []byte{1}})

	var foldErr *FoldError
	require.ErrorAs(t, err, &foldErr)
	require.Equal(t, Offset(5), ks.LastSeenOffset(), "hold offset must not advance on fold failure")
}

func TestKeyState_ShouldPersistRegular(t *testing.T) {
	ks := newKeyState(testKey("k0"), setFold{}, time.Minute)
	require.False(t, ks.shouldPersistRegular(time.Now(), time.Minute), "no unpersisted work yet")

	require.NoError(t, ks.apply(context.Background(), Record{Key: "k0", Offset: 1, Value: []byte{1}}))
	require.True(t, ks.shouldPersistRegular(time.Now(), time.Minute), "never persisted, dirty key must persist immediately")
}

func TestKeyState_PersistAdvancesPersistedOffsetAndResetsCooldown(t *testing.T) {
	store := newFakeStore[int]()
	ks := newKeyState(testKey("k0"), setFold{}, 10*time.Second)
	require.NoError(t, ks.apply(context.Background(), Record{Key: "k0", Offset: 1, Value: []byte{1}}))

	now := time.Now()
	require.NoError(t, ks.persist(context.Background(), store, now))

	persisted, ok := ks.PersistedOffset()
	require.True(t, ok)
	require.Equal(t, Offset(1), persisted)
	require.False(t, ks.isDirty())
	require.Equal(t, now.Add(10*time.Second), ks.cooldownDeadline)
}

func TestKeyState_PersistFailureDoesNotAdvancePersistedOffset(t *testing.T) {
	store := newFakeStore[int]()
	store.persistErr = errors.New("store down")

	ks := newKeyState(testKey("k0"), setFold{}, time.Minute)
	require.NoError(t, ks.apply(context.Background(), Record{Key: "k0", Offset: 1, Value: []byte{1}}))

	err := ks.persist(context.Background(), store, time.Now())

	var persistErr *PersistError
	require.ErrorAs(t, err, &persistErr)
	_, hasPersisted := ks.PersistedOffset()
	require.False(t, hasPersisted)
}

func TestKeyState_AdditionalPersistRequiresCooldown(t *testing.T) {
	ks := newKeyState(testKey("k0"), setFold{}, time.Minute)
	require.NoError(t, ks.apply(context.Background(), Record{Key: "k0", Offset: 1, Value: []byte('R')}))

	require.True(t, ks.additionalPersistRequested)
	now := time.Now()
	require.True(t, ks.shouldPersistAdditional(now), "first additional persist is never gated by an empty cooldown")

	store := newFakeStore[int]()
	require.NoError(t, ks.persist(context.Background(), store, now))
	require.False(t, ks.additionalPersistRequested, "persist clears the request flag")

	require.NoError(t, ks.apply(context.Background(), Record{Key: "k0", Offset: 2, Value: []byte('R')}))
	require.False(t, ks.shouldPersistAdditional(now), "still within cooldown window")
	require.True(t, ks.shouldPersistAdditional(now.Add(time.Minute)), "cooldown elapsed")
}

func TestKeyState_DeletionMarksDeletedAndPersisted(t *testing.T) {
	store := newFakeStore[int]()
	ks := newKeyState(testKey("k0"), setFold{}, time.Minute)
	require.NoError(t, ks.apply(context.Background(), Record{Key: "k0", Offset: 1, Value: []byte{1}}))
	require.NoError(t, ks.persist(context.Background(), store, time.Now()))

	require.NoError(t, ks.apply(context.Background(), Record{Key: "k0", Offset: 2, Value: []byte{0xFF}}))
	require.False(t, ks.isDeletedAndPersisted(), "state deleted in memory but not yet persisted")

	require.NoError(t, ks.persist(context.Background(), store, time.Now()))
	require.True(t, ks.isDeletedAndPersisted())
}

// fakeStore is a minimal in-package SnapshotStore fake for unit tests that
// should not depend on the memstore package.
type fakeStore[S any] struct {
	data       map[Key]S
	persistErr error
	deleteErr  error
}

func newFakeStore[S any]() *fakeStore[S] {
	return &fakeStore[S]{data: make(map[Key]S)}
}

func (f *fakeStore[S]) Get(_ context.Context, key Key) (S, bool, error) {
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeStore[S]) Persist(_ context.Context, key Key, state S) error {
	if f.persistErr != nil {
		return f.persistErr
	}
	f.data[key] = state
	return nil
}

func (f *fakeStore[S]) Delete(_ context.Context, key Key) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.data, key)
	return nil
}
