// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package flow

import (
	"context"
	"time"
)

// KeyState is the live, in-memory record of one key within a partition.
// It is owned exclusively by the [PartitionFlow] holding it; no shared
// mutability across partitions.
type KeyState[S any] struct {
	key Key

	state    S
	hasState bool

	lastSeenOffset   Offset
	hasSeen          bool
	persistedOffset  Offset
	hasPersisted     bool
	lastPersistedAt  time.Time
	cooldownDeadline time.Time

	additionalPersistRequested bool

	fold     EnhancedFold[S]
	cooldown time.Duration
}

// newKeyState creates a fresh KeyState for key with no prior state.
func newKeyState[S any](key Key, fold EnhancedFold[S], cooldown time.Duration) *KeyState[S] {
	return &KeyState[S]{
		key:      key,
		fold:     fold,
		cooldown: cooldown,
	}
}

// recoveredKeyState creates a KeyState pre-populated from [EagerRecovery]:
// state is the loaded snapshot, and it is already marked persisted at
// assignedAtOffset so it cannot artificially hold back the commit offset.
func recoveredKeyState[S any](key Key, fold EnhancedFold[S], cooldown time.Duration, state S, hasState bool, assignedAtOffset Offset) *KeyState[S] {
	ks := newKeyState(key, fold, cooldown)
	ks.state = state
	ks.hasState = hasState
	ks.lastSeenOffset = assignedAtOffset
	ks.persistedOffset = assignedAtOffset
	ks.hasPersisted = true
	return ks
}

// State returns the current folded state and whether any state exists.
func (ks *KeyState[S]) State() (S, bool) {
	return ks.state, ks.hasState
}

// LastSeenOffset returns the highest offset processed for this key.
func (ks *KeyState[S]) LastSeenOffset() Offset {
	return ks.lastSeenOffset
}

// PersistedOffset returns the highest offset whose effect is durably
// snapshotted, and whether any persist has happened yet.
func (ks *KeyState[S]) PersistedOffset() (Offset, bool) {
	return ks.persistedOffset, ks.hasPersisted
}

// isDirty reports whether there is unpersisted work for this key.
func (ks *KeyState[S]) isDirty() bool {
	if !ks.hasPersisted {
		return ks.hasSeen
	}
	return ks.persistedOffset < ks.lastSeenOffset
}

// apply runs fold over record, updating state and lastSeenOffset. On
// failure it returns a [*FoldError] and leaves the KeyState unchanged, so
// the hold offset does not advance.
func (ks *KeyState[S]) apply(ctx context.Context, record Record) error {
	ex := &extras{}
	newState, hasState, err := ks.fold.Fold(ctx, ex, ks.state, ks.hasState, record)
	if err != nil {
		return &FoldError{Key: ks.key, Offset: record.Offset, Err: err}
	}

	ks.state = newState
	ks.hasState = hasState
	ks.lastSeenOffset = record.Offset
	ks.hasSeen = true
	if ex.requested {
		ks.additionalPersistRequested = true
	}

	return nil
}

// shouldPersistRegular reports whether a periodic persist is due: enough
// time has passed since the last persist and there is unpersisted work.
func (ks *KeyState[S]) shouldPersistRegular(now time.Time, persistEvery time.Duration) bool {
	if !ks.isDirty() {
		return false
	}
	if ks.lastPersistedAt.IsZero() {
		return true
	}
	return now.Sub(ks.lastPersistedAt) >= persistEvery
}

// shouldPersistAdditional reports whether an on-demand persist was
// requested and its cooldown has elapsed.
func (ks *KeyState[S]) shouldPersistAdditional(now time.Time) bool {
	return ks.additionalPersistRequested && !now.Before(ks.cooldownDeadline)
}

// isDeletedAndPersisted reports whether this key's state was folded to
// "none" and that deletion has been durably persisted — the key is ready
// to be dropped from the partition's map.
func (ks *KeyState[S]) isDeletedAndPersisted() bool {
	return !ks.hasState && ks.hasPersisted && ks.persistedOffset == ks.lastSeenOffset
}

// persist writes the current state (or deletes it, if hasState is false)
// to store. On success, persistedOffset advances to lastSeenOffset, the
// cooldown deadline resets, and the additional-persist flag clears. On
// failure, the caller decides (per ignorePersistErrors) whether to
// propagate or swallow; persistedOffset is never advanced on failure.
func (ks *KeyState[S]) persist(ctx context.Context, store SnapshotStore[S], now time.Time) error {
	var err error
	if ks.hasState {
		err = store.Persist(ctx, ks.key, ks.state)
	} else {
		err = store.Delete(ctx, ks.key)
	}
	if err != nil {
		return &PersistError{Key: ks.key, Err: err}
	}

	ks.persistedOffset = ks.lastSeenOffset
	ks.hasPersisted = true
	ks.lastPersistedAt = now
	ks.cooldownDeadline = now.Add(ks.cooldown)
	ks.additionalPersistRequested = false
	return nil
}
