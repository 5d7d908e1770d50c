// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package flow

import "context"

// EagerRecovery bootstraps a partition's known keys from the
// [SnapshotStore] before the first record is processed, so that the first
// in-flight record for a previously-seen key sees its recovered state and
// recovered keys do not artificially hold back the commit offset.
type EagerRecovery[S any] struct {
	keys  KeyStore
	store SnapshotStore[S]
}

// NewEagerRecovery creates an EagerRecovery reading key enumeration from
// keys and snapshots from store.
func NewEagerRecovery[S any](keys KeyStore, store SnapshotStore[S]) *EagerRecovery[S] {
	return &EagerRecovery[S]{keys: keys, store: store}
}

// Recovered is one key's bootstrapped state.
type Recovered[S any] struct {
	Key      Key
	State    S
	HasState bool
}

// Recover enumerates every key belonging to partition and loads its
// snapshot. Any failure is fatal and wrapped as a [*RecoveryError].
func (r *EagerRecovery[S]) Recover(ctx context.Context, partition int32) ([]Recovered[S], error) {
	keys, err := r.keys.List(ctx, partition)
	if err != nil {
		return nil, &RecoveryError{Partition: partition, Err: err}
	}

	recovered := make([]Recovered[S], 0, len(keys))
	for _, key := range keys {
		state, ok, err := r.store.Get(ctx, key)
		if err != nil {
			return nil, &RecoveryError{Partition: partition, Err: err}
		}

		recovered = append(recovered, Recovered[S]{
			Key:      key,
			State:    state,
			HasState: ok,
		})
	}

	return recovered, nil
}
