// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package flow

import (
	"context"
	"time"
)

// SnapshotStore persists the latest folded state per key. Persist is an
// idempotent overwrite, not a journal append. Implementations must be safe
// for concurrent access to disjoint keys; flow never issues concurrent
// calls for the same key.
type SnapshotStore[S any] interface {
	// Get loads the latest snapshot for key, or (zero, false, nil) if none
	// exists.
	Get(ctx context.Context, key Key) (S, bool, error)

	// Persist overwrites the snapshot for key.
	Persist(ctx context.Context, key Key, state S) error

	// Delete removes the snapshot for key. Idempotent.
	Delete(ctx context.Context, key Key) error
}

// KeyStore enumerates the keys known to belong to a partition, so
// [EagerRecovery] can bootstrap all of them before normal consumption
// begins.
type KeyStore interface {
	// List returns every key known for the given partition.
	List(ctx context.Context, partition int32) ([]Key, error)

	// Add records that key now belongs to its partition's enumeration.
	Add(ctx context.Context, key Key) error

	// Remove drops key from the enumeration, called once its deletion has
	// been durably persisted.
	Remove(ctx context.Context, key Key) error
}

// BackoffPolicy computes the delay before the (attempt+1)'th retry of a
// transient store operation. attempt is zero on the first retry.
type BackoffPolicy func(attempt int) time.Duration

// ExponentialBackoff returns a [BackoffPolicy] doubling from base up to a
// max cap.
func ExponentialBackoff(base, max time.Duration) BackoffPolicy {
	return func(attempt int) time.Duration {
		d := base << attempt
		if d <= 0 || d > max {
			return max
		}
		return d
	}
}

// RetryingStore decorates a [SnapshotStore] with an external retry
// policy: the core never retries on its own, retries are injected by
// wrapping the store. Only errors wrapping [StoreTransient] are retried;
// any other error is returned immediately.
type RetryingStore[S any] struct {
	Store      SnapshotStore[S]
	MaxRetries int
	Backoff    BackoffPolicy
}

// NewRetryingStore wraps store with up to maxRetries retries of transient
// errors, delayed per backoff.
func NewRetryingStore[S any](store SnapshotStore[S], maxRetries int, backoff BackoffPolicy) *RetryingStore[S] {
	return &RetryingStore[S]{Store: store, MaxRetries: maxRetries, Backoff: backoff}
}

func (r *RetryingStore[S]) retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		err = op()
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt == r.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.Backoff(attempt)):
		}
	}
	return err
}

func (r *RetryingStore[S]) Get(ctx context.Context, key Key) (state S, ok bool, err error) {
	err = r.retry(ctx, func() error {
		var e error
		state, ok, e = r.Store.Get(ctx, key)
		return e
	})
	return state, ok, err
}

func (r *RetryingStore[S]) Persist(ctx context.Context, key Key, state S) error {
	return r.retry(ctx, func() error {
		return r.Store.Persist(ctx, key, state)
	})
}

func (r *RetryingStore[S]) Delete(ctx context.Context, key Key) error {
	return r.retry(ctx, func() error {
		return r.Store.Delete(ctx, key)
	})
}
