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

type flakyStore[S any] struct {
	*fakeStore[S]
	failuresLeft int
}

func (f *flakyStore[S]) Persist(ctx context.Context, key Key, state S) error {
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return &StoreTransient{Err: errors.New("timeout")}
	}
	return f.fakeStore.Persist(ctx, key, state)
}

func TestRetryingStore_RetriesTransientErrors(t *testing.T) {
	base := &flakyStore[int]{fakeStore: newFakeStore[int](), failuresLeft: 2}
	retrying := NewRetryingStore[int](base, 3, func(int) time.Duration { return 0 })

	err := retrying.Persist(context.Background(), testKey("k0"), 42)
	require.NoError(t, err)
	require.Equal(t, 42, base.data[testKey("k0")])
}

func TestRetryingStore_GivesUpAfterMaxRetries(t *testing.T) {
	base := &flakyStore[int]{fakeStore: newFakeStore[int](), failuresLeft: 5}
	retrying := NewRetryingStore[int](base, 2, func(int) time.Duration { return 0 })

	err := retrying.Persist(context.Background(), testKey("k0"), 42)
	require.Error(t, err)
	require.True(t, IsTransient(err))
}

func TestRetryingStore_NonTransientErrorIsNotRetried(t *testing.T) {
	base := newFakeStore[int]()
	base.persistErr = errors.New("permanent")
	retrying := NewRetryingStore[int](base, 5, func(int) time.Duration { return 0 })

	err := retrying.Persist(context.Background(), testKey("k0"), 42)
	require.EqualError(t, err, "permanent")
}

func TestExponentialBackoff(t *testing.T) {
	backoff := ExponentialBackoff(time.Second, 10*time.Second)

	require.Equal(t, time.Second, backoff(0))
	require.Equal(t, 2*time.Second, backoff(1))
	require.Equal(t, 4*time.Second, backoff(2))
	require.Equal(t, 10*time.Second, backoff(10), "capped at max")
}
