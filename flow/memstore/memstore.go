// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package memstore provides an in-memory [flow.SnapshotStore] and
// [flow.KeyStore], intended for tests and single-process, at-most-scale
// deployments where durability across process restarts is not required.
package memstore

import (
	"context"
	"sync"

	"github.com/streamfold/flow"
)

// Store is an in-memory [flow.SnapshotStore]. Safe for concurrent use.
type Store[S any] struct {
	mu    sync.Mutex
	state map[flow.Key]S
}

// New creates an empty in-memory Store.
func New[S any]() *Store[S] {
	return &Store[S]{state: make(map[flow.Key]S)}
}

func (s *Store[S]) Get(_ context.Context, key flow.Key) (S, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.state[key]
	return state, ok, nil
}

func (s *Store[S]) Persist(_ context.Context, key flow.Key, state S) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state[key] = state
	return nil
}

func (s *Store[S]) Delete(_ context.Context, key flow.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.state, key)
	return nil
}

// Snapshot returns a copy of every key currently stored, for assertions
// in tests.
func (s *Store[S]) Snapshot() map[flow.Key]S {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[flow.Key]S, len(s.state))
	for k, v := range s.state {
		out[k] = v
	}
	return out
}
