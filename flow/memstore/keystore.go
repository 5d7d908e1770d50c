// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package memstore

import (
	"context"
	"sync"

	"github.com/streamfold/flow"
)

// KeyStore is an in-memory [flow.KeyStore]. Safe for concurrent use.
type KeyStore struct {
	mu   sync.Mutex
	keys map[int32]map[flow.Key]struct{}
}

// NewKeyStore creates an empty in-memory KeyStore.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[int32]map[flow.Key]struct{})}
}

func (ks *KeyStore) List(_ context.Context, partition int32) ([]flow.Key, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	keys := ks.keys[partition]
	out := make([]flow.Key, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	return out, nil
}

func (ks *KeyStore) Add(_ context.Context, key flow.Key) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.keys[key.Partition] == nil {
		ks.keys[key.Partition] = make(map[flow.Key]struct{})
	}
	ks.keys[key.Partition][key] = struct{}{}
	return nil
}

func (ks *KeyStore) Remove(_ context.Context, key flow.Key) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	delete(ks.keys[key.Partition], key)
	return nil
}
