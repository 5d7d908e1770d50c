// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package flow

import (
	"errors"
	"fmt"
)

// FoldError wraps a failure from a [Fold]/[EnhancedFold]. It is fatal to
// the batch: the record is not considered processed and its hold offset
// does not advance.
type FoldError struct {
	Key    Key
	Offset Offset
	Err    error
}

func (e *FoldError) Error() string {
	return fmt.Sprintf("flow: fold failed for key %q at offset %d: %v", e.Key.UserKey, e.Offset, e.Err)
}

func (e *FoldError) Unwrap() error { return e.Err }

// PersistError wraps a failure writing to a [SnapshotStore]. If the
// partition's ignorePersistErrors option is set, callers log this and
// continue without advancing persistedOffset. Otherwise it is fatal to
// the partition.
type PersistError struct {
	Key Key
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("flow: persist failed for key %q: %v", e.Key.UserKey, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// RecoveryError wraps a failure loading initial snapshots during
// [EagerRecovery]. Fatal to the partition; the dispatcher should retry
// with backoff.
type RecoveryError struct {
	Partition int32
	Err       error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("flow: eager recovery failed for partition %d: %v", e.Partition, e.Err)
}

func (e *RecoveryError) Unwrap() error { return e.Err }

// StoreTransient marks a [SnapshotStore]/[KeyStore] error as retryable by
// an external policy. flow itself never retries; see [RetryingStore].
type StoreTransient struct {
	Err error
}

func (e *StoreTransient) Error() string {
	return fmt.Sprintf("flow: transient store error: %v", e.Err)
}

func (e *StoreTransient) Unwrap() error { return e.Err }

// IsTransient reports whether err is, or wraps, a [StoreTransient].
func IsTransient(err error) bool {
	var t *StoreTransient
	return errors.As(err, &t)
}
