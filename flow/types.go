// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package flow

import "time"

// Offset identifies a record's position within a partition.
type Offset int64

// Key uniquely identifies a stateful entity: the tuple of application,
// consumer group, topic-partition and user key. Immutable.
type Key struct {
	ApplicationID string
	GroupID       string
	Topic         string
	Partition     int32
	UserKey       string
}

// Header is a single Kafka record header.
type Header struct {
	Key   string
	Value []byte
}

// Record is the input unit folded into per-key state.
type Record struct {
	Topic     string
	Partition int32
	Offset    Offset
	Key       string
	Value     []byte
	Timestamp time.Time
	Headers   []Header
}

// Codec converts a user state value to and from bytes for persistence.
// Serialization format is entirely a caller concern; flow only ever
// stores and loads S through this interface.
type Codec[S any] interface {
	Encode(S) ([]byte, error)
	Decode([]byte) (S, error)
}

// CodecError wraps a failure from a [Codec], distinguishing a malformed
// snapshot payload from other store failures while still surfacing
// through the same [PersistError]/[RecoveryError] channels.
type CodecError struct {
	Op  string // "encode" or "decode"
	Err error
}

func (e *CodecError) Error() string {
	return "flow: codec " + e.Op + ": " + e.Err.Error()
}

func (e *CodecError) Unwrap() error { return e.Err }
