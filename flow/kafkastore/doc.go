// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package kafkastore implements [flow.SnapshotStore] and a specialized
// recovery scan against a compacted Kafka topic: persist/delete produce
// byte-encoded records (a null value is a tombstone), and recovery reads
// the topic from earliest to the end-offset-at-assignment-time, folding
// by key, rather than issuing a [flow.SnapshotStore.Get] per key.
package kafkastore
