// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package flow implements the per-partition flow engine for stateful,
// exactly-once-flavored stream processing over a partitioned, replayable
// log such as Kafka.
//
// For each record consumed from an assigned partition, [PartitionFlow]
// folds the record into the per-key state held by [KeyState], periodically
// flushes that state to a [SnapshotStore], and reports the offset below
// which every key's effect is durable. [EagerRecovery] bootstraps the
// partition's keys from the store before the first record is processed so
// that recovery is deterministic.
//
// # Architecture
//
// A [PartitionFlow] owns exactly one assigned partition's keys. It never
// processes more than one batch at a time and never interleaves records of
// the same key. Callers (a topic-level dispatcher, e.g. [package
// kafkaflow]) are responsible for handing it batches in offset order and
// for driving partition assignment/revocation.
//
// # Commit safety
//
// The central invariant, computed by [OffsetTracker], is that a commit
// offset is only ever reported once every key's effect below it is
// durably persisted. See [OffsetTracker.Safe] for the exact formula.
//
// # What this package does not do
//
// It does not talk to Kafka directly (see [package kafkaflow] for that),
// does not define a wire format for user state (see [Codec]), and does not
// provide exactly-once delivery — only at-least-once with deterministic
// state recovery.
package flow
