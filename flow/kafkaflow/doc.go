// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package kafkaflow wires a [flow.TopicFlow] to a real Kafka consumer
// group via github.com/twmb/franz-go. It owns the rebalance callbacks,
// the one-goroutine-per-partition event loop, and commit scheduling;
// [flow.PartitionFlow] and its collaborators stay free of any Kafka
// client dependency.
package kafkaflow
