// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package flow

import "log/slog"

// TopicAttr returns a slog attribute for a Kafka topic.
func TopicAttr(topic string) slog.Attr {
	return slog.String("messaging.destination.name", topic)
}

// PartitionAttr returns a slog attribute for a Kafka partition.
func PartitionAttr(partition int32) slog.Attr {
	return slog.Int64("messaging.destination.partition.id", int64(partition))
}

// OffsetAttr returns a slog attribute for a Kafka offset.
func OffsetAttr(offset Offset) slog.Attr {
	return slog.Int64("messaging.kafka.offset", int64(offset))
}

// KeyAttr returns a slog attribute for a flow key.
func KeyAttr(key string) slog.Attr {
	return slog.String("flow.key", key)
}

// GroupIDAttr returns a slog attribute for a consumer group ID.
func GroupIDAttr(groupID string) slog.Attr {
	return slog.String("messaging.kafka.consumer.group", groupID)
}
