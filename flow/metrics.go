// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package flow

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// partitionMetrics holds the OTel instruments a [PartitionFlow] records
// to, one set per partition flow.
type partitionMetrics struct {
	recordsFolded      metric.Int64Counter
	foldFailures       metric.Int64Counter
	regularPersists    metric.Int64Counter
	additionalPersists metric.Int64Counter
	persistFailures    metric.Int64Counter
	commitsScheduled   metric.Int64Counter
	heldOffsetLag      metric.Int64Histogram
}

func newPartitionMetrics() (*partitionMetrics, error) {
	m := meter()

	recordsFolded, err := m.Int64Counter(
		"flow.records.folded",
		metric.WithDescription("Number of records successfully folded into key state"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	foldFailures, err := m.Int64Counter(
		"flow.fold.failures",
		metric.WithDescription("Number of records that failed to fold"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	regularPersists, err := m.Int64Counter(
		"flow.persists.regular",
		metric.WithDescription("Number of regular (periodic) persists"),
		metric.WithUnit("{persist}"),
	)
	if err != nil {
		return nil, err
	}

	additionalPersists, err := m.Int64Counter(
		"flow.persists.additional",
		metric.WithDescription("Number of additional (on-demand) persists"),
		metric.WithUnit("{persist}"),
	)
	if err != nil {
		return nil, err
	}

	persistFailures, err := m.Int64Counter(
		"flow.persists.failures",
		metric.WithDescription("Number of persist failures"),
		metric.WithUnit("{persist}"),
	)
	if err != nil {
		return nil, err
	}

	commitsScheduled, err := m.Int64Counter(
		"flow.commits.scheduled",
		metric.WithDescription("Number of commit offsets scheduled"),
		metric.WithUnit("{commit}"),
	)
	if err != nil {
		return nil, err
	}

	heldOffsetLag, err := m.Int64Histogram(
		"flow.held_offset.lag",
		metric.WithDescription("Distance between the highest seen offset and the safe commit offset"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	return &partitionMetrics{
		recordsFolded:      recordsFolded,
		foldFailures:       foldFailures,
		regularPersists:    regularPersists,
		additionalPersists: additionalPersists,
		persistFailures:    persistFailures,
		commitsScheduled:   commitsScheduled,
		heldOffsetLag:      heldOffsetLag,
	}, nil
}

func topicPartitionAttrs(topic string, partition int32) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.destination.name", topic),
		attribute.Int("messaging.destination.partition.id", int(partition)),
	}
}

func (m *partitionMetrics) recordFolded(ctx context.Context, topic string, partition int32) {
	if m == nil || m.recordsFolded == nil {
		return
	}
	m.recordsFolded.Add(ctx, 1, metric.WithAttributes(topicPartitionAttrs(topic, partition)...))
}

func (m *partitionMetrics) recordFoldFailure(ctx context.Context, topic string, partition int32) {
	if m == nil || m.foldFailures == nil {
		return
	}
	m.foldFailures.Add(ctx, 1, metric.WithAttributes(topicPartitionAttrs(topic, partition)...))
}

func (m *partitionMetrics) recordPersist(ctx context.Context, topic string, partition int32, additional bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(topicPartitionAttrs(topic, partition)...)
	if additional {
		if m.additionalPersists != nil {
			m.additionalPersists.Add(ctx, 1, attrs)
		}
		return
	}
	if m.regularPersists != nil {
		m.regularPersists.Add(ctx, 1, attrs)
	}
}

func (m *partitionMetrics) recordPersistFailure(ctx context.Context, topic string, partition int32) {
	if m == nil || m.persistFailures == nil {
		return
	}
	m.persistFailures.Add(ctx, 1, metric.WithAttributes(topicPartitionAttrs(topic, partition)...))
}

func (m *partitionMetrics) recordCommitScheduled(ctx context.Context, topic string, partition int32) {
	if m == nil || m.commitsScheduled == nil {
		return
	}
	m.commitsScheduled.Add(ctx, 1, metric.WithAttributes(topicPartitionAttrs(topic, partition)...))
}

func (m *partitionMetrics) recordHeldOffsetLag(ctx context.Context, topic string, partition int32, lag int64) {
	if m == nil || m.heldOffsetLag == nil {
		return
	}
	m.heldOffsetLag.Record(ctx, lag, metric.WithAttributes(topicPartitionAttrs(topic, partition)...))
}
