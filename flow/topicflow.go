// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package flow

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/streamfold/flow/concurrent"
)

// PartitionFlowFactory constructs a [*PartitionFlow] for a newly assigned
// partition, optionally running [EagerRecovery] first. Supplied by the
// caller so TopicFlow stays generic over the state type S, breaking what
// would otherwise be a TopicFlow/PartitionFlow/KeyFlow reference cycle by
// passing constructors as parameters instead.
type PartitionFlowFactory[S any] func(ctx context.Context, partition int32, assignedAtOffset Offset) (*PartitionFlow[S], error)

// TopicFlow maps partition -> [*PartitionFlow] and owns assign/revoke
// lifecycle for one topic. The dispatcher that routes Kafka rebalance
// callbacks to [Assign]/[Revoke]/[Lost] is an external collaborator —
// [package kafkaflow] provides one concrete wiring against franz-go.
type TopicFlow[S any] struct {
	partitions *concurrent.Cache[int32, *PartitionFlow[S]]

	factory PartitionFlowFactory[S]
	log     *slog.Logger
}

// NewTopicFlow creates a TopicFlow using factory to build each assigned
// partition's flow.
func NewTopicFlow[S any](factory PartitionFlowFactory[S], log *slog.Logger) *TopicFlow[S] {
	if log == nil {
		log = slog.Default()
	}
	return &TopicFlow[S]{
		partitions: concurrent.NewCache[int32, *PartitionFlow[S]](),
		factory:    factory,
		log:        log,
	}
}

// Assign brings up a [*PartitionFlow] for partition, assigned at offset
// assignedAtOffset, and registers it. Calling Assign again for a partition
// already tracked builds a new flow and replaces the old one; the old
// flow is not flushed.
func (tf *TopicFlow[S]) Assign(ctx context.Context, partition int32, assignedAtOffset Offset) error {
	pf, err := tf.factory(ctx, partition, assignedAtOffset)
	if err != nil {
		return fmt.Errorf("flow: failed to assign partition %d: %w", partition, err)
	}

	tf.partitions.Set(partition, pf)

	tf.log.InfoContext(ctx, "partition assigned", PartitionAttr(partition), OffsetAttr(assignedAtOffset))
	return nil
}

// Apply routes batch to the [*PartitionFlow] owning partition. It returns
// an error, unmodified, if partition is not currently assigned to this
// TopicFlow — that indicates a dispatcher bug (handing a batch to a
// partition never assigned or already revoked).
func (tf *TopicFlow[S]) Apply(ctx context.Context, partition int32, batch []Record) error {
	pf, ok := tf.partitions.Get(partition)
	if !ok {
		return fmt.Errorf("flow: no partition flow assigned for partition %d", partition)
	}
	return pf.Apply(ctx, batch)
}

// Revoke runs the partition's FlushOnRevoke protocol (if configured) and
// releases it. Errors during the flush are logged and swallowed by
// [PartitionFlow.FlushOnRevoke] itself.
func (tf *TopicFlow[S]) Revoke(ctx context.Context, partition int32) {
	pf, ok := tf.partitions.Delete(partition)
	if !ok {
		return
	}

	pf.FlushOnRevoke(ctx)
	tf.log.InfoContext(ctx, "partition revoked", PartitionAttr(partition))
}

// Lost drops the partition without attempting any flush — the consumer
// group no longer owns it and a flush could race a new owner's eager
// recovery.
func (tf *TopicFlow[S]) Lost(ctx context.Context, partition int32) {
	if _, ok := tf.partitions.Delete(partition); ok {
		tf.log.WarnContext(ctx, "partition lost", PartitionAttr(partition))
	}
}

// Close flushes every currently-assigned partition concurrently and
// releases them all. Intended for a full shutdown, not a single
// partition's revoke.
func (tf *TopicFlow[S]) Close(ctx context.Context) error {
	flows := tf.partitions.DrainAll()

	g, gctx := errgroup.WithContext(ctx)
	for _, pf := range flows {
		pf := pf
		g.Go(func() error {
			pf.FlushOnRevoke(gctx)
			return nil
		})
	}
	return g.Wait()
}

// LiveCount returns the number of partitions currently assigned.
func (tf *TopicFlow[S]) LiveCount() int {
	return tf.partitions.Len()
}
