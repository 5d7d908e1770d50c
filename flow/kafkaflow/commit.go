// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafkaflow

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/streamfold/flow"
)

// kgoCommitter is the subset of *kgo.Client that kafkaCommitScheduler
// needs, so it can be faked in tests without a live broker.
type kgoCommitter interface {
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
}

// kafkaCommitScheduler implements [flow.CommitScheduler] against a live
// consumer group client. franz-go commits "one past" the offset on the
// record handed to CommitRecords, while [flow.OffsetTracker.Safe] already
// returns that resume offset directly — so the synthetic record's Offset
// is safe-1.
type kafkaCommitScheduler struct {
	client kgoCommitter
}

func (s *kafkaCommitScheduler) ScheduleCommit(ctx context.Context, topic string, partition int32, offset flow.Offset) error {
	rec := &kgo.Record{
		Topic:     topic,
		Partition: partition,
		Offset:    int64(offset) - 1,
	}
	if err := s.client.CommitRecords(ctx, rec); err != nil {
		return fmt.Errorf("kafkaflow: failed to commit offset %d for %s[%d]: %w", offset, topic, partition, err)
	}
	return nil
}
