// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafkastore

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// rawValue is the latest raw record value seen for a key during a
// partition scan. present distinguishes "never seen" from "seen and
// tombstoned" (nil value).
type rawValue struct {
	value   []byte
	present bool
}

// scanPartitionToOffset opens a short-lived, non-group direct-partition
// consumer from earliest and folds every record's raw bytes by key up to
// and including endOffset-1, then discards the consumer.
//
// A nil record value overwrites the key's entry with a tombstone rather
// than deleting it from the map, so a caller scanning for a single key
// can tell "deleted" apart from "never produced".
func scanPartitionToOffset(ctx context.Context, brokers []string, topic string, partition int32, endOffset int64) (map[string]rawValue, error) {
	if endOffset <= 0 {
		return map[string]rawValue{}, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
			topic: {partition: kgo.NewOffset().AtStart()},
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("kafkastore: failed to open recovery consumer: %w", err)
	}
	defer client.Close()

	out := make(map[string]rawValue)
	for {
		fetches := client.PollFetches(ctx)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, fetchErr := range fetches.Errors() {
			return nil, fmt.Errorf("kafkastore: fetch error on %s[%d]: %w", fetchErr.Topic, fetchErr.Partition, fetchErr.Err)
		}

		reachedEnd := false
		fetches.EachRecord(func(rec *kgo.Record) {
			if rec.Partition != partition {
				return
			}
			if rec.Offset >= endOffset {
				reachedEnd = true
				return
			}
			out[string(rec.Key)] = rawValue{value: rec.Value, present: true}
			if rec.Offset >= endOffset-1 {
				reachedEnd = true
			}
		})

		if reachedEnd {
			return out, nil
		}
	}
}
