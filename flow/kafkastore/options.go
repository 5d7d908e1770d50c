// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafkastore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

type options struct {
	log *slog.Logger
}

// Option configures a [Store] or [Recovery].
type Option func(*options)

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

func defaultOptions() *options {
	return &options{log: defaultLogger()}
}

// EnsureCompactedTopic creates stateTopic as a compacted topic with
// partitions partitions and the given replication factor, if it does not
// already exist. Intended for startup/migration tooling, not the hot
// path — the state topic's partition count must match the input
// topic's.
func EnsureCompactedTopic(ctx context.Context, brokers []string, stateTopic string, partitions int32, replicationFactor int16) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("kafkastore: failed to create admin client: %w", err)
	}
	defer client.Close()

	admin := kadm.NewClient(client)

	configs := map[string]*string{
		"cleanup.policy": strPtr("compact"),
	}
	resp, err := admin.CreateTopics(ctx, partitions, replicationFactor, configs, stateTopic)
	if err != nil {
		return fmt.Errorf("kafkastore: failed to create state topic %q: %w", stateTopic, err)
	}
	for _, topicResp := range resp {
		if topicResp.Err != nil && !isTopicExistsErr(topicResp.Err) {
			return fmt.Errorf("kafkastore: failed to create state topic %q: %w", stateTopic, topicResp.Err)
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }
