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

	"github.com/streamfold/flow"
)

// Recovery bootstraps a partition's key set from a compacted state topic
// in one scan, rather than a [flow.SnapshotStore.Get] per key. A
// [flow.Key]'s ApplicationID/GroupID/Topic identity is reconstructed from
// the input topic identity Recovery is configured with; only UserKey
// comes off the wire, since the state topic's record key is just the raw
// user key.
type Recovery[S any] struct {
	brokers    []string
	stateTopic string

	applicationID string
	groupID       string
	inputTopic    string

	codec flow.Codec[S]
	admin endOffsetLister
	log   *slog.Logger
}

// NewRecovery creates a Recovery reading stateTopic on brokers. inputTopic
// identifies the original topic whose partitions stateTopic mirrors, and
// applicationID/groupID complete the [flow.Key] identity for recovered
// entries.
func NewRecovery[S any](brokers []string, stateTopic, applicationID, groupID, inputTopic string, codec flow.Codec[S], opts ...Option) (*Recovery[S], error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt(cfg)
	}

	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("kafkastore: failed to create admin client: %w", err)
	}

	return &Recovery[S]{
		brokers:       brokers,
		stateTopic:    stateTopic,
		applicationID: applicationID,
		groupID:       groupID,
		inputTopic:    inputTopic,
		codec:         codec,
		admin:         kadm.NewClient(client),
		log:           cfg.log.With(flow.TopicAttr(stateTopic)),
	}, nil
}

// Recover reads stateTopic's partition from earliest to its end offset at
// call time, folds by key, and returns every key's recovered state.
func (r *Recovery[S]) Recover(ctx context.Context, partition int32) ([]flow.Recovered[S], error) {
	_, span := tracer().Start(ctx, "Recovery.Recover")
	defer span.End()

	endOffset, err := endOffsetFor(ctx, r.admin, r.stateTopic, partition)
	if err != nil {
		return nil, &flow.RecoveryError{Partition: partition, Err: err}
	}
	if endOffset == 0 {
		return nil, nil
	}

	raw, err := scanPartitionToOffset(ctx, r.brokers, r.stateTopic, partition, endOffset)
	if err != nil {
		return nil, &flow.RecoveryError{Partition: partition, Err: err}
	}

	recovered, err := buildRecovered(raw, r.codec, r.applicationID, r.groupID, r.inputTopic, partition)
	if err != nil {
		return nil, &flow.RecoveryError{Partition: partition, Err: err}
	}

	r.log.DebugContext(ctx, "recovered partition from state topic", flow.PartitionAttr(partition), slog.Int("keys", len(recovered)))
	return recovered, nil
}

// buildRecovered decodes a partition scan's raw per-key bytes into
// [flow.Recovered] entries, reconstructing each [flow.Key]'s identity
// from the owning Recovery's application/group/input-topic configuration.
// Split out from Recover so it can be tested without a broker.
func buildRecovered[S any](raw map[string]rawValue, codec flow.Codec[S], applicationID, groupID, inputTopic string, partition int32) ([]flow.Recovered[S], error) {
	recovered := make([]flow.Recovered[S], 0, len(raw))
	for userKey, v := range raw {
		key := flow.Key{
			ApplicationID: applicationID,
			GroupID:       groupID,
			Topic:         inputTopic,
			Partition:     partition,
			UserKey:       userKey,
		}

		if v.value == nil {
			recovered = append(recovered, flow.Recovered[S]{Key: key, HasState: false})
			continue
		}

		state, err := codec.Decode(v.value)
		if err != nil {
			return nil, &flow.CodecError{Op: "decode", Err: err}
		}
		recovered = append(recovered, flow.Recovered[S]{Key: key, State: state, HasState: true})
	}
	return recovered, nil
}
