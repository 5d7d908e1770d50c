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

// producer is the subset of *kgo.Client [Store] needs for writes, so
// tests can substitute a fake without a live broker.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// endOffsetLister is the subset of *kadm.Client [Store] and [Recovery]
// need to resolve the assignment-time recovery boundary.
type endOffsetLister interface {
	ListEndOffsets(ctx context.Context, topics ...string) (kadm.ListedOffsets, error)
}

// Store implements [flow.SnapshotStore] against a compacted Kafka topic:
// the record key is the byte encoding of the user key, the record value
// is the state encoded through codec, and a null value is a tombstone.
// Persist and Delete are idempotent overwrites, matching the interface
// contract; franz-go's default producer idempotency plus an explicit
// all-ISR ack makes each write itself exactly-once into the topic.
type Store[S any] struct {
	brokers    []string
	stateTopic string
	codec      flow.Codec[S]

	client producer
	admin  endOffsetLister

	log *slog.Logger
}

// NewStore creates a Store producing to stateTopic on brokers. The topic
// must already exist (see [EnsureCompactedTopic]) and must be compacted
// with a partition count matching the input topic.
func NewStore[S any](brokers []string, stateTopic string, codec flow.Codec[S], opts ...Option) (*Store[S], error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt(cfg)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafkastore: failed to create producer client: %w", err)
	}

	return &Store[S]{
		brokers:    brokers,
		stateTopic: stateTopic,
		codec:      codec,
		client:     client,
		admin:      kadm.NewClient(client),
		log:        cfg.log.With(flow.TopicAttr(stateTopic)),
	}, nil
}

func (s *Store[S]) recordKey(key flow.Key) []byte {
	return []byte(key.UserKey)
}

// Persist encodes state through codec and produces it as the latest
// record for key's partition.
func (s *Store[S]) Persist(ctx context.Context, key flow.Key, state S) error {
	_, span := tracer().Start(ctx, "Store.Persist")
	defer span.End()

	value, err := s.codec.Encode(state)
	if err != nil {
		return &flow.CodecError{Op: "encode", Err: err}
	}

	rec := &kgo.Record{
		Topic:     s.stateTopic,
		Partition: key.Partition,
		Key:       s.recordKey(key),
		Value:     value,
	}
	results := s.client.ProduceSync(ctx, rec)
	if err := results.FirstErr(); err != nil {
		return s.wrap("persist", key, err)
	}
	return nil
}

// Delete produces a tombstone (nil value) for key.
func (s *Store[S]) Delete(ctx context.Context, key flow.Key) error {
	_, span := tracer().Start(ctx, "Store.Delete")
	defer span.End()

	rec := &kgo.Record{
		Topic:     s.stateTopic,
		Partition: key.Partition,
		Key:       s.recordKey(key),
		Value:     nil,
	}
	results := s.client.ProduceSync(ctx, rec)
	if err := results.FirstErr(); err != nil {
		return s.wrap("delete", key, err)
	}
	return nil
}

// Get scans the state topic's partition from earliest to its current end
// offset looking for key's latest record. This is the slow path — normal
// bootstrap goes through [Recovery], which scans once for every key in a
// partition rather than once per key.
func (s *Store[S]) Get(ctx context.Context, key flow.Key) (S, bool, error) {
	_, span := tracer().Start(ctx, "Store.Get")
	defer span.End()

	var zero S

	endOffset, err := endOffsetFor(ctx, s.admin, s.stateTopic, key.Partition)
	if err != nil {
		return zero, false, s.wrap("get", key, err)
	}

	raw, err := scanPartitionToOffset(ctx, s.brokers, s.stateTopic, key.Partition, endOffset)
	if err != nil {
		return zero, false, s.wrap("get", key, err)
	}

	v, ok := raw[key.UserKey]
	if !ok || v.value == nil {
		return zero, false, nil
	}

	state, err := s.codec.Decode(v.value)
	if err != nil {
		return zero, false, &flow.CodecError{Op: "decode", Err: err}
	}
	return state, true, nil
}

func (s *Store[S]) wrap(op string, key flow.Key, err error) error {
	wrapped := fmt.Errorf("kafkastore: failed to %s key %q: %w", op, key.UserKey, err)
	if isTransient(err) {
		return &flow.StoreTransient{Err: wrapped}
	}
	return wrapped
}

func endOffsetFor(ctx context.Context, admin endOffsetLister, topic string, partition int32) (int64, error) {
	offsets, err := admin.ListEndOffsets(ctx, topic)
	if err != nil {
		return 0, fmt.Errorf("kafkastore: failed to list end offsets for %q: %w", topic, err)
	}
	o, ok := offsets.Lookup(topic, partition)
	if !ok {
		return 0, nil
	}
	return o.Offset, nil
}
