// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafkaflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"github.com/twmb/franz-go/plugin/kslog"
	"go.opentelemetry.io/otel"

	"github.com/streamfold/flow"
)

// Runtime drives a single topic's consumer group membership and wires
// every assigned partition to a [flow.TopicFlow]. One Runtime per topic,
// mirroring [flow.PartitionFlowConfig] being scoped to a single topic.
type Runtime[S any] struct {
	log     *slog.Logger
	brokers []string
	groupID string
	topic   string

	applicationID string
	fold          flow.EnhancedFold[S]
	store         flow.SnapshotStore[S]
	keys          flow.KeyStore

	opts *options[S]
}

// NewRuntime creates a Runtime consuming topic as part of groupID, folding
// records with fold and persisting/recovering state through store and
// keys.
func NewRuntime[S any](
	brokers []string,
	groupID string,
	topic string,
	applicationID string,
	fold flow.EnhancedFold[S],
	store flow.SnapshotStore[S],
	keys flow.KeyStore,
	opts ...Option[S],
) *Runtime[S] {
	cfg := defaultOptions[S]()
	for _, opt := range opts {
		opt(cfg)
	}
	log := cfg.log
	if log == nil {
		log = defaultLogger()
	}

	return &Runtime[S]{
		log:           log.With(flow.GroupIDAttr(groupID), flow.TopicAttr(topic)),
		brokers:       brokers,
		groupID:       groupID,
		topic:         topic,
		applicationID: applicationID,
		fold:          fold,
		store:         store,
		keys:          keys,
		opts:          cfg,
	}
}

// partitionEvent is what the per-partition goroutine receives: either a
// batch to fold, or a terminal notice of how the partition left the
// consumer group. The reason distinguishes a flush-and-release (revoked)
// from a drop-without-flush (lost) — a plain closed channel can't carry
// that distinction.
type partitionEvent struct {
	records []flow.Record
	revoked bool
	lost    bool
}

type eventLoop[S any] struct {
	log *slog.Logger

	topic string
	tf    *flow.TopicFlow[S]

	fetches            chan kgo.FetchTopic
	assignedPartitions chan int32
	lostPartitions     chan int32
	revokedPartitions  chan int32

	pendingPartitions map[int32]bool
	partitionChans    map[int32]chan partitionEvent
	partitionPool     *pool.ContextPool

	onWillRevoke PartitionHook

	// cancel and failOnce let a failing partition abort the whole loop: a
	// blocked send on that partition's channel would otherwise hang
	// forever, since partitionPool's own derived context isn't the one
	// fetchRecords/run select on.
	cancel   context.CancelFunc
	failOnce sync.Once
	failErr  error
}

// failPartition records err as the loop's terminal error (first one wins)
// and cancels ctx so every other goroutine unblocks and exits.
func (loop *eventLoop[S]) failPartition(err error) {
	loop.failOnce.Do(func() {
		loop.failErr = err
		loop.cancel()
	})
}

func convertRecord(topic string, r *kgo.Record) flow.Record {
	headers := make([]flow.Header, 0, len(r.Headers))
	for _, h := range r.Headers {
		headers = append(headers, flow.Header{Key: h.Key, Value: h.Value})
	}
	return flow.Record{
		Topic:     topic,
		Partition: r.Partition,
		Offset:    flow.Offset(r.Offset),
		Key:       string(r.Key),
		Value:     r.Value,
		Timestamp: r.Timestamp,
		Headers:   headers,
	}
}

// ProcessQueue joins the consumer group and processes records until ctx
// is canceled or a fold/persist error aborts a partition.
func (rt *Runtime[S]) ProcessQueue(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loop := &eventLoop[S]{
		log:                rt.log,
		topic:              rt.topic,
		fetches:            make(chan kgo.FetchTopic),
		assignedPartitions: make(chan int32),
		lostPartitions:     make(chan int32),
		revokedPartitions:  make(chan int32),
		pendingPartitions:  make(map[int32]bool),
		partitionChans:     make(map[int32]chan partitionEvent),
		partitionPool:      pool.New().WithContext(ctx),
		onWillRevoke:       rt.opts.onPartitionWillRevoke,
		cancel:             cancel,
	}

	var commitClient *kgo.Client

	factory := flow.PartitionFlowFactory[S](func(fctx context.Context, partition int32, assignedAtOffset flow.Offset) (*flow.PartitionFlow[S], error) {
		recovery := flow.NewEagerRecovery[S](rt.keys, rt.store)
		recovered, err := recovery.Recover(fctx, partition)
		if err != nil {
			return nil, err
		}

		cfg := flow.PartitionFlowConfig{
			ApplicationID:         rt.applicationID,
			GroupID:               rt.groupID,
			Topic:                 rt.topic,
			Partition:             partition,
			AssignedAtOffset:      assignedAtOffset,
			Timer:                 rt.opts.timer,
			AdditionalCooldown:    rt.opts.additionalPersistCooldown,
			CommitOffsetsInterval: rt.opts.commitOffsetsInterval,
			Clock:                 rt.opts.clock,
			Logger:                rt.log,
		}
		pf := flow.NewPartitionFlow[S](cfg, rt.fold, rt.store, rt.keys, &kafkaCommitScheduler{client: commitClient})
		pf.Seed(recovered)

		if rt.opts.onPartitionActivated != nil {
			rt.opts.onPartitionActivated(fctx, rt.topic, partition)
		}
		return pf, nil
	})
	loop.tf = flow.NewTopicFlow[S](factory, rt.log)

	clientOpts := []kgo.Opt{
		kgo.WithLogger(kslog.New(rt.log)),
		kgo.WithHooks(
			kotel.NewTracer(
				kotel.TracerProvider(otel.GetTracerProvider()),
				kotel.TracerPropagator(otel.GetTextMapPropagator()),
				kotel.LinkSpans(),
				kotel.ConsumerGroup(rt.groupID),
			),
			kotel.NewMeter(
				kotel.MeterProvider(otel.GetMeterProvider()),
				kotel.WithMergedConnectsMeter(),
			),
		),
		kgo.SeedBrokers(rt.brokers...),
		kgo.ConsumerGroup(rt.groupID),
		kgo.ConsumeTopics(rt.topic),
		kgo.Balancers(kgo.CooperativeStickyBalancer()),
		kgo.SessionTimeout(rt.opts.sessionTimeout),
		kgo.RebalanceTimeout(rt.opts.rebalanceTimeout),
		kgo.FetchMaxBytes(rt.opts.fetchMaxBytes),
		kgo.MaxConcurrentFetches(rt.opts.maxConcurrentFetches),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(loop.onPartitionsAssigned(ctx)),
		kgo.OnPartitionsRevoked(loop.onPartitionsRevoked(ctx)),
		kgo.OnPartitionsLost(loop.onPartitionsLost(ctx)),
	}

	if rt.opts.tlsConfig != nil {
		tlsCfg, err := buildTLSConfig(rt.opts.tlsConfig)
		if err != nil {
			return err
		}
		clientOpts = append(clientOpts, kgo.DialTLSConfig(tlsCfg))
	}

	client, err := kgo.NewClient(clientOpts...)
	if err != nil {
		return fmt.Errorf("kafkaflow: failed to create client: %w", err)
	}
	commitClient = client

	p := pool.New().WithContext(ctx)
	p.Go(loop.fetchRecords(client))
	p.Go(loop.run)
	err = p.Wait()
	if loop.failErr != nil {
		return loop.failErr
	}
	return err
}

func (loop *eventLoop[S]) onPartitionsAssigned(ctx context.Context) func(context.Context, *kgo.Client, map[string][]int32) {
	return func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
		for _, partition := range assigned[loop.topic] {
			select {
			case <-ctx.Done():
				return
			case loop.assignedPartitions <- partition:
			}
		}
	}
}

func (loop *eventLoop[S]) onPartitionsRevoked(ctx context.Context) func(context.Context, *kgo.Client, map[string][]int32) {
	return func(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
		for _, partition := range revoked[loop.topic] {
			select {
			case <-ctx.Done():
				return
			case loop.revokedPartitions <- partition:
			}
		}
	}
}

func (loop *eventLoop[S]) onPartitionsLost(ctx context.Context) func(context.Context, *kgo.Client, map[string][]int32) {
	return func(_ context.Context, _ *kgo.Client, lost map[string][]int32) {
		for _, partition := range lost[loop.topic] {
			select {
			case <-ctx.Done():
				return
			case loop.lostPartitions <- partition:
			}
		}
	}
}

type pollFetcher interface {
	Close()
	PollFetches(context.Context) kgo.Fetches
}

func (loop *eventLoop[S]) fetchRecords(client pollFetcher) func(context.Context) error {
	return func(ctx context.Context) error {
		defer client.Close()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			fetches := client.PollFetches(ctx)
			for _, err := range fetches.Errors() {
				loop.log.ErrorContext(ctx, "fetch error",
					flow.TopicAttr(err.Topic), flow.PartitionAttr(err.Partition), slog.Any("error", err.Err))
			}

			for _, fetch := range fetches {
				for _, topic := range fetch.Topics {
					if topic.Topic != loop.topic {
						continue
					}
					select {
					case <-ctx.Done():
						return ctx.Err()
					case loop.fetches <- topic:
					}
				}
			}
		}
	}
}

// shutdown closes every live partition channel without a flush notice —
// a fatal error means this process is leaving the group, and a flush
// here would race whichever consumer takes over the partition next.
func (loop *eventLoop[S]) shutdown() error {
	for partition, ch := range loop.partitionChans {
		close(ch)
		delete(loop.partitionChans, partition)
	}
	return loop.partitionPool.Wait()
}

func (loop *eventLoop[S]) run(ctx context.Context) error {
	for {
		if err := loop.tick(ctx); err != nil {
			return loop.shutdown()
		}
	}
}

func (loop *eventLoop[S]) tick(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case partition := <-loop.assignedPartitions:
		loop.pendingPartitions[partition] = true
		loop.log.InfoContext(ctx, "partition assigned, awaiting first fetch", flow.PartitionAttr(partition))
		return nil
	case partition := <-loop.lostPartitions:
		loop.handleTerminal(ctx, partition, partitionEvent{lost: true})
		return nil
	case partition := <-loop.revokedPartitions:
		loop.handleTerminal(ctx, partition, partitionEvent{revoked: true})
		return nil
	case fetch := <-loop.fetches:
		return loop.handleFetch(ctx, fetch)
	}
}

func (loop *eventLoop[S]) handleTerminal(ctx context.Context, partition int32, ev partitionEvent) {
	delete(loop.pendingPartitions, partition)

	if ev.revoked && loop.onWillRevoke != nil {
		loop.onWillRevoke(ctx, loop.topic, partition)
	}

	ch, ok := loop.partitionChans[partition]
	if !ok {
		// Never saw a record for this partition, so no PartitionFlow was
		// ever created; TopicFlow.Revoke/Lost on an unknown partition is
		// a harmless no-op.
		if ev.revoked {
			loop.tf.Revoke(ctx, partition)
		} else {
			loop.tf.Lost(ctx, partition)
		}
		return
	}

	ch <- ev
	close(ch)
	delete(loop.partitionChans, partition)
}

func (loop *eventLoop[S]) handleFetch(ctx context.Context, fetch kgo.FetchTopic) error {
	for _, part := range fetch.Partitions {
		if len(part.Records) == 0 {
			continue
		}

		ch, ok := loop.partitionChans[part.Partition]
		if !ok {
			if !loop.pendingPartitions[part.Partition] {
				loop.log.WarnContext(ctx, "fetch for unassigned partition", flow.PartitionAttr(part.Partition))
				continue
			}

			assignedAtOffset := flow.Offset(part.Records[0].Offset)
			if err := loop.tf.Assign(ctx, part.Partition, assignedAtOffset); err != nil {
				return err
			}
			delete(loop.pendingPartitions, part.Partition)

			ch = make(chan partitionEvent)
			loop.partitionChans[part.Partition] = ch
			loop.partitionPool.Go(processPartitionRecords(loop, ch, part.Partition))
		}

		records := make([]flow.Record, 0, len(part.Records))
		for _, r := range part.Records {
			records = append(records, convertRecord(loop.topic, r))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch <- partitionEvent{records: records}:
		}
	}
	return nil
}

// processPartitionRecords drives one partition's channel until it closes
// or a fold/persist error fails the partition. A fold/persist error aborts
// the whole runtime rather than just this partition: restarting a single
// partition would mean rejoining the consumer group anyway, so failing
// loud and letting the caller restart the whole Runtime is simpler than a
// partial-restart protocol.
func processPartitionRecords[S any](loop *eventLoop[S], ch <-chan partitionEvent, partition int32) func(context.Context) error {
	tf := loop.tf
	return func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-ch:
				if !ok {
					return nil
				}
				if ev.revoked {
					tf.Revoke(ctx, partition)
					return nil
				}
				if ev.lost {
					tf.Lost(ctx, partition)
					return nil
				}
				if err := tf.Apply(ctx, partition, ev.records); err != nil {
					loop.failPartition(fmt.Errorf("kafkaflow: partition %d failed: %w", partition, err))
					return err
				}
			}
		}
	}
}
