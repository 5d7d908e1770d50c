// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package flow

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// CommitScheduler is the external collaborator that hands a safe commit
// offset off to the consumer thread for the actual Kafka commit. It must
// not block on the commit actually landing.
type CommitScheduler interface {
	ScheduleCommit(ctx context.Context, topic string, partition int32, offset Offset) error
}

// CommitSchedulerFunc adapts a function to a [CommitScheduler].
type CommitSchedulerFunc func(ctx context.Context, topic string, partition int32, offset Offset) error

func (f CommitSchedulerFunc) ScheduleCommit(ctx context.Context, topic string, partition int32, offset Offset) error {
	return f(ctx, topic, partition, offset)
}

// PartitionFlowConfig configures a [PartitionFlow].
type PartitionFlowConfig struct {
	ApplicationID string
	GroupID       string
	Topic         string
	Partition     int32

	AssignedAtOffset Offset

	Timer                 TimerConfig
	AdditionalCooldown    time.Duration
	CommitOffsetsInterval time.Duration

	Clock  Clock
	Logger *slog.Logger
}

// PartitionFlow is the orchestrator: within a single assigned partition,
// it maintains live keys and their folded states, arbitrates persist
// timing, and tracks the safe commit offset. It does not run
// [EagerRecovery] itself; the caller runs it and passes the result to
// [PartitionFlow.Seed]. It processes exactly one batch at a time; no
// interleaving of records within a partition.
type PartitionFlow[S any] struct {
	cfg PartitionFlowConfig

	fold  EnhancedFold[S]
	store SnapshotStore[S]
	keys  KeyStore

	commit CommitScheduler

	keyStates map[string]*KeyState[S]

	timer    *TimerFlow
	offsets  *OffsetTracker
	clock    Clock
	metrics  *partitionMetrics
	log      *slog.Logger
	tracer   trace.Tracer
}

// NewPartitionFlow constructs a PartitionFlow. fold and store are
// required; keys may be nil if the deployment does not use eager
// recovery / key-store maintenance.
func NewPartitionFlow[S any](cfg PartitionFlowConfig, fold EnhancedFold[S], store SnapshotStore[S], keys KeyStore, commit CommitScheduler) *PartitionFlow[S] {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	metrics, err := newPartitionMetrics()
	if err != nil {
		log.Warn("failed to initialize flow metrics", slog.Any("error", err))
		metrics = nil
	}

	return &PartitionFlow[S]{
		cfg:       cfg,
		fold:      fold,
		store:     store,
		keys:      keys,
		commit:    commit,
		keyStates: make(map[string]*KeyState[S]),
		timer:     NewTimerFlow(cfg.Timer, clock),
		offsets:   NewOffsetTracker(cfg.AssignedAtOffset, cfg.CommitOffsetsInterval),
		clock:     clock,
		metrics:   metrics,
		log:       log.With(TopicAttr(cfg.Topic), PartitionAttr(cfg.Partition)),
		tracer:    tracer(),
	}
}

// NewPartitionFlowFromFold is [NewPartitionFlow] for business logic with no
// need for [Extras] — fold is lifted to an [EnhancedFold] that never
// requests an additional persist.
func NewPartitionFlowFromFold[S any](cfg PartitionFlowConfig, fold Fold[S], store SnapshotStore[S], keys KeyStore, commit CommitScheduler) *PartitionFlow[S] {
	return NewPartitionFlow(cfg, asEnhanced(fold), store, keys, commit)
}

// Seed pre-populates the partition with eagerly recovered keys. Must be
// called, if at all, before the first [Apply].
func (pf *PartitionFlow[S]) Seed(recovered []Recovered[S]) {
	for _, r := range recovered {
		pf.keyStates[r.Key.UserKey] = recoveredKeyState(r.Key, pf.fold, pf.cfg.AdditionalCooldown, r.State, r.HasState, pf.cfg.AssignedAtOffset)
	}
}

func (pf *PartitionFlow[S]) keyFor(userKey string) Key {
	return Key{
		ApplicationID: pf.cfg.ApplicationID,
		GroupID:       pf.cfg.GroupID,
		Topic:         pf.cfg.Topic,
		Partition:     pf.cfg.Partition,
		UserKey:       userKey,
	}
}

// groupByKey groups batch by record.Key, preserving per-key record order
// and the order keys are first seen in the batch.
func groupByKey(batch []Record) (order []string, grouped map[string][]Record) {
	grouped = make(map[string][]Record)
	for _, rec := range batch {
		if _, ok := grouped[rec.Key]; !ok {
			order = append(order, rec.Key)
		}
		grouped[rec.Key] = append(grouped[rec.Key], rec)
	}
	return order, grouped
}

// Apply ingests a batch of records: it groups by key, folds each key's
// records in offset order, evaluates persist timing, drops keys whose
// deletion is durable, and schedules a commit if safe progress allows.
//
// A [*FoldError] aborts the whole batch; no partial application is
// persisted — the caller should treat the partition as failed and let the
// dispatcher restart it. A persist failure is fatal unless
// IgnorePersistErrors is set, in which case it is logged and
// persistedOffset simply does not advance for that key.
func (pf *PartitionFlow[S]) Apply(ctx context.Context, batch []Record) error {
	ctx, span := pf.tracer.Start(ctx, "PartitionFlow.Apply")
	defer span.End()

	order, grouped := groupByKey(batch)

	for _, userKey := range order {
		key := pf.keyFor(userKey)
		ks, ok := pf.keyStates[userKey]
		if !ok {
			ks = newKeyState(key, pf.fold, pf.cfg.AdditionalCooldown)
			pf.keyStates[userKey] = ks

			if pf.keys != nil {
				if err := pf.keys.Add(ctx, key); err != nil {
					pf.log.WarnContext(ctx, "failed to record new key in key store", KeyAttr(userKey), slog.Any("error", err))
				}
			}
		}

		for _, rec := range grouped[userKey] {
			if err := ks.apply(ctx, rec); err != nil {
				pf.metrics.recordFoldFailure(ctx, pf.cfg.Topic, pf.cfg.Partition)
				return err
			}
			pf.metrics.recordFolded(ctx, pf.cfg.Topic, pf.cfg.Partition)
			pf.offsets.noteRecordProcessed()
		}
	}

	if pf.timer.ShouldFire() {
		if err := pf.evaluatePersists(ctx); err != nil {
			return err
		}
		pf.timer.MarkFired()
	}

	pf.reapDeletedKeys(ctx)

	return pf.maybeScheduleCommit(ctx)
}

// evaluatePersists runs the regular-then-additional persist passes over
// every key.
func (pf *PartitionFlow[S]) evaluatePersists(ctx context.Context) error {
	now := pf.clock.Now()

	for userKey, ks := range pf.keyStates {
		if !ks.shouldPersistRegular(now, pf.cfg.Timer.PersistEvery) {
			continue
		}
		if err := pf.persistKey(ctx, userKey, ks, now, false); err != nil {
			return err
		}
	}

	for userKey, ks := range pf.keyStates {
		if !ks.shouldPersistAdditional(now) {
			continue
		}
		if err := pf.persistKey(ctx, userKey, ks, now, true); err != nil {
			return err
		}
	}

	return nil
}

func (pf *PartitionFlow[S]) persistKey(ctx context.Context, userKey string, ks *KeyState[S], now time.Time, additional bool) error {
	spanCtx, span := pf.tracer.Start(ctx, "PartitionFlow.persist")
	defer span.End()

	err := ks.persist(spanCtx, pf.store, now)
	if err != nil {
		pf.metrics.recordPersistFailure(spanCtx, pf.cfg.Topic, pf.cfg.Partition)

		if !pf.cfg.Timer.IgnorePersistErrors {
			return err
		}

		pf.log.ErrorContext(spanCtx, "persist failed, ignoring per configuration",
			KeyAttr(userKey), slog.Any("error", err))
		return nil
	}

	pf.metrics.recordPersist(spanCtx, pf.cfg.Topic, pf.cfg.Partition, additional)

	if !ks.hasState && pf.keys != nil {
		if err := pf.keys.Remove(spanCtx, pf.keyFor(userKey)); err != nil {
			pf.log.WarnContext(spanCtx, "failed to remove deleted key from key store", KeyAttr(userKey), slog.Any("error", err))
		}
	}

	return nil
}

// reapDeletedKeys drops keys whose deletion is durably persisted.
func (pf *PartitionFlow[S]) reapDeletedKeys(ctx context.Context) {
	for userKey, ks := range pf.keyStates {
		if ks.isDeletedAndPersisted() {
			delete(pf.keyStates, userKey)
			pf.log.DebugContext(ctx, "dropped deleted key from partition", KeyAttr(userKey))
		}
	}
}

// maybeScheduleCommit computes the safe offset and, if progress and the
// commit interval permit, delegates to the [CommitScheduler].
func (pf *PartitionFlow[S]) maybeScheduleCommit(ctx context.Context) error {
	keyOffs := make([]keyOffsets, 0, len(pf.keyStates))
	maxSeen := pf.cfg.AssignedAtOffset
	for _, ks := range pf.keyStates {
		persisted, hasPersisted := ks.PersistedOffset()
		keyOffs = append(keyOffs, keyOffsets{
			lastSeenOffset:  ks.LastSeenOffset(),
			persistedOffset: persisted,
			hasPersisted:    hasPersisted,
		})
		if ks.LastSeenOffset() > maxSeen {
			maxSeen = ks.LastSeenOffset()
		}
	}

	safe := pf.offsets.Safe(keyOffs)
	pf.metrics.recordHeldOffsetLag(ctx, pf.cfg.Topic, pf.cfg.Partition, int64(maxSeen-safe))

	now := pf.clock.Now()
	if !pf.offsets.ShouldCommit(now, safe) {
		return nil
	}

	if pf.commit != nil {
		if err := pf.commit.ScheduleCommit(ctx, pf.cfg.Topic, pf.cfg.Partition, safe); err != nil {
			return err
		}
	}

	pf.offsets.MarkCommitted(now, safe)
	pf.metrics.recordCommitScheduled(ctx, pf.cfg.Topic, pf.cfg.Partition)
	return nil
}

// FlushOnRevoke attempts one final persist of every dirty key, per
// FlushOnRevoke configuration. Errors are logged and swallowed.
func (pf *PartitionFlow[S]) FlushOnRevoke(ctx context.Context) {
	if !pf.cfg.Timer.FlushOnRevoke {
		return
	}

	now := pf.clock.Now()
	for userKey, ks := range pf.keyStates {
		if !ks.isDirty() {
			continue
		}
		if err := pf.persistKey(ctx, userKey, ks, now, false); err != nil {
			pf.log.ErrorContext(ctx, "flush on revoke failed for key", KeyAttr(userKey), slog.Any("error", err))
		}
	}
}

// LiveKeyCount returns the number of keys currently held by the
// partition. Exposed for tests and diagnostics.
func (pf *PartitionFlow[S]) LiveKeyCount() int {
	return len(pf.keyStates)
}
