// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package flow

import "time"

// TimerConfig configures [TimerFlow]'s persist cadence. Setting FireEvery
// (and PersistEvery) to zero means "evaluate after every batch" — used in
// tests and low-latency configurations.
type TimerConfig struct {
	// FireEvery is how often timer evaluation runs, at minimum.
	FireEvery time.Duration

	// PersistEvery is the minimum interval between regular persists of a
	// single key.
	PersistEvery time.Duration

	// FlushOnRevoke, if true, makes the partition attempt one final
	// persist of every dirty key before releasing resources on revoke.
	FlushOnRevoke bool

	// IgnorePersistErrors, if true, logs and swallows persist failures
	// instead of aborting the partition.
	IgnorePersistErrors bool
}

// TimerFlow polls elapsed durations at batch boundaries rather than
// spawning a timer task per key — this eliminates races with record
// processing and makes deterministic testing with a [Clock]
// straightforward. It is only polled from [PartitionFlow.Apply]; there
// is no separate tick, so a partition that receives no batches does not
// re-evaluate persists.
type TimerFlow struct {
	cfg         TimerConfig
	clock       Clock
	lastFiredAt time.Time
}

// NewTimerFlow creates a TimerFlow for cfg, using clock for time.
func NewTimerFlow(cfg TimerConfig, clock Clock) *TimerFlow {
	return &TimerFlow{cfg: cfg, clock: clock}
}

// ShouldFire reports whether enough time has passed since the last fire
// to re-evaluate every key's persist eligibility. FireEvery == 0 always
// fires.
func (tf *TimerFlow) ShouldFire() bool {
	if tf.cfg.FireEvery <= 0 {
		return true
	}
	now := tf.clock.Now()
	if tf.lastFiredAt.IsZero() {
		return true
	}
	return now.Sub(tf.lastFiredAt) >= tf.cfg.FireEvery
}

// MarkFired records that an evaluation pass ran at the current time.
func (tf *TimerFlow) MarkFired() {
	tf.lastFiredAt = tf.clock.Now()
}
