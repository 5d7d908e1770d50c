// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package flow

import "time"

// keyOffsets is the minimal view of a [KeyState] the [OffsetTracker]
// needs — kept separate from KeyState[S] so OffsetTracker stays
// non-generic.
type keyOffsets struct {
	lastSeenOffset  Offset
	persistedOffset Offset
	hasPersisted    bool
}

// OffsetTracker computes the partition-wide safe commit offset: the
// minimum, across all live keys, of the next offset whose effect is
// durable. This is the central correctness property of the engine —
// committing past it would lose a key's folded state on restart.
type OffsetTracker struct {
	assignedAtOffset      Offset
	anyRecordProcessed    bool
	lastCommittedOffset   Offset
	hasCommitted          bool
	commitOffsetsInterval time.Duration
	lastCommitAt          time.Time
	firstCommitDone       bool
}

// NewOffsetTracker creates an OffsetTracker for a partition assigned at
// assignedAtOffset.
func NewOffsetTracker(assignedAtOffset Offset, commitOffsetsInterval time.Duration) *OffsetTracker {
	return &OffsetTracker{
		assignedAtOffset:      assignedAtOffset,
		commitOffsetsInterval: commitOffsetsInterval,
	}
}

// noteRecordProcessed must be called whenever at least one record was
// folded during a batch, so Safe() can report progress on an
// otherwise-empty key set (e.g. every key in the batch was immediately
// deleted and dropped).
func (t *OffsetTracker) noteRecordProcessed() {
	t.anyRecordProcessed = true
}

// Safe computes the safe commit offset given the current set of live
// keys:
//
//	safe = min over keys K of (
//	  if K.persistedOffset == K.lastSeenOffset then K.lastSeenOffset + 1
//	  else K.persistedOffset + 1 (or assignedAtOffset if persistedOffset is None)
//	)
//
// If no keys are live, safe is max(lastCommittedOffset, assignedAtOffset+1
// if any record was ever processed on this partition).
func (t *OffsetTracker) Safe(keys []keyOffsets) Offset {
	if len(keys) == 0 {
		safe := t.assignedAtOffset
		if t.hasCommitted && t.lastCommittedOffset > safe {
			safe = t.lastCommittedOffset
		}
		if t.anyRecordProcessed && t.assignedAtOffset+1 > safe {
			safe = t.assignedAtOffset + 1
		}
		return safe
	}

	min := Offset(0)
	first := true
	for _, k := range keys {
		var next Offset
		if k.hasPersisted && k.persistedOffset == k.lastSeenOffset {
			next = k.lastSeenOffset + 1
		} else if k.hasPersisted {
			next = k.persistedOffset + 1
		} else {
			next = t.assignedAtOffset
		}

		if first || next < min {
			min = next
			first = false
		}
	}
	return min
}

// ShouldCommit reports whether safe represents enough progress, and
// enough time has elapsed since the last scheduled commit, to schedule a
// new one. The very first commit after assignment is exempt from the
// interval gate so progress is observable immediately.
func (t *OffsetTracker) ShouldCommit(now time.Time, safe Offset) bool {
	if t.hasCommitted && safe <= t.lastCommittedOffset {
		return false
	}
	if !t.firstCommitDone {
		return true
	}
	return now.Sub(t.lastCommitAt) >= t.commitOffsetsInterval
}

// MarkCommitted records that safe was scheduled for commit at now.
func (t *OffsetTracker) MarkCommitted(now time.Time, safe Offset) {
	t.lastCommittedOffset = safe
	t.hasCommitted = true
	t.lastCommitAt = now
	t.firstCommitDone = true
}

// LastCommitted returns the last offset scheduled for commit, if any.
func (t *OffsetTracker) LastCommitted() (Offset, bool) {
	return t.lastCommittedOffset, t.hasCommitted
}
