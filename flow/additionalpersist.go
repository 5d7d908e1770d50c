// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package flow

import "time"

// AdditionalStatePersist is the stateless cooldown policy gating on-demand
// persists. The cooldown is per key, not global, and applies only to
// additional persists; regular periodic persists ignore it entirely.
type AdditionalStatePersist struct {
	Cooldown time.Duration
}

// Allow reports whether an additional persist may run now, given the
// deadline set by the key's last successful persist.
func (p AdditionalStatePersist) Allow(now, deadline time.Time) bool {
	return !now.Before(deadline)
}
