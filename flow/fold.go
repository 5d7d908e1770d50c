// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package flow

import "context"

// Extras is the side-channel an [EnhancedFold] uses to influence the
// engine beyond returning a new state.
type Extras interface {
	// RequestAdditionalPersist marks the key dirty for an on-demand
	// persist, subject to [AdditionalStatePersist]'s per-key cooldown.
	RequestAdditionalPersist()
}

type extras struct {
	requested bool
}

func (e *extras) RequestAdditionalPersist() {
	e.requested = true
}

// Fold is a pure reducer: given the current state (absent on the first
// record for a key) and a record, it returns the new state. Returning
// (zero, false, nil) signals deletion of the key's state.
//
// Fold must be deterministic given the same (state, record) pair — the
// same inputs must always produce the same output, since [EagerRecovery]
// and any replay depend on it.
type Fold[S any] interface {
	Fold(ctx context.Context, state S, hasState bool, record Record) (S, bool, error)
}

// FoldFunc adapts a function to a [Fold].
type FoldFunc[S any] func(ctx context.Context, state S, hasState bool, record Record) (S, bool, error)

func (f FoldFunc[S]) Fold(ctx context.Context, state S, hasState bool, record Record) (S, bool, error) {
	return f(ctx, state, hasState, record)
}

// EnhancedFold is a [Fold] that additionally receives an [Extras]
// side-channel, letting business logic request an on-demand persist for
// the key it is currently folding.
type EnhancedFold[S any] interface {
	Fold(ctx context.Context, extras Extras, state S, hasState bool, record Record) (S, bool, error)
}

// EnhancedFoldFunc adapts a function to an [EnhancedFold].
type EnhancedFoldFunc[S any] func(ctx context.Context, extras Extras, state S, hasState bool, record Record) (S, bool, error)

func (f EnhancedFoldFunc[S]) Fold(ctx context.Context, extras Extras, state S, hasState bool, record Record) (S, bool, error) {
	return f(ctx, extras, state, hasState, record)
}

// asEnhanced lifts a plain [Fold] to an [EnhancedFold] that never requests
// an additional persist, so [KeyState] only needs to hold one fold shape.
func asEnhanced[S any](f Fold[S]) EnhancedFold[S] {
	return EnhancedFoldFunc[S](func(ctx context.Context, _ Extras, state S, hasState bool, record Record) (S, bool, error) {
		return f.Fold(ctx, state, hasState, record)
	})
}
