// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package cassandrastore

import (
	"errors"
	"log/slog"

	"github.com/gocql/gocql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/streamfold/flow/cassandrastore"

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func defaultLogger() *slog.Logger {
	return slog.Default().With(slog.String("component", instrumentationName))
}

// isTransient reports whether err is a connectivity/timeout failure worth
// retrying externally via [flow.RetryingStore], as opposed to a malformed
// query or marshaling bug.
func isTransient(err error) bool {
	return errors.Is(err, gocql.ErrNoConnections) ||
		errors.Is(err, gocql.ErrUnavailable) ||
		errors.Is(err, gocql.ErrTooManyTimeouts) ||
		errors.Is(err, gocql.ErrSessionClosed)
}
