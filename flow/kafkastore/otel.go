// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafkastore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kerr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/streamfold/flow/kafkastore"

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func defaultLogger() *slog.Logger {
	return slog.Default().With(slog.String("component", instrumentationName))
}

func isTopicExistsErr(err error) bool {
	return errors.Is(err, kerr.TopicAlreadyExists)
}

// isTransient reports whether err is a broker-side or network condition
// worth retrying externally via [flow.RetryingStore], as opposed to a
// malformed request or encoding bug.
func isTransient(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, kerr.RequestTimedOut) ||
		errors.Is(err, kerr.NotEnoughReplicas) ||
		errors.Is(err, kerr.NotEnoughReplicasAfterAppend) ||
		errors.Is(err, kerr.BrokerNotAvailable)
}
