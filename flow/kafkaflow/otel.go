// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafkaflow

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/streamfold/flow/kafkaflow"

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func defaultLogger() *slog.Logger {
	return slog.Default().With(slog.String("component", instrumentationName))
}
