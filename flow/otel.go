// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package flow

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/streamfold/flow"

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
