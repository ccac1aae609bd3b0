package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/patchd/internal/orchestrator"

// Metrics for session execution
var (
	sessionCounter  metric.Int64Counter
	sessionDuration metric.Float64Histogram
	phaseDuration   metric.Float64Histogram
)

// initMetrics initializes OpenTelemetry metrics for the orchestrator.
// This is called once during package initialization.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	sessionCounter, err = meter.Int64Counter(
		"patchd.sessions.total",
		metric.WithDescription("Total number of sessions by terminal outcome"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create session counter: %v", err))
	}

	sessionDuration, err = meter.Float64Histogram(
		"patchd.sessions.duration",
		metric.WithDescription("Duration of sessions from admission to terminal state"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create session duration histogram: %v", err))
	}

	phaseDuration, err = meter.Float64Histogram(
		"patchd.sessions.phase.duration",
		metric.WithDescription("Duration of individual session phases"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create phase duration histogram: %v", err))
	}
}

func init() {
	initMetrics()
}

func recordSession(ctx context.Context, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	sessionCounter.Add(ctx, 1, attrs)
	sessionDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func recordPhase(ctx context.Context, phase string, elapsed time.Duration) {
	phaseDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("phase", phase)))
}
