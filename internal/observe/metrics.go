// Package observe provides the observability primitives used across the
// dictation pipeline: OpenTelemetry metrics, tracing, trace-aware structured
// logging and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter bridge so they can be scraped from /metrics.
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/HeroTools/open-whispr-sub004"

// Pipeline steps recorded with [Metrics.RecordStep].
const (
	StepCapture       = "capture"
	StepTranscribe    = "transcribe"
	StepLanguageRetry = "language_retry"
	StepFallback      = "fallback"
	StepCorrection    = "correction"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// StepDuration tracks the latency of one pipeline step. Attributes:
	//   attribute.String("step", ...), attribute.String("backend", ...)
	StepDuration metric.Float64Histogram

	// SessionDuration tracks the time from stop to delivery.
	SessionDuration metric.Float64Histogram

	// Sessions counts finished dictation sessions by outcome.
	Sessions metric.Int64Counter

	// LanguageDecisions counts resolver decisions by reason.
	LanguageDecisions metric.Int64Counter

	// ProviderRequests counts backend and LLM calls. Attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts backend and LLM errors by provider and kind.
	ProviderErrors metric.Int64Counter

	// ActiveSessions is 1 while a dictation session is in progress.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks probe server latency. Attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, spanning a fast
// pinned-language cloud call up to a large local model on CPU.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StepDuration, err = m.Float64Histogram("openwhispr.step.duration",
		metric.WithDescription("Latency of a dictation pipeline step."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("openwhispr.session.duration",
		metric.WithDescription("Time from end of recording to delivered text."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Sessions, err = m.Int64Counter("openwhispr.sessions",
		metric.WithDescription("Finished dictation sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.LanguageDecisions, err = m.Int64Counter("openwhispr.language.decisions",
		metric.WithDescription("Language resolver decisions by reason."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("openwhispr.provider.requests",
		metric.WithDescription("Provider calls by provider, kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("openwhispr.provider.errors",
		metric.WithDescription("Provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("openwhispr.active_sessions",
		metric.WithDescription("Dictation sessions in progress."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("openwhispr.http.request.duration",
		metric.WithDescription("Probe server request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, created on
// first use from [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStep records how long one pipeline step took.
func (m *Metrics) RecordStep(ctx context.Context, step, backend string, d time.Duration) {
	m.StepDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("step", step),
			attribute.String("backend", backend),
		),
	)
}

// RecordSession counts a finished session and records its duration.
func (m *Metrics) RecordSession(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Sessions.Add(ctx, 1, attrs)
	if d > 0 {
		m.SessionDuration.Record(ctx, d.Seconds(), attrs)
	}
}

// RecordLanguageDecision counts a resolver decision.
func (m *Metrics) RecordLanguageDecision(ctx context.Context, reason string, retry bool) {
	m.LanguageDecisions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("reason", reason),
			attribute.Bool("retry", retry),
		),
	)
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError counts one provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
