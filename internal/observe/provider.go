package observe

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName defaults to "openwhispr".
	ServiceName    string
	ServiceVersion string

	// TraceExporter receives finished spans in batches. Optional.
	TraceExporter sdktrace.SpanExporter

	// StepLog, when set, receives one debug record per finished pipeline
	// span with its duration and session attributes.
	StepLog *slog.Logger
}

// InitProvider installs global meter and tracer providers. Metrics are
// exposed through a Prometheus exporter bridge for the /metrics probe.
// The returned function flushes and shuts both down.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "openwhispr"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	if cfg.StepLog != nil {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(NewStepLogger(cfg.StepLog)))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// stepLogger logs finished dictation and provider spans. Probe requests are
// skipped.
type stepLogger struct {
	log *slog.Logger
}

// NewStepLogger returns a span processor that writes the duration of each
// finished pipeline span to log at debug level.
func NewStepLogger(log *slog.Logger) sdktrace.SpanProcessor {
	return &stepLogger{log: log}
}

func (p *stepLogger) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *stepLogger) OnEnd(s sdktrace.ReadOnlySpan) {
	if strings.HasPrefix(s.Name(), "probe ") {
		return
	}
	attrs := []slog.Attr{
		slog.String("step", s.Name()),
		slog.Duration("took", s.EndTime().Sub(s.StartTime())),
		slog.String("trace_id", s.SpanContext().TraceID().String()),
	}
	for _, kv := range s.Attributes() {
		attrs = append(attrs, slog.String(string(kv.Key), kv.Value.Emit()))
	}
	if st := s.Status(); st.Description != "" {
		attrs = append(attrs, slog.String("error", st.Description))
	}
	p.log.LogAttrs(context.Background(), slog.LevelDebug, "step timing", attrs...)
}

func (p *stepLogger) Shutdown(context.Context) error   { return nil }
func (p *stepLogger) ForceFlush(context.Context) error { return nil }
