package telemetry

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	endpointEnv   = "OTEL_EXPORTER_OTLP_ENDPOINT"
	sampleRateEnv = "OTEL_TRACE_SAMPLE_RATE"

	defaultSampleRate = 0.1
	exportTimeout     = 3 * time.Second
	setupTimeout      = 5 * time.Second
)

// noopShutdown satisfies the shutdown contract when tracing is off.
func noopShutdown(context.Context) error { return nil }

// Init wires the global trace provider against an OTLP/HTTP collector.
// Tracing is opted into by setting OTEL_EXPORTER_OTLP_ENDPOINT; without it
// the returned shutdown is a no-op and the process runs untraced. The
// returned shutdown flushes buffered spans and must be called on exit.
func Init(ctx context.Context, serviceName string, log *slog.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = slog.Default()
	}

	endpoint := strings.TrimSpace(os.Getenv(endpointEnv))
	if endpoint == "" {
		log.Info("tracing disabled", slog.String("reason", endpointEnv+" not set"))
		return noopShutdown, nil
	}
	// The otlptracehttp option wants host:port, not a URL.
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")

	setupCtx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	exporter, err := otlptracehttp.New(setupCtx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithTimeout(exportTimeout),
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{Enabled: false}),
	)
	if err != nil {
		log.Warn("trace exporter init failed, continuing untraced",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()))
		return noopShutdown, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, err
	}

	rate := sampleRate()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info("tracing enabled",
		slog.String("endpoint", endpoint),
		slog.Float64("sample_rate", rate))
	return tp.Shutdown, nil
}

// sampleRate reads OTEL_TRACE_SAMPLE_RATE, clamping to [0,1] with a 10%
// default on unset or unparsable values.
func sampleRate() float64 {
	raw := strings.TrimSpace(os.Getenv(sampleRateEnv))
	if raw == "" {
		return defaultSampleRate
	}
	rate, err := strconv.ParseFloat(raw, 64)
	if err != nil || rate < 0 || rate > 1 {
		return defaultSampleRate
	}
	return rate
}
