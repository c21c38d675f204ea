package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const serviceName = "readable"

// InitTracing installs a tracer provider exporting spans to a rotated file.
// An empty traceFile leaves the global no-op provider in place.
func InitTracing(ctx context.Context, traceFile string) (trace.Tracer, func(), error) {
	if traceFile == "" {
		return otel.Tracer(serviceName), func() {}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create resource: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(traceFile), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create trace directory: %w", err)
	}
	out := &lumberjack.Logger{
		Filename:   traceFile,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
	if err != nil {
		return nil, nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			slog.Error("shutdown tracer provider", "error", err)
		}
		if err := out.Close(); err != nil {
			slog.Error("close trace file", "error", err)
		}
	}
	return tp.Tracer(serviceName), cleanup, nil
}
