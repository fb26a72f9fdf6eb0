// Package tracing exports OpenTelemetry spans for pipeline runs and steps.
// When tracing is disabled the tracer falls back to the OTel noop provider,
// so call sites never need to branch.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	config "github.com/varilab/regsync/internal/config"
	"github.com/varilab/regsync/internal/domain/model"
	"github.com/varilab/regsync/internal/support/exception"
	"github.com/varilab/regsync/internal/support/logger"
)

const moduleName = "tracing"

// Tracer wraps an OTel tracer with run/step span helpers.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewTracer creates a Tracer from the application configuration. With
// tracing disabled it returns a noop-backed Tracer.
func NewTracer(cfg *config.Config) (*Tracer, error) {
	tc := cfg.Regsync.Tracing
	if !tc.Enabled {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("regsync")}, nil
	}

	exporter, err := newExporter(tc)
	if err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to create trace exporter", err, false, true)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(tc.ServiceName),
	))
	if err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to build trace resource", err, false, false)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	logger.Infof("Tracing enabled: exporting to %s via %s.", tc.Endpoint, tc.Protocol)

	return &Tracer{
		tracer:   provider.Tracer("regsync"),
		provider: provider,
	}, nil
}

// newExporter builds an OTLP exporter for the configured protocol.
func newExporter(tc config.TracingConfig) (*otlptrace.Exporter, error) {
	ctx := context.Background()
	switch tc.Protocol {
	case "grpc":
		return otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(tc.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
	case "", "http":
		return otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(tc.Endpoint),
			otlptracehttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported tracing protocol: %s", tc.Protocol)
	}
}

// StartRunSpan starts the root span for a pipeline run. The returned finish
// function ends the span with the run's final state.
func (t *Tracer) StartRunSpan(ctx context.Context, run *model.PipelineRun) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("regsync.run.id", run.ID),
			attribute.String("regsync.run.name", run.Name),
		))
	return ctx, func() {
		span.SetAttributes(attribute.String("regsync.run.state", string(run.State)))
		span.End()
	}
}

// StartStepSpan starts a child span for a processing step. The finish
// function records the step outcome and marks the span failed for any
// outcome other than success.
func (t *Tracer) StartStepSpan(ctx context.Context, step *model.ProcessingStep) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "pipeline.step."+step.Name,
		trace.WithAttributes(
			attribute.String("regsync.step.id", step.ID),
			attribute.String("regsync.step.type", step.Type),
			attribute.String("regsync.step.target_entity", step.TargetEntity),
		))
	return ctx, func() {
		span.SetAttributes(attribute.String("regsync.step.status", step.Status.String()))
		if step.Status != "" && step.Status != model.StepStatusSuccess {
			span.SetStatus(codes.Error, step.Status.String())
		}
		span.End()
	}
}

// RecordError records an error event on the current span.
func (t *Tracer) RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
}

// Shutdown flushes pending spans. A nil provider (tracing disabled) is a
// no-op.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
