// Package tracing records flow runs as OpenTelemetry spans written to a
// per-flow trace file.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/devicelab-dev/uxflow/pkg/executor"

// Common attribute keys for flow tracing
var (
	AttrRunID      = attribute.Key("uxflow.run.id")
	AttrFlowIndex  = attribute.Key("uxflow.flow.index")
	AttrFlowName   = attribute.Key("uxflow.flow.name")
	AttrStepIndex  = attribute.Key("uxflow.step.index")
	AttrActionType = attribute.Key("uxflow.step.action_type")
	AttrSelector   = attribute.Key("uxflow.step.selector")
	AttrSkipped    = attribute.Key("uxflow.step.skipped")
)

// Provider owns the spans of one flow run.
type Provider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	out      io.Closer
}

// NewProvider exports spans as JSON to w. Shutdown flushes and closes w.
func NewProvider(w io.WriteCloser, attrs ...attribute.KeyValue) (*Provider, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	attrs = append([]attribute.KeyValue{attribute.String("service.name", "uxflow")}, attrs...)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attrs...)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	return &Provider{
		provider: provider,
		tracer:   provider.Tracer(tracerName),
		out:      w,
	}, nil
}

// Noop returns a provider whose spans are discarded.
func Noop() *Provider {
	return &Provider{tracer: noop.NewTracerProvider().Tracer(tracerName)}
}

// Tracer returns the provider's tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Start starts a span.
func (p *Provider) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Shutdown flushes pending spans and closes the trace writer.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	err := p.provider.Shutdown(ctx)
	if p.out != nil {
		if cerr := p.out.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// End finishes span, recording err if set.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
