// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PipelineSpan wraps an OpenTelemetry span with pipeline-specific helpers.
// A nil *PipelineSpan is valid and does nothing.
type PipelineSpan struct {
	span trace.Span
}

// StartPipelineRun creates the root span for a pipeline run.
func StartPipelineRun(ctx context.Context, tracer trace.Tracer, runID, pipeline string) (context.Context, *PipelineSpan) {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("pipeline.run: %s", pipeline),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pipeline.name", pipeline),
			attribute.String("pipeline.run_id", runID),
			attribute.String("span.type", "pipeline.run"),
		),
	)

	return ctx, &PipelineSpan{span: span}
}

// StartStep creates a span for one leaf step.
func StartStep(ctx context.Context, tracer trace.Tracer, step, ref string) (context.Context, *PipelineSpan) {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("step: %s", step),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("step.name", step),
			attribute.String("step.ref", ref),
			attribute.String("span.type", "pipeline.step"),
		),
	)

	return ctx, &PipelineSpan{span: span}
}

// SetAttributes adds key-value attributes to the span.
func (p *PipelineSpan) SetAttributes(attrs map[string]any) {
	if p == nil || p.span == nil {
		return
	}
	p.span.SetAttributes(toAttributes(attrs)...)
}

// AddEvent records a timestamped event within the span.
func (p *PipelineSpan) AddEvent(name string, attrs map[string]any) {
	if p == nil || p.span == nil {
		return
	}
	p.span.AddEvent(name, trace.WithAttributes(toAttributes(attrs)...))
}

// RecordError records err and marks the span as failed.
func (p *PipelineSpan) RecordError(err error) {
	if p == nil || p.span == nil || err == nil {
		return
	}

	p.span.RecordError(err)
	p.span.SetStatus(codes.Error, err.Error())
}

// SetOK marks the span as successful.
func (p *PipelineSpan) SetOK() {
	if p == nil || p.span == nil {
		return
	}
	p.span.SetStatus(codes.Ok, "")
}

// End marks the span as complete.
func (p *PipelineSpan) End() {
	if p == nil || p.span == nil {
		return
	}

	p.span.End()
}

// TraceID returns the trace ID, or "" when the span is not sampled.
func (p *PipelineSpan) TraceID() string {
	if p == nil || p.span == nil {
		return ""
	}

	sc := p.span.SpanContext()
	if !sc.HasTraceID() || !sc.IsSampled() {
		return ""
	}
	return sc.TraceID().String()
}

func toAttributes(attrs map[string]any) []attribute.KeyValue {
	otelAttrs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			otelAttrs = append(otelAttrs, attribute.String(k, val))
		case int:
			otelAttrs = append(otelAttrs, attribute.Int(k, val))
		case int64:
			otelAttrs = append(otelAttrs, attribute.Int64(k, val))
		case float64:
			otelAttrs = append(otelAttrs, attribute.Float64(k, val))
		case bool:
			otelAttrs = append(otelAttrs, attribute.Bool(k, val))
		default:
			otelAttrs = append(otelAttrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return otelAttrs
}
