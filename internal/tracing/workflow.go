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

// RunSpan wraps a span covering one workflow run or step execution.
type RunSpan struct {
	span trace.Span
}

// StartRun opens the root span for a workflow run.
func StartRun(ctx context.Context, tracer trace.Tracer, runID, workflowName string) (context.Context, *RunSpan) {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("workflow.run %s", workflowName),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("workflow.name", workflowName),
			attribute.String("workflow.run_id", runID),
		),
	)
	return ctx, &RunSpan{span: span}
}

// StartStep opens a child span for one step's execution.
func StartStep(ctx context.Context, tracer trace.Tracer, stepName, stepKind string) (context.Context, *RunSpan) {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("step %s", stepName),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("step.name", stepName),
			attribute.String("step.kind", stepKind),
		),
	)
	return ctx, &RunSpan{span: span}
}

// SetAttributes records step/run metadata known only after the call
// completes: model used, tokens consumed, confidence, attempt count.
func (s *RunSpan) SetAttributes(attrs map[string]any) {
	if s == nil || s.span == nil {
		return
	}
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			kvs = append(kvs, attribute.String(k, val))
		case int:
			kvs = append(kvs, attribute.Int(k, val))
		case int64:
			kvs = append(kvs, attribute.Int64(k, val))
		case float64:
			kvs = append(kvs, attribute.Float64(k, val))
		case bool:
			kvs = append(kvs, attribute.Bool(k, val))
		default:
			kvs = append(kvs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	s.span.SetAttributes(kvs...)
}

// RecordError marks the span as failed.
func (s *RunSpan) RecordError(err error) {
	if s == nil || s.span == nil || err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// SetOK marks the span as having completed successfully.
func (s *RunSpan) SetOK() {
	if s == nil || s.span == nil {
		return
	}
	s.span.SetStatus(codes.Ok, "")
}

// End closes the span.
func (s *RunSpan) End() {
	if s == nil || s.span == nil {
		return
	}
	s.span.End()
}
