package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/sitewright/automation/intent"
	mw "github.com/sitewright/automation/middleware"
)

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

func TestTracing_CreatesSpan(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)
	in := intent.NewIntent("booking.create", nil)

	err := m(context.Background(), &in, func(_ context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "automation.intent.execute" {
		t.Errorf("expected span name %q, got %q", "automation.intent.execute", spans[0].Name())
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("expected Ok status, got %v", spans[0].Status().Code)
	}
}

func TestTracing_RecordsError(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)
	in := intent.NewIntent("booking.create", nil)

	want := errors.New("manager down")
	err := m(context.Background(), &in, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	status := spans[0].Status()
	if status.Code != codes.Error {
		t.Errorf("expected Error status, got %v", status.Code)
	}
	if status.Description != "manager down" {
		t.Errorf("expected error description, got %q", status.Description)
	}
}
