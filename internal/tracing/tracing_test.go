package tracing

import (
	"context"
	"net/http"
	"os"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
)

func setupTestTracing() func() {
	tp := trace.NewTracerProvider(trace.WithSampler(trace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return func() { _ = tp.Shutdown(context.Background()) }
}

func TestStartSpan(t *testing.T) {
	cleanup := setupTestTracing()
	defer cleanup()

	ctx, span := StartSpan(context.Background(), "test.operation")
	defer span.End()

	if !span.SpanContext().IsValid() {
		t.Error("StartSpan() produced an invalid span context")
	}
	if GetTraceID(ctx) == "" {
		t.Error("GetTraceID() empty inside an active span")
	}
}

func TestGetTraceIDWithoutSpan(t *testing.T) {
	if got := GetTraceID(context.Background()); got != "" {
		t.Errorf("GetTraceID() = %s, want empty without a span", got)
	}
}

func TestAddSpanEventAndSetSpanError(t *testing.T) {
	cleanup := setupTestTracing()
	defer cleanup()

	ctx, span := StartSpan(context.Background(), "test.operation")
	defer span.End()

	// These must not panic, with or without an active span
	AddSpanEvent(ctx, "something.happened")
	SetSpanError(ctx, context.DeadlineExceeded)
	SetSpanError(ctx, nil)
	AddSpanEvent(context.Background(), "no.span")
	SetSpanError(context.Background(), context.DeadlineExceeded)
}

func TestInjectAndExtractHTTPHeaders(t *testing.T) {
	cleanup := setupTestTracing()
	defer cleanup()

	ctx, span := StartSpan(context.Background(), "outbound.delivery")
	defer span.End()

	h := http.Header{}
	InjectHTTPHeaders(ctx, h)

	if h.Get("traceparent") == "" {
		t.Fatal("InjectHTTPHeaders() did not set traceparent")
	}

	extracted := ExtractHTTPHeaders(context.Background(), h)
	if got, want := GetTraceID(extracted), GetTraceID(ctx); got != want {
		t.Errorf("extracted trace id = %s, want %s", got, want)
	}
}

func TestGetOTLPEndpoint(t *testing.T) {
	original := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	defer func() {
		if original == "" {
			os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		} else {
			os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", original)
		}
	}()

	tests := []struct {
		name     string
		envValue string
		want     string
	}{
		{
			name:     "default",
			envValue: "",
			want:     "tempo:4318",
		},
		{
			name:     "plain host port",
			envValue: "collector:4318",
			want:     "collector:4318",
		},
		{
			name:     "http scheme stripped",
			envValue: "http://collector:4318",
			want:     "collector:4318",
		},
		{
			name:     "https scheme stripped",
			envValue: "https://collector:4318",
			want:     "collector:4318",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue == "" {
				os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT")
			} else {
				os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", tt.envValue)
			}
			if got := getOTLPEndpoint(); got != tt.want {
				t.Errorf("getOTLPEndpoint() = %s, want %s", got, tt.want)
			}
		})
	}
}
