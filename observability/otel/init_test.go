package otel

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"perq/config"
)

func TestInitWithoutExportersIsNoop(t *testing.T) {
	before := otel.GetTracerProvider()
	shutdown, err := Init(context.Background(), "test", config.TelemetryConfig{})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Fatalf("disabled telemetry replaced the tracer provider")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitInstallsTracerProvider(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	shutdown, err := Init(context.Background(), "test", config.TelemetryConfig{
		Endpoint: "127.0.0.1:4318",
		Insecure: true,
		Traces:   true,
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("expected sdk tracer provider, got %T", otel.GetTracerProvider())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestExporterDefaults(t *testing.T) {
	exp := exporterFrom(config.TelemetryConfig{Endpoint: "  ", Headers: "tenant=perq"})
	if exp.endpoint != DefaultEndpoint {
		t.Fatalf("expected default endpoint, got %q", exp.endpoint)
	}
	if exp.headers["tenant"] != "perq" || exp.insecure {
		t.Fatalf("unexpected exporter %+v", exp)
	}
}

func TestJoinShutdownStopsInReverse(t *testing.T) {
	var order []string
	errTrace := errors.New("trace flush")
	stop := joinShutdown([]func(context.Context) error{
		func(context.Context) error { order = append(order, "traces"); return errTrace },
		func(context.Context) error { order = append(order, "metrics"); return nil },
	})
	err := stop(context.Background())
	if !errors.Is(err, errTrace) {
		t.Fatalf("expected trace error, got %v", err)
	}
	if len(order) != 2 || order[0] != "metrics" || order[1] != "traces" {
		t.Fatalf("unexpected shutdown order %v", order)
	}
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = abc ,broken, =skip,tenant=perq")
	if len(headers) != 2 {
		t.Fatalf("unexpected headers %v", headers)
	}
	if headers["api-key"] != "abc" || headers["tenant"] != "perq" {
		t.Fatalf("unexpected values %v", headers)
	}
}
