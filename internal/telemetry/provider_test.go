package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestInitTracerProvider_WithoutEndpointStillPropagates(t *testing.T) {
	ctx := context.Background()
	shutdown, err := InitTracerProvider(ctx, Config{ServiceName: "sweetbar-test", ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("init tracer provider: %v", err)
	}
	defer func() { _ = shutdown(ctx) }()

	spanCtx, span := otel.Tracer("test").Start(ctx, "parent")
	defer span.End()

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(spanCtx, carrier)
	if carrier.Get("traceparent") == "" {
		t.Fatal("expected traceparent to be injected")
	}
}

func TestNewHTTPClient_InjectsTraceparent(t *testing.T) {
	ctx := context.Background()
	shutdown, err := InitTracerProvider(ctx, Config{ServiceName: "sweetbar-test"})
	if err != nil {
		t.Fatalf("init tracer provider: %v", err)
	}
	defer func() { _ = shutdown(ctx) }()

	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("traceparent")
	}))
	defer srv.Close()

	spanCtx, span := otel.Tracer("test").Start(ctx, "outgoing")
	defer span.End()

	req, err := http.NewRequestWithContext(spanCtx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := NewHTTPClient(time.Second).Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	_ = resp.Body.Close()

	if header := <-got; header == "" {
		t.Fatal("expected traceparent header on outgoing request")
	}
}

func TestInitMeterProvider_Idempotent(t *testing.T) {
	first, err := InitMeterProvider(Config{ServiceName: "sweetbar-test"})
	if err != nil {
		t.Fatalf("first init: %v", err)
	}
	second, err := InitMeterProvider(Config{ServiceName: "sweetbar-test"})
	if err != nil {
		t.Fatalf("second init must reuse exporter: %v", err)
	}
	if first == nil || second == nil {
		t.Fatal("expected shutdown functions")
	}
}
