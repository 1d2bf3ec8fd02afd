package logging

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestUseRestoresPreviousLogger(t *testing.T) {
	before := GetLogger()
	core, logs := observer.New(zapcore.InfoLevel)
	restore := Use(zap.New(core))

	Info("hello", zap.String("key", "value"))
	restore()

	if GetLogger() != before {
		t.Fatal("expected the previous logger to be restored")
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["service"] != serviceName {
		t.Errorf("expected service field %q, got %v", serviceName, fields["service"])
	}
	if fields["key"] != "value" {
		t.Errorf("expected key=value, got %v", fields["key"])
	}
}

func TestWithTraceContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	defer Use(zap.New(core))()

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	FromContext(ctx).Warn("traced")
	FromContext(context.Background()).Warn("untraced")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	traced := entries[0].ContextMap()
	if traced["trace_id"] != traceID.String() || traced["span_id"] != spanID.String() {
		t.Errorf("expected trace fields, got %v", traced)
	}
	if _, ok := entries[1].ContextMap()["trace_id"]; ok {
		t.Error("expected no trace_id without a span")
	}
}

func TestInitLoggerWithoutEndpoint(t *testing.T) {
	defer Use(GetLogger())()
	if err := InitLogger(Options{ServiceName: "logging-test", Debug: true}); err != nil {
		t.Fatalf("InitLogger: %v", err)
	}
	defer func() { serviceName = "payments-e2e" }()
	if loggerProvider != nil {
		t.Error("expected no OTLP provider without an endpoint")
	}
	if !GetLogger().Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug level to be enabled")
	}
}

type syncCounter struct {
	zapcore.Core
	syncs int
}

func (c *syncCounter) Sync() error {
	c.syncs++
	return nil
}

func TestInitLoggerSyncsReplacedLogger(t *testing.T) {
	counter := &syncCounter{Core: zapcore.NewNopCore()}
	replaced := zap.New(counter)
	defer Use(replaced)()

	if err := InitLogger(Options{ServiceName: serviceName}); err != nil {
		t.Fatal(err)
	}
	if counter.syncs != 1 {
		t.Errorf("expected the replaced logger to be synced once, got %d", counter.syncs)
	}
	if GetLogger() == replaced {
		t.Fatal("expected InitLogger to install a new logger")
	}
}
