package log

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithCtxAddsKnownFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	prev := logger
	SetLogger(zap.New(core))
	defer SetLogger(prev)

	ctx := WithValue(context.Background(), ClientIDKey, "cli-1")
	ctx = WithValue(ctx, JobIDKey, "job-9")
	ctx = context.WithValue(ctx, "unrelated", "x")
	WithCtx(ctx).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["client_id"] != "cli-1" || fields["job_id"] != "job-9" {
		t.Errorf("missing context fields: %v", fields)
	}
	if _, ok := fields["unrelated"]; ok {
		t.Error("untyped context keys must not be logged")
	}
	if _, ok := fields["request_id"]; ok {
		t.Error("absent keys must not be logged")
	}
}
