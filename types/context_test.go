package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	if _, ok := TraceID(ctx); ok {
		t.Fatalf("expected no trace id on empty context")
	}

	ctx = WithTraceID(ctx, "t1")
	if got, ok := TraceID(ctx); !ok || got != "t1" {
		t.Fatalf("TraceID mismatch: %v %v", got, ok)
	}

	ctx = WithTaskID(ctx, "task-7")
	if got, ok := TaskID(ctx); !ok || got != "task-7" {
		t.Fatalf("TaskID mismatch: %v %v", got, ok)
	}

	ctx = WithTaskID(ctx, "")
	if _, ok := TaskID(ctx); ok {
		t.Fatalf("empty task id should report not found")
	}
}
