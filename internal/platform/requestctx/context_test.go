package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerDefaultsToNoop(t *testing.T) {
	ctx := context.Background()
	if HasLogger(ctx) {
		t.Fatalf("expected no logger on empty context")
	}
	if Logger(ctx) == nil {
		t.Fatalf("expected noop logger")
	}

	logger := zap.NewExample()
	ctx = WithLogger(ctx, logger)
	if !HasLogger(ctx) || Logger(ctx) != logger {
		t.Fatalf("expected attached logger")
	}
}

func TestStoreAndTrace(t *testing.T) {
	ctx := WithStoreID(context.Background(), "")
	if StoreID(ctx) != "" {
		t.Fatalf("empty store id must not be stored")
	}
	ctx = WithStoreID(ctx, "store_1")
	ctx = WithTrace(ctx, TraceInfo{TraceID: "abc", SpanID: "def"})
	if StoreID(ctx) != "store_1" || TraceID(ctx) != "abc" {
		t.Fatalf("unexpected context values: %q %q", StoreID(ctx), TraceID(ctx))
	}
}
