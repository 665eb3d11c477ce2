package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"": slog.LevelInfo, "DEBUG": slog.LevelDebug, "warning": slog.LevelWarn, "error": slog.LevelError}
	for name, want := range cases {
		got, err := ParseLevel(name)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestStartSpanNestsUnderTrace(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "debug")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	ctx := WithLogger(context.Background(), logger)
	ctx = WithTraceID(ctx, "trace-1")

	parentCtx, parent := StartSpan(ctx, "parent")
	childCtx, child := StartSpan(parentCtx, "child", slog.String("kind", "friend"))
	if SpanIDFromContext(childCtx) == SpanIDFromContext(parentCtx) {
		t.Fatal("child span should have its own id")
	}
	child.Fail(errors.New("boom"))
	child.End()
	parent.End()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two entries got %d: %s", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry["msg"] != "span failed" || entry["kind"] != "friend" || entry["parent_span_id"] != SpanIDFromContext(parentCtx) {
		t.Fatalf("unexpected child entry %v", entry)
	}
	if entry["trace_id"] != nil {
		t.Fatalf("existing trace should not be re-added to the logger: %v", entry)
	}
}

func TestContextAccessorsTolerateEmptyValues(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if RequestIDFromContext(ctx) != "" {
		t.Fatal("expected empty request id")
	}
	if FromContext(nil) != slog.Default() {
		t.Fatal("expected default logger for nil context")
	}
}
