package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, recorded := observer.New(zapcore.DebugLevel)
	setLogger(zap.New(core))
	traceID.Store("")
	generation.Store(0)
	t.Cleanup(func() {
		setLogger(zap.NewNop())
	})
	return recorded
}

func contextFields(entry observer.LoggedEntry) map[string]interface{} {
	fields := map[string]interface{}{}
	for _, field := range entry.Context {
		fields[field.Key] = field.Interface
		switch field.Type {
		case zapcore.StringType:
			fields[field.Key] = field.String
		case zapcore.Int64Type, zapcore.Uint64Type:
			fields[field.Key] = field.Integer
		}
	}
	return fields
}

func TestGenerationAddsLogFields(t *testing.T) {
	recorded := observe(t)

	SetTraceID("trace-123")
	SetGeneration(1)
	Infof("hello")

	logs := recorded.All()
	if len(logs) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(logs))
	}

	fields := contextFields(logs[0])
	if fields["trace_id"] != "trace-123" {
		t.Fatalf("expected trace_id to be trace-123, got %v", fields["trace_id"])
	}
	if fields["generation"] != int64(1) {
		t.Fatalf("expected generation to be 1, got %v", fields["generation"])
	}
	if fields["log_id"] != "trace-123-1" {
		t.Fatalf("expected log_id to be trace-123-1, got %v", fields["log_id"])
	}
}

func TestComponentLoggerPrefixAndFields(t *testing.T) {
	recorded := observe(t)

	base := Component("TTSWorker")
	scoped := base.With("worker", 1)
	scoped.Warnf("dial failed: %s", "boom")
	base.Debugf("idle")

	logs := recorded.All()
	if len(logs) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(logs))
	}
	if logs[0].Message != "TTSWorker: dial failed: boom" {
		t.Fatalf("unexpected message %q", logs[0].Message)
	}
	if logs[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level, got %v", logs[0].Level)
	}
	if fields := contextFields(logs[0]); fields["worker"] != int64(1) {
		t.Fatalf("expected worker field 1, got %v", fields["worker"])
	}
	if fields := contextFields(logs[1]); fields["worker"] != nil {
		t.Fatalf("With must not mutate the parent logger, got worker=%v", fields["worker"])
	}
}

func TestInitRejectsUnknownFormat(t *testing.T) {
	if err := Init(Config{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if err := Init(Config{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewTraceID(t *testing.T) {
	a, b := NewTraceID(), NewTraceID()
	if len(a) != 16 || len(b) != 16 {
		t.Fatalf("unexpected trace id length: %q %q", a, b)
	}
	if a == b {
		t.Fatalf("trace ids should differ: %q", a)
	}
}
