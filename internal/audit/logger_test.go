package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLoggerDisabledIsNoOp(t *testing.T) {
	l, err := NewLogger(Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.Log(context.Background(), &Event{Type: EventToolInvocation, Action: "tool_invoked"})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Output = "file:" + path
	cfg.FlushInterval = 10 * time.Millisecond

	l, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.LogToolDenied(context.Background(), "user-1", "execute_code", "call-1", "premium required")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(data), "tool_denied") {
		t.Fatalf("expected tool_denied event in log, got %q", string(data))
	}
	if !strings.Contains(string(data), "execute_code") {
		t.Fatalf("expected tool name in log, got %q", string(data))
	}
}

func TestLoggerSamplingDropsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Output = "file:" + path
	cfg.SampleRate = 0
	cfg.FlushInterval = 10 * time.Millisecond

	l, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	for i := 0; i < 5; i++ {
		l.LogToolInvocation(context.Background(), "user-1", "call_api", "call-1", nil)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected no events logged at sample rate 0, got %q", string(data))
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Output = "file:" + path
	cfg.Level = LevelError
	cfg.FlushInterval = 10 * time.Millisecond

	l, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.LogToolInvocation(context.Background(), "user-1", "call_api", "call-1", nil) // info, filtered
	l.LogGuardrailViolation(context.Background(), "user-1", "secret-pattern")      // warn, filtered
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected info/warn events dropped at error level, got %q", string(data))
	}
}
