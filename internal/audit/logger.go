package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Logger is a structured, async-buffered audit logger with configurable
// privacy controls (input/output hashing, field truncation) and event
// sampling.
type Logger struct {
	config  Config
	output  io.WriteCloser
	slogger *slog.Logger
	buffer  chan *Event
	wg      sync.WaitGroup
	done    chan struct{}
}

// NewLogger builds an audit Logger. A disabled config returns a no-op
// Logger whose Log calls are all silently dropped.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}

	if config.SampleRate == 0 {
		config.SampleRate = 1.0
	}
	if config.BufferSize == 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.MaxFieldSize == 0 {
		config.MaxFieldSize = 1024
	}

	var output io.WriteCloser
	switch {
	case config.Output == "stdout" || config.Output == "":
		output = os.Stdout
	case config.Output == "stderr":
		output = os.Stderr
	case strings.HasPrefix(config.Output, "file:"):
		path := strings.TrimPrefix(config.Output, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("audit: open log file: %w", err)
		}
		output = f
	default:
		return nil, fmt.Errorf("audit: unsupported output %q", config.Output)
	}

	l := &Logger{
		config: config,
		output: output,
		buffer: make(chan *Event, config.BufferSize),
		done:   make(chan struct{}),
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: l.slogLevel()}
	if config.Format == FormatText {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}
	l.slogger = slog.New(handler).With("component", "audit")

	l.wg.Add(1)
	go l.writeLoop()

	return l, nil
}

// Close flushes remaining events and releases the output writer.
func (l *Logger) Close() error {
	if !l.config.Enabled {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	if l.output != os.Stdout && l.output != os.Stderr {
		return l.output.Close()
	}
	return nil
}

// Log writes one audit event, subject to sampling and level filtering.
func (l *Logger) Log(ctx context.Context, event *Event) {
	if !l.config.Enabled {
		return
	}
	if l.config.SampleRate < 1.0 && rand.Float64() > l.config.SampleRate {
		return
	}
	if !l.shouldLog(event.Level) {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.TraceID == "" || event.SpanID == "" {
		sc := trace.SpanContextFromContext(ctx)
		if sc.HasTraceID() && event.TraceID == "" {
			event.TraceID = sc.TraceID().String()
		}
		if sc.HasSpanID() && event.SpanID == "" {
			event.SpanID = sc.SpanID().String()
		}
	}

	select {
	case l.buffer <- event:
	default:
		l.writeEvent(event)
	}
}

// LogToolInvocation logs a tool being dispatched.
func (l *Logger) LogToolInvocation(ctx context.Context, userID, toolName, toolCallID string, input json.RawMessage) {
	details := map[string]any{}
	if l.config.IncludeToolInput && input != nil {
		s := string(input)
		if len(s) > l.config.MaxFieldSize {
			s = s[:l.config.MaxFieldSize] + "...(truncated)"
		}
		details["input"] = s
	} else if input != nil {
		details["input_hash"] = hashString(string(input))
	}
	l.Log(ctx, &Event{
		Type: EventToolInvocation, Level: LevelInfo, UserID: userID,
		ToolName: toolName, ToolCallID: toolCallID, Action: "tool_invoked", Details: details,
	})
}

// LogToolCompletion logs a tool dispatch's outcome.
func (l *Logger) LogToolCompletion(ctx context.Context, userID, toolName, toolCallID string, success bool, output string, duration time.Duration) {
	level := LevelInfo
	if !success {
		level = LevelWarn
	}
	details := map[string]any{"success": success, "duration_ms": duration.Milliseconds()}
	if l.config.IncludeToolOutput && output != "" {
		s := output
		if len(s) > l.config.MaxFieldSize {
			s = s[:l.config.MaxFieldSize] + "...(truncated)"
		}
		details["output"] = s
	} else if output != "" {
		details["output_size"] = len(output)
	}
	l.Log(ctx, &Event{
		Type: EventToolCompletion, Level: level, UserID: userID,
		ToolName: toolName, ToolCallID: toolCallID, Action: "tool_completed", Details: details, Duration: duration,
	})
}

// LogToolDenied logs a tool call refused by scope/premium/usage gating.
func (l *Logger) LogToolDenied(ctx context.Context, userID, toolName, toolCallID, reason string) {
	l.Log(ctx, &Event{
		Type: EventToolDenied, Level: LevelWarn, UserID: userID,
		ToolName: toolName, ToolCallID: toolCallID, Action: "tool_denied",
		Details: map[string]any{"reason": reason},
	})
}

// LogGuardrailViolation logs an assistant response the output guardrail
// replaced with a fallback message.
func (l *Logger) LogGuardrailViolation(ctx context.Context, userID, rule string) {
	l.Log(ctx, &Event{
		Type: EventGuardrailViolation, Level: LevelWarn, UserID: userID,
		Action: "guardrail_violation", Details: map[string]any{"rule": rule},
	})
}

// LogDelegationHandoff logs one agent delegating a sub-task to another.
func (l *Logger) LogDelegationHandoff(ctx context.Context, userID, fromAgentID, toAgentID string, depth int) {
	l.Log(ctx, &Event{
		Type: EventDelegationHandoff, Level: LevelInfo, UserID: userID, AgentID: toAgentID,
		Action: "delegation_handoff",
		Details: map[string]any{"from_agent_id": fromAgentID, "to_agent_id": toAgentID, "depth": depth},
	})
}

// LogDelegationDenied logs a delegation blocked by a cycle, depth, or
// rate-limit check.
func (l *Logger) LogDelegationDenied(ctx context.Context, userID, fromAgentID, toAgentID, reason string) {
	l.Log(ctx, &Event{
		Type: EventDelegationDenied, Level: LevelWarn, UserID: userID, AgentID: toAgentID,
		Action:  "delegation_denied",
		Details: map[string]any{"from_agent_id": fromAgentID, "to_agent_id": toAgentID, "reason": reason},
	})
}

// LogUsageLimitDenied logs a request refused by a usage-limit check.
func (l *Logger) LogUsageLimitDenied(ctx context.Context, userID, model, toolType string) {
	l.Log(ctx, &Event{
		Type: EventUsageLimitDenied, Level: LevelWarn, UserID: userID,
		Action:  "usage_limit_denied",
		Details: map[string]any{"model": model, "tool_type": toolType},
	})
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		case <-ticker.C:
			l.flushBuffer()
		case <-l.done:
			l.flushBuffer()
			return
		}
	}
}

func (l *Logger) flushBuffer() {
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		default:
			return
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	attrs := []any{
		"audit_id", event.ID,
		"audit_type", event.Type,
		"action", event.Action,
		"timestamp", event.Timestamp.Format(time.RFC3339Nano),
	}
	if event.UserID != "" {
		attrs = append(attrs, "user_id", event.UserID)
	}
	if event.AgentID != "" {
		attrs = append(attrs, "agent_id", event.AgentID)
	}
	if event.ToolName != "" {
		attrs = append(attrs, "tool_name", event.ToolName)
	}
	if event.ToolCallID != "" {
		attrs = append(attrs, "tool_call_id", event.ToolCallID)
	}
	if event.TraceID != "" {
		attrs = append(attrs, "trace_id", event.TraceID)
	}
	if event.SpanID != "" {
		attrs = append(attrs, "span_id", event.SpanID)
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration_ms", event.Duration.Milliseconds())
	}
	if event.Error != "" {
		attrs = append(attrs, "error", event.Error)
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	switch event.Level {
	case LevelDebug:
		l.slogger.Debug("audit", attrs...)
	case LevelWarn:
		l.slogger.Warn("audit", attrs...)
	case LevelError:
		l.slogger.Error("audit", attrs...)
	default:
		l.slogger.Info("audit", attrs...)
	}
}

func (l *Logger) shouldLog(level Level) bool {
	rank := map[Level]int{LevelDebug: 0, LevelInfo: 1, LevelWarn: 2, LevelError: 3}
	return rank[level] >= rank[l.config.Level]
}

func (l *Logger) slogLevel() slog.Level {
	switch l.config.Level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}
