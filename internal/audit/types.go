// Package audit provides structured audit logging for tool invocations,
// delegation handoffs, guardrail violations, and usage-limit decisions.
package audit

import "time"

// EventType categorizes audit events.
type EventType string

const (
	EventToolInvocation EventType = "tool.invocation"
	EventToolCompletion EventType = "tool.completion"
	EventToolDenied     EventType = "tool.denied"

	EventGuardrailViolation EventType = "guardrail.violation"

	EventDelegationHandoff EventType = "delegation.handoff"
	EventDelegationDenied  EventType = "delegation.denied"

	EventUsageLimitDenied EventType = "usage.limit_denied"
)

// Level is audit log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is a single audit log entry.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Level      Level     `json:"level"`
	Timestamp  time.Time `json:"timestamp"`
	UserID     string    `json:"user_id,omitempty"`
	AgentID    string    `json:"agent_id,omitempty"`
	ToolName   string    `json:"tool_name,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	Action     string    `json:"action"`
	Details    map[string]any `json:"details,omitempty"`
	Duration   time.Duration  `json:"duration,omitempty"`
	Error      string         `json:"error,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	SpanID     string         `json:"span_id,omitempty"`
}

// OutputFormat is the audit log output format.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Config configures the audit logger.
type Config struct {
	Enabled bool         `json:"enabled" yaml:"enabled"`
	Level   Level        `json:"level" yaml:"level"`
	Format  OutputFormat `json:"format" yaml:"format"`

	// Output is where to write logs. Supported: "stdout", "stderr",
	// "file:/path/to/file.log".
	Output string `json:"output" yaml:"output"`

	// IncludeToolInput/Output determine whether tool input/output are
	// logged verbatim, vs. hashed/sized only. Off by default for
	// privacy-sensitive deployments.
	IncludeToolInput  bool `json:"include_tool_input" yaml:"include_tool_input"`
	IncludeToolOutput bool `json:"include_tool_output" yaml:"include_tool_output"`

	MaxFieldSize int `json:"max_field_size" yaml:"max_field_size"`

	// SampleRate controls what fraction of events are logged (0.0-1.0).
	SampleRate float64 `json:"sample_rate" yaml:"sample_rate"`

	BufferSize    int           `json:"buffer_size" yaml:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

// DefaultConfig returns a disabled-by-default audit configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		Level:             LevelInfo,
		Format:            FormatJSON,
		Output:            "stdout",
		IncludeToolInput:  false,
		IncludeToolOutput: false,
		MaxFieldSize:      1024,
		SampleRate:        1.0,
		BufferSize:        1000,
		FlushInterval:     5 * time.Second,
	}
}
