package config

// LoggingConfig configures telemetry.Logger. Output is not part of the file
// format — it's always a file path or "stdout"/"stderr", resolved to an
// io.Writer by the caller building a telemetry.LogConfig from this.
type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `yaml:"level"`
	// Format is "json" or "text".
	Format string `yaml:"format"`
	// Output is "stdout", "stderr", or a file path.
	Output string `yaml:"output"`

	AddSource      bool     `yaml:"add_source"`
	RedactPatterns []string `yaml:"redact_patterns,omitempty"`
}

// TracingConfig configures telemetry.Tracer.
type TracingConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`

	// Endpoint is the OTLP collector endpoint; tracing is disabled when empty.
	Endpoint string `yaml:"endpoint"`

	SamplingRate float64 `yaml:"sampling_rate"`

	Attributes map[string]string `yaml:"attributes,omitempty"`

	EnableInsecure bool `yaml:"enable_insecure"`
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTracingDefaults(cfg *TracingConfig) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "chatcored"
	}
	if cfg.SamplingRate == 0 {
		cfg.SamplingRate = 1.0
	}
}
