package config

import "github.com/chatforge/core/internal/audit"

// AuditConfig is audit.Config verbatim: chatcored's config file configures
// the audit logger with the same knobs the logger itself exposes.
type AuditConfig = audit.Config

func applyAuditDefaults(cfg *AuditConfig) {
	defaults := audit.DefaultConfig()
	if cfg.Level == "" {
		cfg.Level = defaults.Level
	}
	if cfg.Format == "" {
		cfg.Format = defaults.Format
	}
	if cfg.Output == "" {
		cfg.Output = defaults.Output
	}
	if cfg.MaxFieldSize == 0 {
		cfg.MaxFieldSize = defaults.MaxFieldSize
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = defaults.SampleRate
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
}
