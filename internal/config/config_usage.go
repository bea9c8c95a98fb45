package config

import "time"

// UsageConfig configures usage tracking, mirroring usage.TrackerConfig.
type UsageConfig struct {
	MaxAge   time.Duration `yaml:"max_age"`
	MaxCount int           `yaml:"max_count"`
}

func applyUsageDefaults(cfg *UsageConfig) {
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.MaxCount == 0 {
		cfg.MaxCount = 10000
	}
}
