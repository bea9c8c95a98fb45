package config

import "time"

// DelegationConfig configures bounded agent-to-agent delegation, mirroring
// delegation.Config's tunables.
type DelegationConfig struct {
	MaxDelegationDepth      int           `yaml:"max_delegation_depth"`
	RateLimitWindow         time.Duration `yaml:"rate_limit_window"`
	MaxDelegationsPerWindow int           `yaml:"max_delegations_per_window"`
}

func applyDelegationDefaults(cfg *DelegationConfig) {
	if cfg.MaxDelegationDepth == 0 {
		cfg.MaxDelegationDepth = 3
	}
	if cfg.RateLimitWindow == 0 {
		cfg.RateLimitWindow = 60 * time.Second
	}
	if cfg.MaxDelegationsPerWindow == 0 {
		cfg.MaxDelegationsPerWindow = 10
	}
}
