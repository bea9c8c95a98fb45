// Package config loads and validates chatcored's YAML/JSON5 configuration
// file: $include-resolving, environment-variable-expanding, with unknown
// fields rejected at decode time.
package config

import (
	"fmt"
	"time"
)

// Config is chatcored's top-level configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Cache      CacheConfig      `yaml:"cache"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Router     RouterConfig     `yaml:"router"`
	RAG        RAGConfig        `yaml:"rag"`
	Tools      ToolsConfig      `yaml:"tools"`
	Delegation DelegationConfig `yaml:"delegation"`
	Usage      UsageConfig      `yaml:"usage"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Audit      AuditConfig      `yaml:"audit"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DatabaseConfig configures the conversation/message repository.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig configures the response/embedding cache shim.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend  string `yaml:"backend"`
	RedisURL string `yaml:"redis_url"`
	LRUSize  int    `yaml:"lru_size"`
}

// Load reads path, resolves $include directives, expands environment
// variables, decodes into a Config with unknown-field rejection, and
// applies defaults.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.LRUSize == 0 {
		cfg.Cache.LRUSize = 1000
	}
	applyProvidersDefaults(&cfg.Providers)
	applyRouterDefaults(&cfg.Router)
	applyRAGDefaults(&cfg.RAG)
	applyToolsDefaults(&cfg.Tools)
	applyDelegationDefaults(&cfg.Delegation)
	applyUsageDefaults(&cfg.Usage)
	applyLoggingDefaults(&cfg.Logging)
	applyTracingDefaults(&cfg.Tracing)
	applyAuditDefaults(&cfg.Audit)
}

func validateConfig(cfg *Config) error {
	if cfg.Providers.Default == "" {
		return fmt.Errorf("config: providers.default is required")
	}
	if _, ok := cfg.Providers.byName()[cfg.Providers.Default]; !ok {
		return fmt.Errorf("config: providers.default %q has no matching provider entry", cfg.Providers.Default)
	}
	if cfg.Database.Driver != "sqlite" && cfg.Database.Driver != "postgres" {
		return fmt.Errorf("config: database.driver must be \"sqlite\" or \"postgres\", got %q", cfg.Database.Driver)
	}
	if cfg.Cache.Backend != "memory" && cfg.Cache.Backend != "redis" {
		return fmt.Errorf("config: cache.backend must be \"memory\" or \"redis\", got %q", cfg.Cache.Backend)
	}
	return nil
}
