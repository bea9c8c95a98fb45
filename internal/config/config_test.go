package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
providers:
  default: anthropic
  anthropic:
    api_key: test-key
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host default = %q, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("Server.HTTPPort default = %d, want 8080", cfg.Server.HTTPPort)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver default = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("Cache.Backend default = %q, want memory", cfg.Cache.Backend)
	}
	if cfg.Providers.Anthropic.DefaultModel == "" {
		t.Error("Providers.Anthropic.DefaultModel should default, got empty")
	}
	if cfg.RAG.TopK != 5 {
		t.Errorf("RAG.TopK default = %d, want 5", cfg.RAG.TopK)
	}
	if cfg.Delegation.MaxDelegationDepth != 3 {
		t.Errorf("Delegation.MaxDelegationDepth default = %d, want 3", cfg.Delegation.MaxDelegationDepth)
	}
	if cfg.Audit.Enabled {
		t.Error("Audit.Enabled should default to false")
	}
}

func TestLoadRejectsMissingDefaultProvider(t *testing.T) {
	path := writeConfigFile(t, `
providers:
  anthropic:
    api_key: test-key
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing providers.default, got nil")
	}
}

func TestLoadRejectsUnknownDefaultProvider(t *testing.T) {
	path := writeConfigFile(t, `
providers:
  default: openai
  anthropic:
    api_key: test-key
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for providers.default with no matching entry, got nil")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfigFile(t, `
providers:
  default: anthropic
  anthropic:
    api_key: test-key
not_a_real_field: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

func TestLoadRejectsInvalidDatabaseDriver(t *testing.T) {
	path := writeConfigFile(t, `
providers:
  default: anthropic
  anthropic:
    api_key: test-key
database:
  driver: mysql
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported database.driver, got nil")
	}
}

func TestLoadExpandsEnvAndIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(basePath, []byte(`
database:
  url: "postgres://localhost/chatcore"
`), 0o644); err != nil {
		t.Fatalf("write base config: %v", err)
	}

	t.Setenv("CHATCORE_TEST_KEY", "env-resolved-key")
	mainPath := filepath.Join(dir, "main.yaml")
	if err := os.WriteFile(mainPath, []byte(`
$include: base.yaml
providers:
  default: anthropic
  anthropic:
    api_key: "${CHATCORE_TEST_KEY}"
`), 0o644); err != nil {
		t.Fatalf("write main config: %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.URL != "postgres://localhost/chatcore" {
		t.Errorf("Database.URL = %q, want value from included file", cfg.Database.URL)
	}
	if cfg.Providers.Anthropic.APIKey != "env-resolved-key" {
		t.Errorf("Providers.Anthropic.APIKey = %q, want env-expanded value", cfg.Providers.Anthropic.APIKey)
	}
}
