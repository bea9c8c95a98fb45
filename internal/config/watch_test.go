package config

import (
	"os"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeConfigFile(t, `
providers:
  default: anthropic
  anthropic:
    api_key: first-key
`)

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, WatchOptions{Debounce: 10 * time.Millisecond}, func(cfg *Config) {
		reloaded <- cfg
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte(`
providers:
  default: anthropic
  anthropic:
    api_key: second-key
`), 0o644); err != nil {
		t.Fatalf("rewrite config file: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Providers.Anthropic.APIKey != "second-key" {
			t.Errorf("reloaded APIKey = %q, want second-key", cfg.Providers.Anthropic.APIKey)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
