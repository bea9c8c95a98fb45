package config

import (
	"github.com/chatforge/core/internal/mcp"
	"github.com/chatforge/core/internal/sandbox"
)

// ToolsConfig configures the tool registry: MCP server connections and the
// sandbox execute_code runs untrusted code inside.
type ToolsConfig struct {
	MCP mcp.Config `yaml:"mcp"`

	Sandbox sandbox.Config `yaml:"sandbox"`

	// AllowedHosts, if non-empty, restricts call_api/browser_fetch to these
	// hostnames in addition to the SSRF guard's built-in blocklist.
	AllowedHosts []string `yaml:"allowed_hosts,omitempty"`
}

func applyToolsDefaults(cfg *ToolsConfig) {
	defaults := sandbox.DefaultConfig()
	if cfg.Sandbox.VCPUs == 0 {
		cfg.Sandbox.VCPUs = defaults.VCPUs
	}
	if cfg.Sandbox.MemSizeMB == 0 {
		cfg.Sandbox.MemSizeMB = defaults.MemSizeMB
	}
	if cfg.Sandbox.VsockCID == 0 {
		cfg.Sandbox.VsockCID = defaults.VsockCID
	}
}
