package toolregistry

import (
	"context"
	"testing"

	"github.com/chatforge/core/internal/mcp"
)

func TestManagerAdapterToolNamesFalseForUnknownServer(t *testing.T) {
	adapter := NewManagerAdapter(mcp.NewManager(&mcp.Config{Enabled: true}, nil))
	_, ok := adapter.ToolNames("unknown-server")
	if ok {
		t.Errorf("expected ok=false for a server with no connected client")
	}
}

func TestManagerAdapterCallToolErrorsForUnknownServer(t *testing.T) {
	adapter := NewManagerAdapter(mcp.NewManager(&mcp.Config{Enabled: true}, nil))
	_, err := adapter.CallTool(context.Background(), "unknown-server", "search", nil)
	if err == nil {
		t.Errorf("expected an error calling a tool on an unconnected server")
	}
}
