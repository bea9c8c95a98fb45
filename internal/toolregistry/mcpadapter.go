package toolregistry

import (
	"context"
	"strings"

	"github.com/chatforge/core/internal/mcp"
	"github.com/chatforge/core/pkg/chatmodels"
)

// ManagerAdapter adapts an *mcp.Manager to the MCPDispatcher interface,
// translating between the registry's chatmodels.ToolResult and the MCP
// client's own ToolCallResult shape.
type ManagerAdapter struct {
	mgr *mcp.Manager
}

// NewManagerAdapter wraps mgr as an MCPDispatcher.
func NewManagerAdapter(mgr *mcp.Manager) *ManagerAdapter {
	return &ManagerAdapter{mgr: mgr}
}

var _ MCPDispatcher = (*ManagerAdapter)(nil)

// ToolNames lists the tools available on the server registered under
// shortAgentID.
func (a *ManagerAdapter) ToolNames(shortAgentID string) ([]string, bool) {
	client, ok := a.mgr.Client(shortAgentID)
	if !ok {
		return nil, false
	}
	tools := client.Tools()
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names, true
}

// CallTool invokes toolName on the server registered under shortAgentID and
// flattens the MCP result's content blocks into chatmodels.ToolResult's
// single Content string.
func (a *ManagerAdapter) CallTool(ctx context.Context, shortAgentID, toolName string, arguments map[string]any) (chatmodels.ToolResult, error) {
	result, err := a.mgr.CallTool(ctx, shortAgentID, toolName, arguments)
	if err != nil {
		return chatmodels.ToolResult{}, err
	}

	status := chatmodels.ToolStatusSuccess
	if result.IsError {
		status = chatmodels.ToolStatusError
	}
	return chatmodels.ToolResult{
		Status:  status,
		Name:    toolName,
		Content: flattenContent(result.Content),
	}, nil
}

func flattenContent(blocks []mcp.ToolResultContent) string {
	var b strings.Builder
	for i, c := range blocks {
		if i > 0 {
			b.WriteString("\n")
		}
		if c.Text != "" {
			b.WriteString(c.Text)
		} else if c.Data != "" {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}
