package runtime

import (
	"context"

	"github.com/omarrsalif594/sibyl-sub000/internal/mcp"
)

// ToolProvider is an external tool source reached over MCP.
type ToolProvider interface {
	// HasTool reports whether the provider offers tool.
	HasTool(ctx context.Context, tool string) (bool, error)

	// CallTool invokes tool and returns its decoded result.
	CallTool(ctx context.Context, tool string, args map[string]any) (any, error)
}

// ToolProviders looks up providers by workspace name. Lookup failures
// should be *errors.ResolutionError values.
type ToolProviders interface {
	Provider(ctx context.Context, name string) (ToolProvider, error)
}

// MCPProviders adapts an MCP manager to ToolProviders.
func MCPProviders(m *mcp.Manager) ToolProviders {
	return mcpProviders{manager: m}
}

type mcpProviders struct {
	manager *mcp.Manager
}

func (p mcpProviders) Provider(ctx context.Context, name string) (ToolProvider, error) {
	c, err := p.manager.Provider(ctx, name)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (p mcpProviders) Close() error {
	return p.manager.Close()
}
