// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/time/rate"

	"github.com/omarrsalif594/sibyl-sub000/internal/log"
	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
	"github.com/omarrsalif594/sibyl-sub000/pkg/workspace"
)

// DefaultTimeout bounds a tool call when the provider sets no timeout.
const DefaultTimeout = 30 * time.Second

// Dialer creates an unstarted MCP client for a provider.
type Dialer func(ctx context.Context, name string, cfg workspace.Provider) (*client.Client, error)

// Dial creates a stdio or streamable HTTP client according to the
// provider's transport.
func Dial(ctx context.Context, name string, cfg workspace.Provider) (*client.Client, error) {
	switch cfg.Transport {
	case workspace.TransportStdio:
		if _, err := exec.LookPath(cfg.Command); err != nil {
			return nil, errCommandNotFound(name, cfg.Command, err)
		}
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		sort.Strings(env)
		return client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	case workspace.TransportHTTP:
		opts := []transport.StreamableHTTPCOption{}
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		return client.NewStreamableHttpClient(cfg.URL, opts...)
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

// Client is a connected, initialized MCP provider.
type Client struct {
	name    string
	client  *client.Client
	timeout time.Duration
	limiter *rate.Limiter
	allow   []string
	tools   map[string]mcp.Tool
	logger  *slog.Logger
}

// connect starts and initializes c and lists its tools.
func connect(ctx context.Context, name string, cfg workspace.Provider, mcpClient *client.Client, logger *slog.Logger, info mcp.Implementation) (*Client, error) {
	if err := mcpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	c := &Client{
		name:    name,
		client:  mcpClient,
		timeout: cfg.Timeout.Std(),
		allow:   cfg.Tools,
		tools:   make(map[string]mcp.Tool),
		logger:  log.WithProvider(logger, name),
	}
	if c.timeout == 0 {
		c.timeout = DefaultTimeout
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst == 0 {
			burst = int(math.Max(1, math.Ceil(cfg.RateLimit)))
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo:      info,
		},
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return nil, fmt.Errorf("initialize request failed: %w", err)
	}

	result, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = mcpClient.Close()
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	for _, tool := range result.Tools {
		c.tools[tool.Name] = tool
	}

	c.logger.Debug("mcp provider connected", slog.Int("tools", len(c.tools)))
	return c, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.name
}

// Tools returns the callable tool names in sorted order.
func (c *Client) Tools() []string {
	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		if c.allowed(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// HasTool reports whether the server lists tool and the provider's
// allowlist permits it.
func (c *Client) HasTool(_ context.Context, tool string) (bool, error) {
	if _, ok := c.tools[tool]; !ok {
		return false, nil
	}
	return c.allowed(tool), nil
}

func (c *Client) allowed(tool string) bool {
	if len(c.allow) == 0 {
		return true
	}
	for _, pattern := range c.allow {
		if matched, err := doublestar.Match(pattern, tool); err == nil && matched {
			return true
		}
	}
	return false
}

// CallTool invokes tool with args. It waits for the provider's rate limit,
// applies the provider timeout and decodes the tool's content. A result
// flagged as an error becomes a *errors.ExecutionError.
func (c *Client) CallTool(ctx context.Context, tool string, args map[string]any) (any, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return nil, cause
			}
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeoutCause(ctx, c.timeout, &errors.TimeoutError{
		Scope:     "tool",
		Operation: c.name + "/" + tool,
		Duration:  c.timeout,
	})
	defer cancel()

	start := time.Now()
	result, err := c.client.CallTool(callCtx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      tool,
			Arguments: args,
		},
	})
	c.logger.Debug("mcp tool called", slog.String("tool", tool), log.Duration(time.Since(start)))
	if err != nil {
		if cause := context.Cause(callCtx); cause != nil {
			return nil, cause
		}
		return nil, fmt.Errorf("tool call failed: %w", err)
	}

	output := decodeResult(result)
	if result.IsError {
		msg, _ := output.(string)
		if msg == "" {
			msg = "tool reported an error"
		}
		return nil, &errors.ExecutionError{
			Operation: fmt.Sprintf("mcp:%s/%s", c.name, tool),
			Message:   msg,
			Output:    output,
		}
	}
	return output, nil
}

// decodeResult prefers structured content. Otherwise text content is
// joined and decoded as JSON when it parses.
func decodeResult(result *mcp.CallToolResult) any {
	if result.StructuredContent != nil {
		return result.StructuredContent
	}

	var parts []string
	for _, content := range result.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, text.Text)
		}
	}
	if len(parts) == 0 {
		return nil
	}

	text := strings.Join(parts, "\n")
	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err == nil {
		return decoded
	}
	return text
}

// Close closes the connection to the MCP server.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close MCP client: %w", err)
	}
	return nil
}
