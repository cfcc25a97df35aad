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
	"log/slog"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/singleflight"

	"github.com/omarrsalif594/sibyl-sub000/internal/log"
	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
	"github.com/omarrsalif594/sibyl-sub000/pkg/workspace"
)

// ManagerConfig configures the MCP manager.
type ManagerConfig struct {
	// Providers are the workspace's provider definitions
	Providers map[string]workspace.Provider

	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// Dialer creates clients (optional, defaults to Dial)
	Dialer Dialer

	// ClientName and ClientVersion are sent during initialization
	ClientName    string
	ClientVersion string
}

// Manager owns one lazily connected client per configured provider.
// Connections are established on first use and live until Close.
type Manager struct {
	providers map[string]workspace.Provider
	dialer    Dialer
	info      mcp.Implementation
	logger    *slog.Logger

	// dials collapses concurrent connects to the same provider; connects to
	// different providers proceed in parallel
	dials singleflight.Group

	// mu protects clients and closed. It is never held while dialing.
	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
}

// NewManager creates a manager for the given providers.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = Dial
	}
	info := mcp.Implementation{Name: cfg.ClientName, Version: cfg.ClientVersion}
	if info.Name == "" {
		info.Name = "sibyl"
	}
	if info.Version == "" {
		info.Version = "dev"
	}

	return &Manager{
		providers: cfg.Providers,
		dialer:    dialer,
		info:      info,
		logger:    log.WithComponent(logger, "mcp"),
		clients:   make(map[string]*Client),
	}
}

// Names returns the configured provider names in sorted order.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Provider returns the connected client for name, connecting on first use.
// Concurrent callers for the same provider share one connect attempt; a
// caller whose ctx ends stops waiting. Failures are reported as
// *errors.ResolutionError with a *ProviderError cause. A failed connection
// is not cached, so a later call retries.
func (m *Manager) Provider(ctx context.Context, name string) (*Client, error) {
	if c, err := m.cached(name); c != nil || err != nil {
		return c, err
	}

	cfg, ok := m.providers[name]
	if !ok {
		return nil, resolutionError(name, errUnknownProvider(name))
	}

	ch := m.dials.DoChan(name, func() (any, error) {
		return m.dial(ctx, name, cfg)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Client), nil
	case <-ctx.Done():
		return nil, resolutionError(name, errConnectFailed(name, context.Cause(ctx)))
	}
}

func (m *Manager) cached(name string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, resolutionError(name, errClosed(name))
	}
	return m.clients[name], nil
}

// dial connects and initializes a provider and stores the client unless
// the manager was closed in the meantime.
func (m *Manager) dial(ctx context.Context, name string, cfg workspace.Provider) (*Client, error) {
	if c, err := m.cached(name); c != nil || err != nil {
		return c, err
	}

	mcpClient, err := m.dialer(ctx, name, cfg)
	if err != nil {
		var provErr *ProviderError
		if errors.As(err, &provErr) {
			return nil, resolutionError(name, provErr)
		}
		return nil, resolutionError(name, errConnectFailed(name, err))
	}
	c, err := connect(ctx, name, cfg, mcpClient, m.logger, m.info)
	if err != nil {
		return nil, resolutionError(name, errConnectFailed(name, err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		_ = c.Close()
		return nil, resolutionError(name, errClosed(name))
	}
	m.clients[name] = c
	return c, nil
}

// Close closes every connected client. The manager rejects further use.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	var firstErr error
	for name, c := range m.clients {
		if err := c.Close(); err != nil {
			m.logger.Warn("failed to close MCP provider", slog.String(log.ProviderKey, name), log.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
		delete(m.clients, name)
	}
	return firstErr
}

func resolutionError(name string, cause *ProviderError) error {
	return &errors.ResolutionError{
		Kind:  "provider",
		Name:  name,
		Cause: cause,
	}
}
