package mcp

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	taskerrors "github.com/kadirpekel/taskorch/pkg/errors"
	"github.com/kadirpekel/taskorch/pkg/toolname"
)

// Manager owns the set of configured MCP servers for one orchestrator
// process and presents a single merged, canonical-named tool catalog
// (spec.md §4.2).
type Manager struct {
	log *slog.Logger

	mu      sync.RWMutex
	servers map[string]*Server

	group singleflight.Group
}

// NewManager creates an empty Manager.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log, servers: make(map[string]*Server)}
}

// AddServer registers a server configuration without connecting.
func (m *Manager) AddServer(cfg Config) *Server {
	m.mu.Lock()
	defer m.mu.Unlock()
	srv := NewServer(cfg, m.log)
	m.servers[cfg.Name] = srv
	return srv
}

// Server looks up a registered server by name.
func (m *Manager) Server(name string) (*Server, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[name]
	return s, ok
}

// ConnectAll connects every registered server concurrently, returning
// the first error encountered (but letting all connection attempts
// finish — per-server failures are independent).
func (m *Manager) ConnectAll(ctx context.Context) error {
	m.mu.RLock()
	servers := make([]*Server, 0, len(m.servers))
	for _, s := range m.servers {
		servers = append(servers, s)
	}
	m.mu.RUnlock()

	var g errgroup.Group
	for _, s := range servers {
		s := s
		g.Go(func() error {
			return s.Connect(ctx)
		})
	}
	return g.Wait()
}

// CatalogEntry is one tool in the merged, canonical-named catalog.
type CatalogEntry struct {
	Server      string
	Tool        string // canonical "server__tool" form
	Description string
	InputSchema map[string]any
}

// Catalog returns the merged tool catalog across every connected
// server, deduplicated via singleflight so concurrent callers during a
// reconnect storm share one read per server.
func (m *Manager) Catalog(ctx context.Context) []CatalogEntry {
	m.mu.RLock()
	servers := make([]*Server, 0, len(m.servers))
	for _, s := range m.servers {
		servers = append(servers, s)
	}
	m.mu.RUnlock()

	sort.Slice(servers, func(i, j int) bool { return servers[i].cfg.Name < servers[j].cfg.Name })

	var out []CatalogEntry
	for _, s := range servers {
		v, _, _ := m.group.Do(s.cfg.Name, func() (interface{}, error) {
			return s.Catalog(), nil
		})
		descriptors, _ := v.([]ToolDescriptor)
		for _, d := range descriptors {
			out = append(out, CatalogEntry{
				Server:      s.cfg.Name,
				Tool:        toolname.Canonical(s.cfg.Name, d.Name),
				Description: d.Description,
				InputSchema: d.InputSchema,
			})
		}
	}
	return out
}

// WireNames returns the bare wire-form tool names for one server, used
// by toolname.Resolve to disambiguate prefixed vs bare tool references.
func (m *Manager) WireNames(server string) []string {
	s, ok := m.Server(server)
	if !ok {
		return nil
	}
	names := make([]string, 0)
	for _, d := range s.Catalog() {
		names = append(names, d.Name)
	}
	return names
}

// Call resolves a tool reference to canonical form and dispatches it to
// the owning server. If the call fails and the server is not dead, it
// runs the server's reconnection loop once and retries the call; a
// failure on a dead server is returned without reconnecting.
func (m *Manager) Call(ctx context.Context, server, tool string, args map[string]any) (map[string]any, error) {
	s, ok := m.Server(server)
	if !ok {
		return nil, taskerrors.NewMCPServerDeadError(server)
	}

	canonical := toolname.Resolve(server, tool, m.WireNames(server))
	_, wire, _ := toolname.Split(canonical)

	result, err := s.CallTool(ctx, wire, args)
	if err == nil {
		return result, nil
	}

	if s.State() == StateDead {
		return nil, err
	}

	if rerr := s.Reconnect(ctx); rerr != nil {
		return nil, err
	}
	return s.CallTool(ctx, wire, args)
}

// CloseAll shuts down every registered server's child process.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.servers {
		if err := s.Close(); err != nil {
			m.log.Warn("error closing mcp server", "server", s.cfg.Name, "error", err)
		}
	}
}
