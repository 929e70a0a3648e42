// Package mcp manages stdio connections to MCP (Model Context Protocol)
// tool servers: spawn, handshake, tool-catalog caching, call dispatch,
// and bounded-backoff reconnection (spec.md §4.2).
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	taskerrors "github.com/kadirpekel/taskorch/pkg/errors"
)

// State is a connection's lifecycle state (spec.md §4.2).
type State string

const (
	StateSpawning State = "spawning"
	StateReady    State = "ready"
	StateDegraded State = "degraded"
	StateDead     State = "dead"
)

// Config describes one MCP server to connect to (stdio transport only;
// spec.md §1 scopes this orchestrator to stdio tool servers).
type Config struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string

	// HandshakeTimeout bounds initialize + tools/list.
	HandshakeTimeout time.Duration

	// MaxReconnectAttempts bounds the exponential-backoff reconnection
	// loop before the server is marked dead.
	MaxReconnectAttempts int

	// ReconnectBaseDelay and ReconnectMaxDelay bound the backoff curve.
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

func (c *Config) setDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = 500 * time.Millisecond
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
}

// ToolDescriptor is one entry in a server's tool catalog.
type ToolDescriptor struct {
	Name        string // bare wire name, as reported by the server
	Description string
	InputSchema map[string]any
}

// Server owns one MCP child process connection and its tool catalog.
type Server struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	client  *client.Client
	state   State
	catalog []ToolDescriptor

	// catalogStale marks that the cached catalog predates the current
	// degraded episode; served as-is per spec.md §9 Open Question 4.
	catalogStale bool

	reconnectAttempts int
}

// NewServer constructs a Server in the spawning state. Connect must be
// called before use.
func NewServer(cfg Config, log *slog.Logger) *Server {
	cfg.setDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, log: log.With("mcp_server", cfg.Name), state: StateSpawning}
}

// Connect spawns the child process and performs the initialize + tools/list
// handshake.
func (s *Server) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *Server) connectLocked(ctx context.Context) error {
	env := make([]string, 0, len(s.cfg.Env))
	for k, v := range s.cfg.Env {
		env = append(env, k+"="+v)
	}

	mcpClient, err := client.NewStdioMCPClient(s.cfg.Command, env, s.cfg.Args...)
	if err != nil {
		s.state = StateDead
		return taskerrors.NewMCPSpawnError(s.cfg.Name, err)
	}

	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	if err := mcpClient.Start(hctx); err != nil {
		mcpClient.Close()
		s.state = StateDead
		return taskerrors.NewMCPSpawnError(s.cfg.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "taskorch", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"

	if _, err := mcpClient.Initialize(hctx, initReq); err != nil {
		mcpClient.Close()
		s.state = StateDead
		return taskerrors.NewMCPHandshakeError(s.cfg.Name, err)
	}

	listResp, err := mcpClient.ListTools(hctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		s.state = StateDead
		return taskerrors.NewMCPHandshakeError(s.cfg.Name, err)
	}

	catalog := make([]ToolDescriptor, 0, len(listResp.Tools))
	for _, t := range listResp.Tools {
		catalog = append(catalog, ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaToMap(t.InputSchema),
		})
	}

	s.client = mcpClient
	s.catalog = catalog
	s.catalogStale = false
	s.state = StateReady
	s.reconnectAttempts = 0
	s.log.Info("mcp server ready", "tools", len(catalog))
	return nil
}

// schemaToMap round-trips the MCP-reported schema through JSON to get a
// plain map, matching the library's own encoding rather than assuming
// field names (mirrors the teacher's convertSchema).
func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// State returns the server's current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Catalog returns the cached tool catalog. While degraded, the last
// known catalog is served stale rather than withheld (spec.md §9 Open
// Question 4), with a warning logged on each stale read.
func (s *Server) Catalog() []ToolDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDegraded && s.catalogStale {
		s.log.Warn("serving stale tool catalog during degraded state")
	}
	out := make([]ToolDescriptor, len(s.catalog))
	copy(out, s.catalog)
	return out
}

// CallTool invokes a tool on the connected server. Fails fast with
// MCPServerDead if the server has exhausted reconnection.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	s.mu.Lock()
	if s.state == StateDead {
		s.mu.Unlock()
		return nil, taskerrors.NewMCPServerDeadError(s.cfg.Name)
	}
	mcpClient := s.client
	s.mu.Unlock()

	if mcpClient == nil {
		return nil, taskerrors.NewMCPServerDeadError(s.cfg.Name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		s.markDegraded(err)
		return nil, taskerrors.NewMCPRPCError(s.cfg.Name, err)
	}

	return parseCallResult(resp), nil
}

func parseCallResult(resp *mcp.CallToolResult) map[string]any {
	if resp == nil {
		return map[string]any{}
	}
	out := map[string]any{"isError": resp.IsError}
	var texts []string
	for _, c := range resp.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	out["content"] = texts
	return out
}

func (s *Server) markDegraded(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReady {
		s.state = StateDegraded
		s.catalogStale = true
		s.log.Warn("mcp server degraded", "error", err)
	}
}

// Reconnect runs the bounded exponential-backoff reconnection loop
// (spec.md §4.2). Returns nil on success, or the last error once
// MaxReconnectAttempts is exhausted (after which the server is dead).
func (s *Server) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	attempts := s.reconnectAttempts
	maxAttempts := s.cfg.MaxReconnectAttempts
	s.mu.Unlock()

	if attempts >= maxAttempts {
		s.mu.Lock()
		s.state = StateDead
		s.mu.Unlock()
		return taskerrors.NewMCPServerDeadError(s.cfg.Name)
	}

	delay := backoffDelay(attempts, s.cfg.ReconnectBaseDelay, s.cfg.ReconnectMaxDelay)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.reconnectAttempts++
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	err := s.connectLocked(ctx)
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("reconnect attempt failed", "attempt", attempts+1, "error", err)
		if attempts+1 >= maxAttempts {
			s.mu.Lock()
			s.state = StateDead
			s.mu.Unlock()
			return err
		}
		return s.Reconnect(ctx)
	}
	return nil
}

func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}

// Close releases the underlying process.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateDead
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}
