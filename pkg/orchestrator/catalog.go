package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/kadirpekel/taskorch/pkg/mcp"
)

// Catalog adapts mcp.Manager to the validate package's SchemaProvider
// and CatalogProvider interfaces. The manager's own Catalog read is
// already a cheap in-memory merge, but spec.md §4.3 describes the
// MCP-Sync stage as owning a short-TTL cache over the live catalog, so
// refresh is gated by ttl rather than re-merged on every call.
type Catalog struct {
	mgr *mcp.Manager
	ttl time.Duration

	mu        sync.Mutex
	entries   []mcp.CatalogEntry
	byTool    map[string]mcp.CatalogEntry
	fetchedAt time.Time
}

// NewCatalog builds a Catalog over mgr with the given cache TTL.
func NewCatalog(mgr *mcp.Manager, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Catalog{mgr: mgr, ttl: ttl}
}

// refresh re-reads the manager's catalog if the cache has expired.
func (c *Catalog) refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.fetchedAt) < c.ttl && c.byTool != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entries := c.mgr.Catalog(ctx)
	byTool := make(map[string]mcp.CatalogEntry, len(entries))
	for _, e := range entries {
		byTool[e.Tool] = e
	}
	c.entries = entries
	c.byTool = byTool
	c.fetchedAt = time.Now()
}

// KnownTools implements validate.CatalogProvider.
func (c *Catalog) KnownTools() []string {
	c.refresh()

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.byTool))
	for tool := range c.byTool {
		out = append(out, tool)
	}
	return out
}

// SchemaFor implements validate.SchemaProvider.
func (c *Catalog) SchemaFor(tool string) (map[string]any, bool) {
	c.refresh()

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.byTool[tool]
	if !ok {
		return nil, false
	}
	return entry.InputSchema, true
}

// Entries returns a snapshot of the merged catalog, refreshing first.
func (c *Catalog) Entries() []mcp.CatalogEntry {
	c.refresh()

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]mcp.CatalogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// ServersOffering returns the distinct server names advertising at
// least one tool, used by SERVER_SELECTION's default heuristic.
func (c *Catalog) ServersOffering() []string {
	entries := c.Entries()
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, e := range entries {
		if _, ok := seen[e.Server]; ok {
			continue
		}
		seen[e.Server] = struct{}{}
		out = append(out, e.Server)
	}
	return out
}
