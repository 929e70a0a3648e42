package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayCapsAtMax(t *testing.T) {
	base := 500 * time.Millisecond
	max := 4 * time.Second

	assert.Equal(t, base, backoffDelay(0, base, max))
	assert.Equal(t, 2*base, backoffDelay(1, base, max))
	assert.Equal(t, 4*base, backoffDelay(2, base, max))
	// 8*base would exceed max; clamp.
	assert.Equal(t, max, backoffDelay(3, base, max))
	assert.Equal(t, max, backoffDelay(10, base, max))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Name: "fs", Command: "mcp-filesystem"}
	cfg.setDefaults()

	assert.Equal(t, 10*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.ReconnectBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.ReconnectMaxDelay)
}

func TestManagerAddServerAndLookup(t *testing.T) {
	m := NewManager(nil)
	m.AddServer(Config{Name: "fs", Command: "mcp-filesystem"})

	s, ok := m.Server("fs")
	assert.True(t, ok)
	assert.Equal(t, StateSpawning, s.State())

	_, missing := m.Server("nope")
	assert.False(t, missing)
}

func TestManagerCatalogEmptyBeforeConnect(t *testing.T) {
	m := NewManager(nil)
	m.AddServer(Config{Name: "fs", Command: "mcp-filesystem"})

	entries := m.Catalog(context.Background())
	assert.Empty(t, entries)
}

func TestManagerCallUnknownServer(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Call(context.Background(), "ghost", "anything", nil)
	assert.Error(t, err)
}
