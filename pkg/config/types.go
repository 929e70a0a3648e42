// Package config provides configuration types and utilities for the task
// orchestrator. This file contains all configuration types in a unified
// structure.
package config

import (
	"fmt"
	"time"
)

// ============================================================================
// MCP SERVER CONFIGURATIONS
// ============================================================================

// MCPServerConfig describes one stdio MCP server the manager should spawn
// and supervise (spec.md §4.2, §6 MCP wire protocol).
type MCPServerConfig struct {
	// Command is the executable to spawn.
	Command string `yaml:"command"`

	// Args are passed to Command.
	Args []string `yaml:"args,omitempty"`

	// Env holds additional environment variables for the child process,
	// given as "KEY=VALUE" pairs.
	Env []string `yaml:"env,omitempty"`

	// HandshakeTimeout bounds the initialize/tools-list round trip.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout,omitempty"`

	// MaxReconnectAttempts caps the bounded-backoff reconnection loop.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts,omitempty"`

	// ReconnectBaseDelay / ReconnectMaxDelay tune the exponential backoff.
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay,omitempty"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay,omitempty"`
}

// Validate checks the MCP server configuration.
func (c *MCPServerConfig) Validate() error {
	if c.Command == "" {
		return fmt.Errorf("command is required")
	}
	if c.HandshakeTimeout < 0 {
		return fmt.Errorf("handshake_timeout must be non-negative")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts must be non-negative")
	}
	return nil
}

// SetDefaults applies the manager's defaults (spec.md §4.2: 10s handshake,
// 5 reconnect attempts, 500ms/30s backoff bounds).
func (c *MCPServerConfig) SetDefaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 500 * time.Millisecond
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
}

// ============================================================================
// VALIDATION PIPELINE CONFIGURATION
// ============================================================================

// ValidationConfig tunes the tool-call validation pipeline and its
// history-based guards (spec.md §4.3, §6 VALIDATION_* environment table).
type ValidationConfig struct {
	// HistoryMaxSize bounds the shared tool-history ring (default 100).
	HistoryMaxSize int `yaml:"history_max_size,omitempty"`

	// AntiRepetitionWindow is the window the history stage checks for
	// repeated failing calls (default 100, per spec.md §6).
	AntiRepetitionWindow int `yaml:"anti_repetition_window,omitempty"`

	// MaxFailuresBeforeBlock is how many failures of the same call with
	// the same params, counted within the anti-repetition window, block
	// a retry (default 3).
	MaxFailuresBeforeBlock int `yaml:"max_failures_before_block,omitempty"`

	// MinSuccessRate is the per-tool success-rate floor below which the
	// history stage warns (default 0.3).
	MinSuccessRate float64 `yaml:"min_success_rate,omitempty"`

	// MCPCacheTTL bounds how long the MCP-sync stage trusts a cached
	// catalog before re-reading it (default 60s).
	MCPCacheTTL time.Duration `yaml:"mcp_cache_ttl,omitempty"`

	// SimilarityThreshold is the fuzzy-match score at or above which an
	// auto-correction is applied instead of a rejection (default 0.8).
	SimilarityThreshold float64 `yaml:"similarity_threshold,omitempty"`
}

// Validate checks the validation pipeline configuration.
func (c *ValidationConfig) Validate() error {
	if c.HistoryMaxSize < 0 {
		return fmt.Errorf("history_max_size must be non-negative")
	}
	if c.AntiRepetitionWindow < 0 {
		return fmt.Errorf("anti_repetition_window must be non-negative")
	}
	if c.MaxFailuresBeforeBlock < 0 {
		return fmt.Errorf("max_failures_before_block must be non-negative")
	}
	if c.MinSuccessRate < 0 || c.MinSuccessRate > 1 {
		return fmt.Errorf("min_success_rate must be between 0 and 1")
	}
	if c.MCPCacheTTL < 0 {
		return fmt.Errorf("mcp_cache_ttl must be non-negative")
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be between 0 and 1")
	}
	return nil
}

// SetDefaults applies spec.md §6's documented defaults.
func (c *ValidationConfig) SetDefaults() {
	if c.HistoryMaxSize == 0 {
		c.HistoryMaxSize = 100
	}
	if c.AntiRepetitionWindow == 0 {
		c.AntiRepetitionWindow = 100
	}
	if c.MaxFailuresBeforeBlock == 0 {
		c.MaxFailuresBeforeBlock = 3
	}
	if c.MinSuccessRate == 0 {
		c.MinSuccessRate = 0.3
	}
	if c.MCPCacheTTL == 0 {
		c.MCPCacheTTL = 60 * time.Second
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.8
	}
}

// ============================================================================
// OUTBOUND LLM / RATE-LIMITED CLIENT CONFIGURATION
// ============================================================================

// QueueConfig mirrors pkg/outbound.QueueConfig's tunables for YAML
// round-tripping (spec.md §4.4).
type QueueConfig struct {
	MaxConcurrent        int           `yaml:"max_concurrent,omitempty"`
	MinInterRequestDelay time.Duration `yaml:"min_inter_request_delay,omitempty"`
	MaxInterRequestDelay time.Duration `yaml:"max_inter_request_delay,omitempty"`
	BurstLimit           int           `yaml:"burst_limit,omitempty"`
	BurstWindow          time.Duration `yaml:"burst_window,omitempty"`
	QueueTimeout         time.Duration `yaml:"queue_timeout,omitempty"`
	MaxQueueDepth        int           `yaml:"max_queue_depth,omitempty"`
}

// LLMConfig describes the outbound chat-completions endpoint used for
// MODE_SELECTION/TODO_PLANNING/DEV generation and the optional semantic
// validation stage (spec.md §6 Outbound LLM API, LLM_API_ENDPOINT/
// MCP_LLM_API_KEY/MCP_LLM_AUTH_HEADER).
//
// AuthHeader defaults to "Authorization" and MCP_LLM_AUTH_HEADER
// overrides it, but the value is not passed to the outbound client: the
// client always sends the API key as an "Authorization: Bearer" header.
type LLMConfig struct {
	Endpoint    string  `yaml:"endpoint,omitempty"`
	APIKey      string  `yaml:"api_key,omitempty"`
	AuthHeader  string  `yaml:"auth_header,omitempty"`
	Model       string  `yaml:"model,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`

	Referer string `yaml:"referer,omitempty"`
	Title   string `yaml:"title,omitempty"`

	Queue   QueueConfig   `yaml:"queue,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Validate checks the LLM client configuration.
func (c *LLMConfig) Validate() error {
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	return nil
}

// SetDefaults applies outbound-client defaults (spec.md §4.4).
func (c *LLMConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "https://api.openai.com/v1"
	}
	if c.AuthHeader == "" {
		c.AuthHeader = "Authorization"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2000
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Queue.MaxConcurrent == 0 {
		c.Queue.MaxConcurrent = 1
	}
	if c.Queue.MinInterRequestDelay == 0 {
		c.Queue.MinInterRequestDelay = time.Second
	}
	if c.Queue.MaxInterRequestDelay == 0 {
		c.Queue.MaxInterRequestDelay = 30 * time.Second
	}
	if c.Queue.BurstLimit == 0 {
		c.Queue.BurstLimit = 5
	}
	if c.Queue.BurstWindow == 0 {
		c.Queue.BurstWindow = time.Second
	}
	if c.Queue.QueueTimeout == 0 {
		c.Queue.QueueTimeout = 30 * time.Second
	}
}

// ============================================================================
// WORKFLOW MACHINE CONFIGURATION
// ============================================================================

// WorkflowConfig tunes the state machine's timeouts and ITEM_LOOP policy
// (spec.md §4.1, §6).
type WorkflowConfig struct {
	HandlerTimeout        time.Duration `yaml:"handler_timeout,omitempty"`
	TransitionTimeout     time.Duration `yaml:"transition_timeout,omitempty"`
	ItemPacingDelay       time.Duration `yaml:"item_pacing_delay,omitempty"`
	BlockedCheckThreshold int           `yaml:"blocked_check_threshold,omitempty"`
	DefaultMaxAttempts    int           `yaml:"default_max_attempts,omitempty"`
}

// Validate checks the workflow machine configuration.
func (c *WorkflowConfig) Validate() error {
	if c.HandlerTimeout < 0 {
		return fmt.Errorf("handler_timeout must be non-negative")
	}
	if c.TransitionTimeout < 0 {
		return fmt.Errorf("transition_timeout must be non-negative")
	}
	if c.ItemPacingDelay < 0 {
		return fmt.Errorf("item_pacing_delay must be non-negative")
	}
	if c.BlockedCheckThreshold < 0 {
		return fmt.Errorf("blocked_check_threshold must be non-negative")
	}
	if c.DefaultMaxAttempts < 0 {
		return fmt.Errorf("default_max_attempts must be non-negative")
	}
	return nil
}

// SetDefaults applies the machine's built-in defaults (spec.md §4.1, §6).
func (c *WorkflowConfig) SetDefaults() {
	if c.HandlerTimeout == 0 {
		c.HandlerTimeout = 30 * time.Second
	}
	if c.TransitionTimeout == 0 {
		c.TransitionTimeout = 30 * time.Second
	}
	if c.ItemPacingDelay == 0 {
		c.ItemPacingDelay = 3 * time.Second
	}
	if c.BlockedCheckThreshold == 0 {
		c.BlockedCheckThreshold = 10
	}
	if c.DefaultMaxAttempts == 0 {
		c.DefaultMaxAttempts = 1
	}
}

// ============================================================================
// SERVER / DAEMON CONFIGURATION
// ============================================================================

// ServerConfig configures the HTTP entry point (spec.md §6 Request entry
// point) the controller binary listens on while running as a daemon.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// PIDFile is where the daemon records its process ID for
	// start/stop/status/restart (spec.md §6 CLI surface).
	PIDFile string `yaml:"pid_file,omitempty"`
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

// SetDefaults applies the daemon's listen defaults.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8088
	}
	if c.PIDFile == "" {
		c.PIDFile = "taskorch.pid"
	}
}
