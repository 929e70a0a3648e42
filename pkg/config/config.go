// Copyright 2025 Kadir Pekel
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

// Package config provides configuration loading and management for the
// task orchestrator.
//
// The orchestrator is config-first: MCP servers, the outbound LLM
// endpoint, and validation-pipeline tuning are defined in YAML and the
// runtime wires them automatically.
//
// Example config:
//
//	name: taskorch
//
//	llm:
//	  endpoint: https://api.openai.com/v1
//	  api_key: ${LLM_API_KEY}
//	  model: gpt-4o-mini
//
//	mcp_servers:
//	  filesystem:
//	    command: npx
//	    args: ["-y", "@modelcontextprotocol/server-filesystem", "/workspace"]
//
//	validation:
//	  similarity_threshold: 0.8
package config

import "fmt"

// ============================================================================
// MAIN UNIFIED CONFIGURATION
// ============================================================================

// Config represents the complete orchestrator configuration: the single
// entry point covering the workflow machine, MCP servers, the validation
// pipeline, the outbound LLM client, and the daemon's listen address.
type Config struct {
	Name string `yaml:"name,omitempty"`

	Logger LoggerConfig `yaml:"logger,omitempty"`
	Server ServerConfig `yaml:"server,omitempty"`

	LLM        LLMConfig                  `yaml:"llm,omitempty"`
	MCPServers map[string]MCPServerConfig `yaml:"mcp_servers,omitempty"`
	Validation ValidationConfig           `yaml:"validation,omitempty"`
	Workflow   WorkflowConfig             `yaml:"workflow,omitempty"`
}

// Validate implements ConfigInterface for Config.
func (c *Config) Validate() error {
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger config validation failed: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config validation failed: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config validation failed: %w", err)
	}
	for name, server := range c.MCPServers {
		if err := server.Validate(); err != nil {
			return fmt.Errorf("mcp server '%s' validation failed: %w", name, err)
		}
	}
	if err := c.Validation.Validate(); err != nil {
		return fmt.Errorf("validation config validation failed: %w", err)
	}
	if err := c.Workflow.Validate(); err != nil {
		return fmt.Errorf("workflow config validation failed: %w", err)
	}
	return nil
}

// SetDefaults implements ConfigInterface for Config.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "taskorch"
	}

	c.Logger.SetDefaults()
	c.Server.SetDefaults()
	c.LLM.SetDefaults()
	c.Validation.SetDefaults()
	c.Workflow.SetDefaults()

	if c.MCPServers == nil {
		c.MCPServers = make(map[string]MCPServerConfig)
	}
	for name, server := range c.MCPServers {
		server.SetDefaults()
		c.MCPServers[name] = server
	}
}

// ============================================================================
// CONFIGURATION LOADING
// ============================================================================

// LoadConfig loads the complete configuration from a YAML file, expanding
// ${VAR:-default}/${VAR}/$VAR references before parsing (spec.md §6).
func LoadConfig(filePath string) (*Config, error) {
	var cfg Config
	if err := loadConfig(filePath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadConfigFromString loads configuration from a YAML string, expanding
// environment variable references first.
func LoadConfigFromString(yamlContent string) (*Config, error) {
	var cfg Config
	if err := loadConfigFromString(yamlContent, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from string: %w", err)
	}
	return &cfg, nil
}

// ============================================================================
// HELPER METHODS
// ============================================================================

// MCPServer returns one MCP server's configuration by name.
func (c *Config) MCPServer(name string) (MCPServerConfig, bool) {
	server, ok := c.MCPServers[name]
	return server, ok
}

// ListMCPServers returns the configured MCP server names.
func (c *Config) ListMCPServers() []string {
	names := make([]string, 0, len(c.MCPServers))
	for name := range c.MCPServers {
		names = append(names, name)
	}
	return names
}
