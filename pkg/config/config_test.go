package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigSetDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()

	assert.Equal(t, "taskorch", cfg.Name)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "https://api.openai.com/v1", cfg.LLM.Endpoint)
	assert.Equal(t, 100, cfg.Validation.HistoryMaxSize)
	assert.Equal(t, 30*time.Second, cfg.Workflow.HandlerTimeout)
	assert.NotNil(t, cfg.MCPServers)
}

func TestConfigValidateRejectsBadPort(t *testing.T) {
	cfg := Config{Server: ServerConfig{Port: 70000}}
	cfg.Logger.SetDefaults()
	cfg.LLM.SetDefaults()
	cfg.Validation.SetDefaults()
	cfg.Workflow.SetDefaults()

	assert.Error(t, cfg.Validate())
}

func TestMCPServerConfigRequiresCommand(t *testing.T) {
	c := MCPServerConfig{}
	assert.Error(t, c.Validate())

	c.Command = "npx"
	assert.NoError(t, c.Validate())
}

func TestLoadConfigFromStringExpandsEnvVars(t *testing.T) {
	require.NoError(t, os.Setenv("TASKORCH_TEST_KEY", "sk-expanded"))
	defer os.Unsetenv("TASKORCH_TEST_KEY")

	yamlContent := `
name: test-orch
llm:
  api_key: ${TASKORCH_TEST_KEY}
mcp_servers:
  fs:
    command: npx
    args: ["-y", "server"]
`
	cfg, err := LoadConfigFromString(yamlContent)
	require.NoError(t, err)
	assert.Equal(t, "sk-expanded", cfg.LLM.APIKey)
	assert.Equal(t, "npx", cfg.MCPServers["fs"].Command)
}

func TestLoadConfigFromStringHonorsValidationEnvOverride(t *testing.T) {
	require.NoError(t, os.Setenv("VALIDATION_SIMILARITY_THRESHOLD", "0.95"))
	defer os.Unsetenv("VALIDATION_SIMILARITY_THRESHOLD")

	cfg, err := LoadConfigFromString(`name: test-orch`)
	require.NoError(t, err)
	assert.Equal(t, 0.95, cfg.Validation.SimilarityThreshold)
}

func TestExpandEnvVarsWithDefault(t *testing.T) {
	os.Unsetenv("TASKORCH_UNSET_VAR")
	assert.Equal(t, "fallback", expandEnvVars("${TASKORCH_UNSET_VAR:-fallback}"))
}
