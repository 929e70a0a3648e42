package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(name string) (float64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// envMillis reads name as a millisecond count, per spec.md §6
// ("Live-catalog cache TTL ms").
func envMillis(name string) (time.Duration, bool) {
	n, ok := envInt(name)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Millisecond, true
}

var (
	envVarPatterns = struct {
		withDefault *regexp.Regexp
		braced      *regexp.Regexp
		simple      *regexp.Regexp
	}{
		withDefault: regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`),
		braced:      regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`),
		simple:      regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`),
	}
)

// expandEnvVars expands ${VAR:-default}, ${VAR}, and $VAR references in s,
// in that order so the most specific form wins.
func expandEnvVars(s string) string {

	if !strings.Contains(s, "$") {
		return s
	}

	s = envVarPatterns.withDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.withDefault.FindStringSubmatch(match)
		if len(parts) == 3 {
			envVar := parts[1]
			defaultVal := parts[2]
			if val := os.Getenv(envVar); val != "" {
				return val
			}
			return defaultVal
		}
		return match
	})

	s = envVarPatterns.braced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.braced.FindStringSubmatch(match)
		if len(parts) == 2 {
			return os.Getenv(parts[1])
		}
		return match
	})

	s = envVarPatterns.simple.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.simple.FindStringSubmatch(match)
		if len(parts) == 2 {
			return os.Getenv(parts[1])
		}
		return match
	})

	return s
}

// LoadEnvFiles loads environment variables from .env.local and then .env.
// A variable that is already set is never overridden, so the priority
// order is: system environment (highest) → .env.local → .env (lowest).
func LoadEnvFiles() error {
	envFiles := []string{".env.local", ".env"}

	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	return nil
}

// applyOutboundLLMEnv lets the LLM_API_ENDPOINT / MCP_LLM_API_KEY /
// LLM_API_KEY / MCP_LLM_AUTH_HEADER environment variables override the
// YAML-configured outbound LLM client, without requiring a ${VAR}
// reference in the file itself (spec.md §6 Environment variables).
func applyOutboundLLMEnv(cfg *Config) {
	if v := os.Getenv("LLM_API_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}
	if v := os.Getenv("MCP_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	} else if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("MCP_LLM_AUTH_HEADER"); v != "" {
		cfg.LLM.AuthHeader = v
	}
}

// applyValidationEnv lets the VALIDATION_* environment variables override
// the YAML-configured validation pipeline (spec.md §6).
func applyValidationEnv(cfg *Config) {
	if v, ok := envInt("VALIDATION_HISTORY_MAX_SIZE"); ok {
		cfg.Validation.HistoryMaxSize = v
	}
	if v, ok := envInt("VALIDATION_ANTI_REPETITION_WINDOW"); ok {
		cfg.Validation.AntiRepetitionWindow = v
	}
	if v, ok := envInt("VALIDATION_MAX_FAILURES_BEFORE_BLOCK"); ok {
		cfg.Validation.MaxFailuresBeforeBlock = v
	}
	if v, ok := envFloat("VALIDATION_MIN_SUCCESS_RATE"); ok {
		cfg.Validation.MinSuccessRate = v
	}
	if v, ok := envMillis("VALIDATION_MCP_CACHE_TTL"); ok {
		cfg.Validation.MCPCacheTTL = v
	}
	if v, ok := envFloat("VALIDATION_SIMILARITY_THRESHOLD"); ok {
		cfg.Validation.SimilarityThreshold = v
	}
}

// ============================================================================
// YAML LOADING
// ============================================================================

// loadConfig reads filePath, expands environment variable references, and
// unmarshals the result into cfg.
func loadConfig(filePath string, cfg *Config) error {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	return loadConfigFromString(string(raw), cfg)
}

// loadConfigFromString expands environment variable references in
// yamlContent and unmarshals the result into cfg, then applies
// environment-variable overrides that spec.md §6 documents independent of
// any ${VAR} reference in the file.
func loadConfigFromString(yamlContent string, cfg *Config) error {
	expanded := expandEnvVars(yamlContent)
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	applyOutboundLLMEnv(cfg)
	applyValidationEnv(cfg)
	return nil
}
