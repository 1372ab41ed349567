package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 16, cfg.Pipeline.MaxWorkers)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
  write_timeout: 0s
redis:
  addr: "redis:6379"
  db: 2
llm:
  openai:
    api_key: "sk-test"
    timeout: 30s
pipeline:
  max_workers: 8
`), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "sk-test", cfg.LLM.OpenAI.APIKey)
	assert.Equal(t, 30*time.Second, cfg.LLM.OpenAI.Timeout)
	assert.Equal(t, 8, cfg.Pipeline.MaxWorkers)
	// YAML 에 없는 항목은 기본값 유지
	assert.Equal(t, "data/patentflow.db", cfg.Database.Path)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.Server.Addr)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PATENTFLOW_SERVER_ADDR", ":7000")
	t.Setenv("PATENTFLOW_REDIS_DB", "3")
	t.Setenv("PATENTFLOW_LLM_CLAUDE_API_KEY", "sk-claude")
	t.Setenv("PATENTFLOW_LLM_CLAUDE_TIMEOUT", "90s")
	t.Setenv("PATENTFLOW_PIPELINE_MAX_WORKERS", "4")
	t.Setenv("PATENTFLOW_PIPELINE_REASONING_LLM", "CLAUDE")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, "sk-claude", cfg.LLM.Claude.APIKey)
	assert.Equal(t, 90*time.Second, cfg.LLM.Claude.Timeout)
	assert.Equal(t, 4, cfg.Pipeline.MaxWorkers)
	assert.Equal(t, "CLAUDE", cfg.Pipeline.ReasoningLLM)
}

// 환경 변수가 YAML 값을 덮는다.
func TestLoad_EnvBeatsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9000\"\n"), 0o644))
	t.Setenv("PATENTFLOW_SERVER_ADDR", ":7000")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	t.Setenv("PATENTFLOW_REDIS_DB", "not-a-number")

	_, err := LoadFromEnv()
	assert.Error(t, err)
}

func TestLoad_ValidatorRejects(t *testing.T) {
	t.Setenv("PATENTFLOW_PIPELINE_MAX_WORKERS", "-1")

	_, err := NewLoader().WithValidator(func(c *Config) error { return c.Validate() }).Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Server.Addr = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Redis.Addr = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Pipeline.MaxWorkers = 0
	assert.Error(t, cfg.Validate())
}
