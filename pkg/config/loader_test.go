package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenantops.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 8, cfg.Agent.MaxIterations)
	assert.Equal(t, 10, cfg.Agent.HistoryLimit)
	assert.Equal(t, ProviderAnthropic, cfg.LLM.Provider)
	assert.Equal(t, []string{SinkLog}, cfg.Notify.Sinks)
}

func TestLoadYAMLWithPlaceholdersAndOverrides(t *testing.T) {
	t.Setenv("TEST_BUCKET", "legal-docs")
	t.Setenv("TENANTOPS_LLM_MODEL", "claude-test")
	t.Setenv("TENANTOPS_WORKFLOW_RETRY_INITIAL_DELAY", "25ms")
	t.Setenv("TENANTOPS_NOTIFY_KAFKA_BROKERS", "k1:9092, k2:9092")

	path := writeConfig(t, `
database:
  driver: postgres
  dsn: postgres://tenantops@localhost/tenantops
storage:
  backend: s3
  bucket: ${TEST_BUCKET}
  region: eu-west-2
notify:
  sinks: [log, kafka]
agent:
  turn_timeout: 30s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "legal-docs", cfg.Storage.Bucket)
	assert.Equal(t, "claude-test", cfg.LLM.Model)
	assert.Equal(t, 25*time.Millisecond, cfg.Workflow.RetryInitialDelay)
	assert.Equal(t, 30*time.Second, cfg.Agent.TurnTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Notify.KafkaBroker)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "parrot" }},
		{"zero iterations", func(c *Config) { c.Agent.MaxIterations = 0 }},
		{"negative provider attempts", func(c *Config) { c.Agent.MaxProviderAttempts = -1 }},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = StorageS3 }},
		{"redis sink without addr", func(c *Config) { c.Notify.Sinks = []string{SinkRedis} }},
		{"cel without expression", func(c *Config) { c.Ranking.Strategy = RankingCEL }},
		{"tracing without endpoint", func(c *Config) { c.Tracing.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Errorf("Expected validation error for %s", tt.name)
			}
		})
	}

	if err := Validate(Default()); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}

	for _, provider := range []string{ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama} {
		cfg := Default()
		cfg.LLM.Provider = provider
		if err := Validate(cfg); err != nil {
			t.Errorf("Expected provider %s to validate, got %v", provider, err)
		}
	}
}
