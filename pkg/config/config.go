// Package config provides configuration loading, validation, and secret resolution for tenantops.
package config

import "time"

// Supported backends.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"

	StorageFile = "file"
	StorageS3   = "s3"
	StorageGCS  = "gcs"

	SinkLog   = "log"
	SinkRedis = "redis"
	SinkKafka = "kafka"

	RankingFirst    = "first"
	RankingWeighted = "weighted"
	RankingCEL      = "cel"
)

// Default model names.
const (
	ModelClaudeSonnet = "claude-sonnet-4-5"
	ModelGPT4o        = "gpt-4o"
	ModelGemini       = "gemini-2.5-flash"
	ModelLlama        = "llama3.1"
)

// DefaultOllamaHost is used when llm.base_url is empty and OLLAMA_HOST is unset.
const DefaultOllamaHost = "http://localhost:11434"

// EnvOllamaHost names the local Ollama server, as the ollama CLI does.
const EnvOllamaHost = "OLLAMA_HOST"

// EnvPrefix prefixes every environment override, e.g. TENANTOPS_LLM_MODEL.
const EnvPrefix = "TENANTOPS_"

// Config is the root configuration document.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Agent    AgentConfig    `yaml:"agent"`
	Chat     ChatConfig     `yaml:"chat"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Storage  StorageConfig  `yaml:"storage"`
	Notify   NotifyConfig   `yaml:"notify"`
	Ranking  RankingConfig  `yaml:"ranking"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"` // sqlite file
	DSN    string `yaml:"dsn"`  // postgres connection string; password from DATABASE_PASSWORD
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	BaseURL     string  `yaml:"base_url"` // optional provider endpoint override

	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
}

type AgentConfig struct {
	MaxIterations int `yaml:"max_iterations"`
	// MaxProviderAttempts caps HTTP calls to the provider per turn, retries included. 0 disables it.
	MaxProviderAttempts int           `yaml:"max_provider_attempts"`
	HistoryLimit        int           `yaml:"history_limit"`
	HistoryTokenBudget  int           `yaml:"history_token_budget"`
	TurnTimeout         time.Duration `yaml:"turn_timeout"`
}

type ChatLimitsConfig struct {
	MaxMessageChars int `yaml:"max_message_chars"` // inbound messages are truncated past this
}

// ChatScannerConfig controls redaction of sensitive numbers and credentials in inbound messages.
type ChatScannerConfig struct {
	Enabled   bool `yaml:"enabled"`
	TimeoutMs int  `yaml:"timeout_ms"`
}

// ChatConfig contains tenant conversation settings.
type ChatConfig struct {
	Limits  ChatLimitsConfig  `yaml:"limits"`
	Scanner ChatScannerConfig `yaml:"scanner"`
	// SummaryChars bounds the rolling conversation summary.
	SummaryChars int `yaml:"summary_chars"`
}

type WorkflowConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
}

type StorageConfig struct {
	Backend   string `yaml:"backend"`
	Bucket    string `yaml:"bucket"`
	Dir       string `yaml:"dir"`      // file backend root
	BaseURL   string `yaml:"base_url"` // public URL prefix for returned links
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

type NotifyConfig struct {
	Sinks       []string `yaml:"sinks"`
	RedisAddr   string   `yaml:"redis_addr"`
	RedisDB     int      `yaml:"redis_db"`
	RedisStream string   `yaml:"redis_stream"`
	KafkaBroker []string `yaml:"kafka_brokers"`
	KafkaTopic  string   `yaml:"kafka_topic"`
}

type RankingConfig struct {
	Strategy   string `yaml:"strategy"`
	Expression string `yaml:"expression"` // CEL, evaluated per contractor
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SampleRate   float64 `yaml:"sample_rate"`
	ServiceName  string  `yaml:"service_name"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   "tenantops.db",
		},
		LLM: LLMConfig{
			Provider:          ProviderAnthropic,
			Model:             ModelClaudeSonnet,
			MaxTokens:         1024,
			Temperature:       0.3,
			RateLimitRPS:      2,
			RateLimitBurst:    4,
			RetryAttempts:     3,
			RetryInitialDelay: 500 * time.Millisecond,
			RetryMaxDelay:     10 * time.Second,
		},
		Agent: AgentConfig{
			MaxIterations:       8,
			MaxProviderAttempts: 12,
			HistoryLimit:        10,
			HistoryTokenBudget:  6000,
			TurnTimeout:         2 * time.Minute,
		},
		Chat: ChatConfig{
			Limits:       ChatLimitsConfig{MaxMessageChars: 4096},
			Scanner:      ChatScannerConfig{Enabled: true, TimeoutMs: 800},
			SummaryChars: 1000,
		},
		Workflow: WorkflowConfig{
			RetryAttempts:     4,
			RetryInitialDelay: 50 * time.Millisecond,
			RetryMaxDelay:     2 * time.Second,
		},
		Storage: StorageConfig{
			Backend: StorageFile,
			Dir:     "documents",
		},
		Notify: NotifyConfig{
			Sinks:       []string{SinkLog},
			RedisStream: "tenantops:notifications",
			KafkaTopic:  "tenantops.notifications",
		},
		Ranking: RankingConfig{
			Strategy: RankingFirst,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Tracing: TracingConfig{
			SampleRate:  1.0,
			ServiceName: "tenantops",
		},
	}
}
