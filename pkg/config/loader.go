package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML file at path over the defaults, applies TENANTOPS_* environment
// overrides and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			LogInfo("⚙️  Config file %s not found, using defaults", path)
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			expanded := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
				if value := os.Getenv(match[2 : len(match)-1]); value != "" {
					return value
				}
				return match
			})
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config YAML: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	applyEnvOverridesRecursive(reflect.ValueOf(cfg).Elem(), EnvPrefix)
}

func applyEnvOverridesRecursive(v reflect.Value, prefix string) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("yaml")
		if tag == "" || tag == "-" {
			continue
		}
		envKey := prefix + strings.ToUpper(strings.Split(tag, ",")[0])

		if field.Kind() == reflect.Struct {
			applyEnvOverridesRecursive(field, envKey+"_")
			continue
		}
		if envValue, ok := os.LookupEnv(envKey); ok && envValue != "" {
			setFieldFromEnv(field, envValue)
		}
	}
}

func setFieldFromEnv(field reflect.Value, envValue string) {
	if !field.CanSet() {
		return
	}

	//nolint:exhaustive // only the kinds used by Config
	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Bool:
		if val, err := strconv.ParseBool(envValue); err == nil {
			field.SetBool(val)
		}
	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			if d, err := time.ParseDuration(envValue); err == nil {
				field.SetInt(int64(d))
			}
			return
		}
		if val, err := strconv.Atoi(envValue); err == nil {
			field.SetInt(int64(val))
		}
	case reflect.Float64:
		if val, err := strconv.ParseFloat(envValue, 64); err == nil {
			field.SetFloat(val)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(envValue, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
}

// Validate checks cross-field constraints.
func Validate(cfg *Config) error {
	switch cfg.Database.Driver {
	case DriverSQLite:
		if cfg.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case DriverPostgres:
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	switch cfg.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama:
	default:
		return fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
	if cfg.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0.0 and 2.0")
	}
	if cfg.LLM.RetryAttempts < 1 {
		return fmt.Errorf("llm.retry_attempts must be at least 1")
	}

	if cfg.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be at least 1")
	}
	if cfg.Agent.MaxProviderAttempts < 0 {
		return fmt.Errorf("agent.max_provider_attempts must not be negative")
	}
	if cfg.Agent.HistoryLimit < 0 {
		return fmt.Errorf("agent.history_limit cannot be negative")
	}
	if cfg.Chat.Limits.MaxMessageChars < 64 {
		return fmt.Errorf("chat.limits.max_message_chars must be at least 64")
	}
	if cfg.Chat.SummaryChars < 1 {
		return fmt.Errorf("chat.summary_chars must be positive")
	}
	if cfg.Workflow.RetryAttempts < 1 {
		return fmt.Errorf("workflow.retry_attempts must be at least 1")
	}

	switch cfg.Storage.Backend {
	case StorageFile:
		if cfg.Storage.Dir == "" {
			return fmt.Errorf("storage.dir is required for the file backend")
		}
	case StorageS3, StorageGCS:
		if cfg.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the %s backend", cfg.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	for _, sink := range cfg.Notify.Sinks {
		switch sink {
		case SinkLog:
		case SinkRedis:
			if cfg.Notify.RedisAddr == "" {
				return fmt.Errorf("notify.redis_addr is required for the redis sink")
			}
		case SinkKafka:
			if len(cfg.Notify.KafkaBroker) == 0 {
				return fmt.Errorf("notify.kafka_brokers is required for the kafka sink")
			}
		default:
			return fmt.Errorf("unknown notification sink %q", sink)
		}
	}

	switch cfg.Ranking.Strategy {
	case RankingFirst, RankingWeighted:
	case RankingCEL:
		if cfg.Ranking.Expression == "" {
			return fmt.Errorf("ranking.expression is required for the cel strategy")
		}
	default:
		return fmt.Errorf("unknown ranking strategy %q", cfg.Ranking.Strategy)
	}

	if cfg.Tracing.Enabled && cfg.Tracing.OTLPEndpoint == "" {
		return fmt.Errorf("tracing.otlp_endpoint is required when tracing is enabled")
	}
	return nil
}
