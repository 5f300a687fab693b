package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load loads and validates configuration from:
// 1. Default values
// 2. config.yaml file (optional)
// 3. DV_* environment variables
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; defaults and environment apply.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.path", "datavault.db")

	v.SetDefault("server.listen_addr", "localhost:8080")
	v.SetDefault("server.strict_import", false)

	// Secrets default to empty so their env keys are known to viper;
	// validation rejects them when still unset.
	v.SetDefault("ai.api_key", "")
	v.SetDefault("telegram.token", "")
	v.SetDefault("vector.chroma_url", "")

	v.SetDefault("ai.model", "gemini-2.0-flash")
	v.SetDefault("ai.embedding_model", "text-embedding-004")
	v.SetDefault("ai.temperature", 0.2)

	v.SetDefault("telegram.enabled", false)

	v.SetDefault("vector.backend", "memory")
	v.SetDefault("vector.collection", "messages")

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 256)
	v.SetDefault("pipeline.max_attempts", 4)
	v.SetDefault("pipeline.initial_backoff", "500ms")
	v.SetDefault("pipeline.max_backoff", "30s")

	v.SetDefault("query.top_k", 5)
	v.SetDefault("query.context_chars", 4000)

	v.SetDefault("scheduler.sweep_interval", "5m")
	v.SetDefault("scheduler.sweep_batch", 100)
	v.SetDefault("scheduler.maintenance_at", "03:30")
}
