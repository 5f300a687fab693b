// Package config manages application configuration from default
// values, an optional config.yaml file, and DV_* environment variables.
package config

import "time"

// Config is the full application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	AI        AIConfig        `mapstructure:"ai"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Query     QueryConfig     `mapstructure:"query"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `mapstructure:"level"  validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// DatabaseConfig controls the SQLite record store.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	ListenAddr   string `mapstructure:"listen_addr" validate:"required,hostname_port"`
	StrictImport bool   `mapstructure:"strict_import"`
}

// AIConfig controls the Gemini client.
type AIConfig struct {
	APIKey             string  `mapstructure:"api_key"         validate:"required"`
	ModelName          string  `mapstructure:"model"           validate:"required"`
	EmbeddingModelName string  `mapstructure:"embedding_model" validate:"required"`
	Temperature        float32 `mapstructure:"temperature"     validate:"min=0,max=2"`

	// Categories overrides the classification taxonomy. Empty means the
	// client's default taxonomy.
	Categories []string `mapstructure:"categories"`
}

// TelegramConfig controls the optional Telegram ingestion bot.
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token" validate:"required_if=Enabled true"`
}

// VectorConfig selects the embedding store backend.
type VectorConfig struct {
	Backend    string `mapstructure:"backend"    validate:"required,oneof=memory chroma"`
	ChromaURL  string `mapstructure:"chroma_url" validate:"required_if=Backend chroma,omitempty,url"`
	Collection string `mapstructure:"collection" validate:"required"`
}

// PipelineConfig controls the background processing workers.
type PipelineConfig struct {
	Workers        int           `mapstructure:"workers"         validate:"min=1,max=32"`
	QueueSize      int           `mapstructure:"queue_size"      validate:"min=1"`
	MaxAttempts    int           `mapstructure:"max_attempts"    validate:"min=1,max=10"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" validate:"min=1ms"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"     validate:"min=1ms"`
}

// QueryConfig controls retrieval-augmented answering.
type QueryConfig struct {
	TopK         int `mapstructure:"top_k"         validate:"min=1,max=20"`
	ContextChars int `mapstructure:"context_chars" validate:"min=100"`
}

// SchedulerConfig controls periodic jobs.
type SchedulerConfig struct {
	SweepInterval  time.Duration `mapstructure:"sweep_interval"  validate:"min=10s"`
	SweepBatchSize int           `mapstructure:"sweep_batch"     validate:"min=1"`
	MaintenanceAt  string        `mapstructure:"maintenance_at"  validate:"required"`
}
