package config

import "encoding/json"

// Config represents the main Ingat configuration
type Config struct {
	// Cache behavior and storage
	Cache CacheConfig `json:"cache" mapstructure:"cache"`

	// Retrieval over archived context
	Retrieval RetrievalConfig `json:"retrieval" mapstructure:"retrieval"`

	// Summarization collaborator
	Summarizer SummarizerConfig `json:"summarizer" mapstructure:"summarizer"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// CacheConfig holds session cache configuration
type CacheConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// Dir overrides the cache directory; defaults to <data_dir>/cache.
	Dir string `json:"dir" mapstructure:"dir"`

	MaxActiveTokens int `json:"max_active_tokens" mapstructure:"max_active_tokens"`

	// MaxTotalTokens is an advisory lifetime budget; 0 disables it.
	MaxTotalTokens int `json:"max_total_tokens" mapstructure:"max_total_tokens"`

	SummaryRatio   float64 `json:"summary_ratio" mapstructure:"summary_ratio"`
	PreserveRecent int     `json:"preserve_recent" mapstructure:"preserve_recent"`

	AutoCreateSessions bool `json:"auto_create_sessions" mapstructure:"auto_create_sessions"`

	RetentionDays int `json:"retention_days" mapstructure:"retention_days"`

	// CleanupSchedule is a cron spec; empty disables scheduled cleanup.
	CleanupSchedule string `json:"cleanup_schedule" mapstructure:"cleanup_schedule"`
}

// RetrievalConfig holds archive retrieval configuration
type RetrievalConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	Threshold   float64 `json:"threshold" mapstructure:"threshold"`
	MaxInjected int     `json:"max_injected" mapstructure:"max_injected"`
}

// SummarizerConfig holds the summarization collaborator configuration
type SummarizerConfig struct {
	Endpoint       string `json:"endpoint" mapstructure:"endpoint"`
	Model          string `json:"model" mapstructure:"model"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	Concurrency    int    `json:"concurrency" mapstructure:"concurrency"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port         int    `json:"port" mapstructure:"port"`
	Host         string `json:"host" mapstructure:"host"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Enabled:            true,
			MaxActiveTokens:    8192,
			MaxTotalTokens:     100000,
			SummaryRatio:       0.3,
			PreserveRecent:     5,
			AutoCreateSessions: true,
			RetentionDays:      30,
			CleanupSchedule:    "0 3 * * *",
		},
		Retrieval: RetrievalConfig{
			Enabled:     true,
			Threshold:   0.6,
			MaxInjected: 3,
		},
		Summarizer: SummarizerConfig{
			Endpoint:       "http://localhost:11434",
			Model:          "llama3.1",
			TimeoutSeconds: 120,
			Concurrency:    1,
		},
		Gateway: GatewayConfig{
			Port:         8080,
			Host:         "127.0.0.1",
			SharedSecret: "",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
