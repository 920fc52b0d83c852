// Package config defines the application configuration, loaded through viper
// from file, environment and defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration object.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Detection DetectionConfig `mapstructure:"detection" yaml:"detection"`
	AI        AIConfig        `mapstructure:"ai" yaml:"ai"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Settings  SettingsConfig  `mapstructure:"settings" yaml:"settings"`
}

// LoggerConfig holds the logger setup.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DetectionConfig tunes the orchestrator's correlation behavior.
type DetectionConfig struct {
	// CorrelationWindow bounds how far back recent inputs are pulled into a
	// detection context. Must cover the widest rule window.
	CorrelationWindow time.Duration `mapstructure:"correlation_window" yaml:"correlation_window"`
	// InputRetention is how long buffered inputs are kept before pruning.
	InputRetention time.Duration `mapstructure:"input_retention" yaml:"input_retention"`
	// AITimeout bounds a single AI escalation call.
	AITimeout time.Duration `mapstructure:"ai_timeout" yaml:"ai_timeout"`
}

// AIConfig configures the AI analyzer adapter.
type AIConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	Model      string        `mapstructure:"model" yaml:"model"`
	APIKey     string        `mapstructure:"api_key" yaml:"-"`
	Endpoint   string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
}

// StorageConfig holds the event store connection details.
type StorageConfig struct {
	PostgresURL string `mapstructure:"postgres_url" yaml:"postgres_url"`
}

// SettingsConfig seeds the user-tunable settings store.
type SettingsConfig struct {
	AIAnalysisEnabled    bool     `mapstructure:"ai_analysis_enabled" yaml:"ai_analysis_enabled"`
	NotificationsEnabled bool     `mapstructure:"notifications_enabled" yaml:"notifications_enabled"`
	AutoBlockEnabled     bool     `mapstructure:"auto_block_enabled" yaml:"auto_block_enabled"`
	DebugMode            bool     `mapstructure:"debug_mode" yaml:"debug_mode"`
	DataRetentionHours   int      `mapstructure:"data_retention_hours" yaml:"data_retention_hours"`
	ShowUnknownWarnings  bool     `mapstructure:"show_unknown_warnings" yaml:"show_unknown_warnings"`
	WhitelistedDomains   []string `mapstructure:"whitelisted_domains" yaml:"whitelisted_domains"`
}

// SetDefaults initializes the default values on a viper instance.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "formsentry")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Detection --
	v.SetDefault("detection.correlation_window", 5*time.Second)
	v.SetDefault("detection.input_retention", 10*time.Second)
	v.SetDefault("detection.ai_timeout", 10*time.Second)

	// -- AI --
	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.model", "gemini-2.5-flash")
	v.SetDefault("ai.endpoint", "")
	v.SetDefault("ai.api_timeout", 30*time.Second)

	// -- Settings --
	v.SetDefault("settings.ai_analysis_enabled", false)
	v.SetDefault("settings.notifications_enabled", true)
	v.SetDefault("settings.auto_block_enabled", false)
	v.SetDefault("settings.debug_mode", false)
	v.SetDefault("settings.data_retention_hours", 168)
	v.SetDefault("settings.show_unknown_warnings", false)
	v.SetDefault("settings.whitelisted_domains", []string{})
}

// NewDefaultConfig returns a config populated with the defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := NewFromViper(v)
	if err != nil {
		panic(fmt.Sprintf("failed to build default config: %v", err))
	}
	return cfg
}

// NewFromViper unmarshals and validates a configuration.
func NewFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("ai.api_key", "FORMSENTRY_AI_API_KEY")
	v.BindEnv("storage.postgres_url", "FORMSENTRY_POSTGRES_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.AI.APIKey == "" {
		cfg.AI.APIKey = os.Getenv("FORMSENTRY_AI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields and sane values.
func (c *Config) Validate() error {
	if c.Detection.CorrelationWindow <= 0 {
		return fmt.Errorf("detection.correlation_window must be a positive duration")
	}
	if c.Detection.InputRetention < c.Detection.CorrelationWindow {
		return fmt.Errorf("detection.input_retention must cover the correlation window")
	}
	if c.Detection.AITimeout <= 0 {
		return fmt.Errorf("detection.ai_timeout must be a positive duration")
	}
	if c.AI.Enabled && c.AI.APIKey == "" {
		return fmt.Errorf("ai is enabled but no API key is set; export FORMSENTRY_AI_API_KEY")
	}
	if c.Settings.DataRetentionHours <= 0 {
		return fmt.Errorf("settings.data_retention_hours must be positive")
	}
	return nil
}
