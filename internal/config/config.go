package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultServerAddress  = ":8090"
	DefaultMaxUploadBytes = 20 << 20 // 20 MB
	DefaultSessionTTL     = 120      // minutes
	DefaultModel          = "gemini-3-pro-preview"
	DefaultThinkingBudget = 32768
	DefaultTimeoutSeconds = 300
	DefaultAPIKeyEnv      = "API_KEY"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Reasoning   ReasoningConfig           `json:"reasoning"`
	Database    string                    `json:"database"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Log         LogConfig                 `json:"log"`
	Telemetry   TelemetryConfig           `json:"telemetry"`
}

type BasicConfig struct {
	ServerAddress  string `json:"server_address"`
	MaxUploadBytes int64  `json:"max_upload_bytes" validate:"gte=0"`
	// SessionTTL is the idle lifetime of a session in minutes.
	SessionTTL int `json:"session_ttl_minutes" validate:"gte=0"`
	// HistoryWindow caps how many prior turns are sent per call; 0 sends everything.
	HistoryWindow int  `json:"history_window" validate:"gte=0"`
	SecureCookies bool `json:"secure_cookies"`
}

type ReasoningConfig struct {
	Provider       string `json:"provider" validate:"oneof=gemini openai claude"`
	Model          string `json:"model" validate:"required"`
	BaseURL        string `json:"base_url" validate:"omitempty,url"`
	// ThinkingBudget is left nil to take the default; 0 disables thinking.
	ThinkingBudget *int32 `json:"thinking_budget" validate:"omitempty,gte=0"`
	TimeoutSeconds int    `json:"timeout_seconds" validate:"gte=0"`
	MaxTokens      int    `json:"max_tokens" validate:"gte=0"`
	APIKeyEnv      string `json:"api_key_env"`
	APIKeyFile     string `json:"api_key_file"`
	SealedAPIKey   string `json:"sealed_api_key"`
}

// Budget returns the configured thinking budget, or the default when unset.
func (r ReasoningConfig) Budget() int32 {
	if r.ThinkingBudget == nil {
		return DefaultThinkingBudget
	}
	return *r.ThinkingBudget
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type LogConfig struct {
	Level      string `json:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON       bool   `json:"json"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

type TelemetryConfig struct {
	TraceFile string `json:"trace_file"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseDir := filepath.Dir(absPath)
	if f := cfg.Reasoning.APIKeyFile; f != "" && !filepath.IsAbs(f) {
		cfg.Reasoning.APIKeyFile = filepath.Join(baseDir, f)
	}
	if sqliteCfg, ok := cfg.Databases["sqlite3"]; ok && sqliteCfg.DSN != "" && sqliteCfg.DSN != ":memory:" && !filepath.IsAbs(sqliteCfg.DSN) {
		sqliteCfg.DSN = filepath.Join(baseDir, sqliteCfg.DSN)
		cfg.Databases["sqlite3"] = sqliteCfg
	}

	return &cfg, nil
}

// Default returns a configuration usable without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Database != "" {
		if _, ok := c.Databases[c.Database]; !ok {
			return fmt.Errorf("database config for %s not found", c.Database)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = DefaultServerAddress
	}
	if c.BasicConfig.MaxUploadBytes == 0 {
		c.BasicConfig.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.BasicConfig.SessionTTL == 0 {
		c.BasicConfig.SessionTTL = DefaultSessionTTL
	}
	if c.Reasoning.Provider == "" {
		c.Reasoning.Provider = "gemini"
	}
	if c.Reasoning.Model == "" {
		c.Reasoning.Model = DefaultModel
	}
	if c.Reasoning.ThinkingBudget == nil {
		budget := int32(DefaultThinkingBudget)
		c.Reasoning.ThinkingBudget = &budget
	}
	if c.Reasoning.TimeoutSeconds == 0 {
		c.Reasoning.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.Reasoning.APIKeyEnv == "" {
		c.Reasoning.APIKeyEnv = DefaultAPIKeyEnv
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "127.0.0.1"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
}
