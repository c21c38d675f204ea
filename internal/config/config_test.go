package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"basic_config": {"server_address": ":9000"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":9000" {
		t.Fatalf("server address overwritten: %s", cfg.BasicConfig.ServerAddress)
	}
	if cfg.Reasoning.Provider != "gemini" || cfg.Reasoning.Model != DefaultModel {
		t.Fatalf("unexpected reasoning defaults: %+v", cfg.Reasoning)
	}
	if cfg.Reasoning.Budget() != DefaultThinkingBudget {
		t.Fatalf("thinking budget default missing: %d", cfg.Reasoning.Budget())
	}
	if cfg.BasicConfig.MaxUploadBytes != DefaultMaxUploadBytes {
		t.Fatalf("max upload default missing: %d", cfg.BasicConfig.MaxUploadBytes)
	}
	if cfg.Reasoning.APIKeyEnv != DefaultAPIKeyEnv {
		t.Fatalf("api key env default missing: %s", cfg.Reasoning.APIKeyEnv)
	}
}

func TestLoadKeepsZeroThinkingBudget(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{"reasoning": {"thinking_budget": 0}}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Reasoning.ThinkingBudget == nil || cfg.Reasoning.Budget() != 0 {
		t.Fatalf("explicit zero budget overwritten: %v", cfg.Reasoning.ThinkingBudget)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, `{
		"reasoning": {"api_key_file": "secret.txt"},
		"database": "sqlite3",
		"databases": {"sqlite3": {"dsn": "archive.db"}}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dir := filepath.Dir(path)
	if cfg.Reasoning.APIKeyFile != filepath.Join(dir, "secret.txt") {
		t.Fatalf("api key file not resolved: %s", cfg.Reasoning.APIKeyFile)
	}
	if cfg.Databases["sqlite3"].DSN != filepath.Join(dir, "archive.db") {
		t.Fatalf("sqlite dsn not resolved: %s", cfg.Databases["sqlite3"].DSN)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"unknown provider": `{"reasoning": {"provider": "mystery"}}`,
		"missing database": `{"database": "mysql"}`,
		"bad log level":    `{"log": {"level": "loud"}}`,
		"negative window":  `{"basic_config": {"history_window": -1}}`,
		"negative budget":  `{"reasoning": {"thinking_budget": -1}}`,
		"malformed json":   `{"basic_config":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
