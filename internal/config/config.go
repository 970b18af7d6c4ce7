// Package config loads the TOML runtime configuration.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type Config struct {
	LLM      LLMConfig      `toml:"llm"`
	Database DatabaseConfig `toml:"database"`
	Graph    GraphConfig    `toml:"graph"`
	Observer ObserverConfig `toml:"observer"`
}

type LLMConfig struct {
	// Credentials is the base64 client_id:client_secret pair.
	Credentials string `toml:"credentials"`
	Scope       string `toml:"scope"`
	Model       string `toml:"model"`
	BaseURL     string `toml:"base_url"`
	AuthURL     string `toml:"auth_url"`
}

type DatabaseConfig struct {
	// Driver selects the store backend: "sqlite" or "postgres".
	Driver      string `toml:"driver"`
	Path        string `toml:"path"`
	PostgresURL string `toml:"postgres_url"`
}

type GraphConfig struct {
	SystemPrompt       string `toml:"system_prompt"`
	MaxIterations      int    `toml:"max_iterations"`
	SummarizeThreshold int    `toml:"summarize_threshold"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Scope: "GIGACHAT_API_PERS",
			Model: "GigaChat",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   defaultDBPath(),
		},
	}
}

// Load reads the TOML config at path, falling back to defaults for any
// missing value. A missing file returns Default() unchanged; credentials
// can always be supplied via GIGACHAT_CREDENTIALS.
func Load(path string) Config {
	cfg := Default()
	if path != "" {
		// Unknown keys are ignored so old configs survive upgrades.
		toml.DecodeFile(path, &cfg) //nolint:errcheck
	}
	if cfg.LLM.Credentials == "" {
		cfg.LLM.Credentials = firstEnv("MAIN_GIGACHAT_CREDENTIALS", "GIGACHAT_CREDENTIALS")
	}
	return cfg
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "taiga.db"
	}
	return filepath.Join(home, ".taiga", "taiga.db")
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}
