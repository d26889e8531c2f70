package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration, loaded once at startup.
// Everything here is read-only after Load returns.
type Config struct {
	App           AppConfig           `yaml:"app"`
	Provider      ProviderConfig      `yaml:"provider"`
	Paths         PathsConfig         `yaml:"paths"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Server        ServerConfig        `yaml:"server"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

type AppConfig struct {
	Name string `yaml:"name"`
}

type ProviderConfig struct {
	Name    string `yaml:"name"` // openai, openrouter, nvidia
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
}

type PathsConfig struct {
	PDFDir       string `yaml:"pdf_dir"`
	DocumentsDir string `yaml:"documents_dir"`
	OutputDir    string `yaml:"output_dir"`
	DatabasePath string `yaml:"database_path"`
}

type PipelineConfig struct {
	// StageTimeout bounds every inference-service call; expiry is an
	// ordinary stage failure, not a process error.
	StageTimeout time.Duration `yaml:"stage_timeout"`
	// ContextCharLimit truncates string fields merged into the stage
	// context so long pipelines cannot grow payloads without bound.
	ContextCharLimit int `yaml:"context_char_limit"`
	MaxPDFs          int `yaml:"max_pdfs"`
	MaxSearchResults int `yaml:"max_search_results"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type NotificationsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

// Load reads and validates the YAML config file. Configuration problems are
// surfaced here, before any pipeline run begins.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	// Environment override so the key never has to live on disk.
	if key := os.Getenv("FOIABUDDY_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the values used when a field is absent from the file.
func Default() *Config {
	return &Config{
		App: AppConfig{Name: "foiabuddy"},
		Provider: ProviderConfig{
			Name:  "openai",
			Model: "gpt-4o-mini",
		},
		Paths: PathsConfig{
			PDFDir:       "sample_data/pdfs",
			DocumentsDir: "sample_data/documents",
			OutputDir:    "output",
			DatabasePath: "foiabuddy.db",
		},
		Pipeline: PipelineConfig{
			StageTimeout:     120 * time.Second,
			ContextCharLimit: 8000,
			MaxPDFs:          20,
			MaxSearchResults: 5,
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Validate enforces startup-time requirements.
func (c *Config) Validate() error {
	if c.Provider.APIKey == "" {
		return fmt.Errorf("config: provider api_key is required (or set FOIABUDDY_API_KEY)")
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("config: provider model is required")
	}
	switch c.Provider.Name {
	case "openai", "openrouter", "nvidia":
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider.Name)
	}
	if c.Pipeline.StageTimeout <= 0 {
		return fmt.Errorf("config: pipeline stage_timeout must be positive")
	}
	if c.Pipeline.ContextCharLimit <= 0 {
		return fmt.Errorf("config: pipeline context_char_limit must be positive")
	}
	if c.Notifications.Telegram.Enabled && c.Notifications.Telegram.Token == "" {
		return fmt.Errorf("config: telegram notifications enabled but token is missing")
	}
	return nil
}
