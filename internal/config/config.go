package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config defines server configuration.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Server    ServerConfig    `yaml:"server"`
	DB        DBConfig        `yaml:"db"`
	Log       LogConfig       `yaml:"log"`
	Auth      AuthConfig      `yaml:"auth"`
	Lease     LeaseConfig     `yaml:"lease"`
	Context   ContextConfig   `yaml:"context"`
	LLM       LLMConfig       `yaml:"llm"`
}

type TransportConfig struct {
	Mode string `yaml:"mode"` // "stdio" or "http"
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LeaseConfig tunes the ref-lock manager. TTLSeconds is clamped to
// minLeaseTTLSeconds after all sources are applied.
type LeaseConfig struct {
	TTLSeconds       int `yaml:"ttl_seconds"`
	WaitBoundSeconds int `yaml:"wait_bound_seconds"`
}

const minLeaseTTLSeconds = 10

// ContextConfig tunes context assembly for streaming turns: how many recent
// nodes are considered, the token budget, and which role synthesized merge
// summaries are attributed to ("user" or "assistant").
type ContextConfig struct {
	HistoryLimit     int    `yaml:"history_limit"`
	TokenLimit       int    `yaml:"token_limit"`
	MergeSummaryRole string `yaml:"merge_summary_role"`
}

// LLMConfig carries the default provider binding and per-provider API keys
// the stream coordinator's provider registry is built from.
type LLMConfig struct {
	DefaultProvider   string `yaml:"default_provider"`
	OpenAIAPIKey      string `yaml:"openai_api_key"`
	OpenAIRespAPIKey  string `yaml:"openai_responses_api_key"`
	GeminiAPIKey      string `yaml:"gemini_api_key"`
}

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	defaultDBPath := "loom.db"
	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		defaultDBPath = filepath.Join(exeDir, "loom.db")
	}

	cfg := Config{
		Transport: TransportConfig{
			Mode: "stdio", // default to stdio for local development
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		DB: DBConfig{
			Path: defaultDBPath,
		},
		Log: LogConfig{
			Level: "info",
		},
		Auth: AuthConfig{
			Enabled: true,
		},
		Lease: LeaseConfig{
			TTLSeconds:       120,
			WaitBoundSeconds: 3,
		},
		Context: ContextConfig{
			HistoryLimit:     40,
			TokenLimit:       8000,
			MergeSummaryRole: "assistant",
		},
		LLM: LLMConfig{
			DefaultProvider: "openai_chat",
		},
	}

	if path := os.Getenv("LOOM_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if mode := os.Getenv("LOOM_TRANSPORT"); mode != "" {
		cfg.Transport.Mode = mode
	}
	if host := os.Getenv("LOOM_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := os.Getenv("LOOM_SERVER_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOOM_SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if dbPath := os.Getenv("LOOM_DB_PATH"); dbPath != "" {
		cfg.DB.Path = dbPath
	}
	if level := os.Getenv("LOOM_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if enabled := os.Getenv("LOOM_AUTH_ENABLED"); enabled != "" {
		value, err := strconv.ParseBool(enabled)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOOM_AUTH_ENABLED: %w", err)
		}
		cfg.Auth.Enabled = value
	}
	if ttlStr := os.Getenv("LOOM_LEASE_TTL_SECONDS"); ttlStr != "" {
		v, err := strconv.Atoi(ttlStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOOM_LEASE_TTL_SECONDS: %w", err)
		}
		cfg.Lease.TTLSeconds = v
	}
	if waitStr := os.Getenv("LOOM_LEASE_WAIT_BOUND_SECONDS"); waitStr != "" {
		v, err := strconv.Atoi(waitStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOOM_LEASE_WAIT_BOUND_SECONDS: %w", err)
		}
		cfg.Lease.WaitBoundSeconds = v
	}
	if limitStr := os.Getenv("LOOM_HISTORY_LIMIT"); limitStr != "" {
		v, err := strconv.Atoi(limitStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOOM_HISTORY_LIMIT: %w", err)
		}
		cfg.Context.HistoryLimit = v
	}
	if limitStr := os.Getenv("LOOM_TOKEN_LIMIT"); limitStr != "" {
		v, err := strconv.Atoi(limitStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOOM_TOKEN_LIMIT: %w", err)
		}
		cfg.Context.TokenLimit = v
	}
	if role := os.Getenv("LOOM_MERGE_SUMMARY_ROLE"); role != "" {
		if role != "user" && role != "assistant" {
			return Config{}, fmt.Errorf("invalid LOOM_MERGE_SUMMARY_ROLE: %q", role)
		}
		cfg.Context.MergeSummaryRole = role
	}
	if provider := os.Getenv("LOOM_LLM_DEFAULT_PROVIDER"); provider != "" {
		cfg.LLM.DefaultProvider = provider
	}
	if key := os.Getenv("LOOM_OPENAI_API_KEY"); key != "" {
		cfg.LLM.OpenAIAPIKey = key
	}
	if key := os.Getenv("LOOM_OPENAI_RESPONSES_API_KEY"); key != "" {
		cfg.LLM.OpenAIRespAPIKey = key
	}
	if key := os.Getenv("LOOM_GEMINI_API_KEY"); key != "" {
		cfg.LLM.GeminiAPIKey = key
	}

	if cfg.Lease.TTLSeconds < minLeaseTTLSeconds {
		cfg.Lease.TTLSeconds = minLeaseTTLSeconds
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
