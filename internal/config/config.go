package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server"`
	Providers []ProviderConfig `json:"providers"`
	Routing   RoutingConfig    `json:"routing"`
	Database  DatabaseConfig   `json:"database"`
	Engine    EngineConfig     `json:"engine"`
	Models    ModelsConfig     `json:"models"`
}

// RoutingConfig maps router callers (planner, verifier, conflict,
// worker:<type>) to provider IDs, with optional fallback chains.
type RoutingConfig struct {
	Default   string              `json:"default,omitempty"`
	Bindings  map[string]string   `json:"bindings,omitempty"`
	Fallbacks map[string][]string `json:"fallbacks,omitempty"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ProviderConfig struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"api_key"`
	Models   []string          `json:"models,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// EngineConfig tunes the run loop. Zero values fall back to engine defaults.
type EngineConfig struct {
	MaxRetries      int `json:"max_retries"`
	ExecTimeoutSec  int `json:"exec_timeout_sec"`
	VerifyTimeout   int `json:"verify_timeout_sec"`
	ConflictTimeout int `json:"conflict_timeout_sec"`
}

func (e EngineConfig) ExecTimeout() time.Duration {
	return time.Duration(e.ExecTimeoutSec) * time.Second
}

func (e EngineConfig) VerifyTimeoutDuration() time.Duration {
	return time.Duration(e.VerifyTimeout) * time.Second
}

func (e EngineConfig) ConflictTimeoutDuration() time.Duration {
	return time.Duration(e.ConflictTimeout) * time.Second
}

// ModelsConfig maps each capability to the model it routes on.
type ModelsConfig struct {
	Planner  string `json:"planner"`
	Verifier string `json:"verifier"`
	Conflict string `json:"conflict"`
	Worker   string `json:"worker"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
