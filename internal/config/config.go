// Package config loads client runtime configuration: a JSON file (path from
// UNICORNAI_CONFIG, defaulting to config.json) with environment variable
// overrides applied on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Config represents runtime configuration for the client.
type Config struct {
	BackendURL     string        `json:"backend_url" env:"UNICORNAI_BACKEND_URL"`
	RequestTimeout int           `json:"request_timeout_seconds" env:"UNICORNAI_REQUEST_TIMEOUT"`
	Storage        StorageConfig `json:"storage"`
	Redis          RedisConfig   `json:"redis"`
}

// StorageConfig selects and configures the key-value backend.
type StorageConfig struct {
	// Driver is one of bolt, sqlite, mysql, redis.
	Driver string `json:"driver" env:"UNICORNAI_STORAGE"`
	// Path is the bolt file location (bolt driver only).
	Path string `json:"path" env:"UNICORNAI_STORAGE_PATH"`
	// DSN is the database connection string (sqlite/mysql drivers).
	DSN string `json:"dsn" env:"UNICORNAI_STORAGE_DSN"`
}

type RedisConfig struct {
	Host     string `json:"host" env:"UNICORNAI_REDIS_HOST"`
	Port     int    `json:"port" env:"UNICORNAI_REDIS_PORT"`
	Username string `json:"username" env:"UNICORNAI_REDIS_USER"`
	Password string `json:"password" env:"UNICORNAI_REDIS_PASSWORD"`
	DB       int    `json:"db" env:"UNICORNAI_REDIS_DB"`
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing file is not an error: the client starts from defaults so first
// runs need no setup. Environment overrides always apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := &Config{
		BackendURL:     "http://localhost:8000",
		RequestTimeout: 120,
		Storage: StorageConfig{
			Driver: "bolt",
			Path:   "data/client_state.db",
		},
	}

	file, err := os.Open(absPath)
	if err == nil {
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config env: %w", err)
	}

	if cfg.Storage.Path != "" && !filepath.IsAbs(cfg.Storage.Path) {
		cfg.Storage.Path = filepath.Join(filepath.Dir(absPath), cfg.Storage.Path)
	}

	return cfg, nil
}
