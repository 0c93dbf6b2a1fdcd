package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BackendURL != "http://localhost:8000" {
		t.Fatalf("unexpected backend url: %q", cfg.BackendURL)
	}
	if cfg.RequestTimeout != 120 {
		t.Fatalf("unexpected timeout: %d", cfg.RequestTimeout)
	}
	if cfg.Storage.Driver != "bolt" {
		t.Fatalf("unexpected storage driver: %q", cfg.Storage.Driver)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"backend_url": "http://backend:9000",
		"request_timeout_seconds": 30,
		"storage": {"driver": "sqlite", "dsn": ":memory:"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BackendURL != "http://backend:9000" {
		t.Fatalf("backend url not applied: %q", cfg.BackendURL)
	}
	if cfg.RequestTimeout != 30 {
		t.Fatalf("timeout not applied: %d", cfg.RequestTimeout)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.DSN != ":memory:" {
		t.Fatalf("storage not applied: %#v", cfg.Storage)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"backend_url": "http://from-file:9000"}`)
	t.Setenv("UNICORNAI_BACKEND_URL", "http://from-env:7000")
	t.Setenv("UNICORNAI_STORAGE", "redis")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BackendURL != "http://from-env:7000" {
		t.Fatalf("env override lost: %q", cfg.BackendURL)
	}
	if cfg.Storage.Driver != "redis" {
		t.Fatalf("env storage override lost: %q", cfg.Storage.Driver)
	}
}

func TestLoadResolvesRelativeStoragePath(t *testing.T) {
	path := writeConfig(t, `{"storage": {"path": "state/client.db"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := filepath.Join(filepath.Dir(path), "state", "client.db")
	if cfg.Storage.Path != want {
		t.Fatalf("relative path not resolved against config dir: got %q want %q", cfg.Storage.Path, want)
	}
}

func TestLoadCorruptFileFails(t *testing.T) {
	path := writeConfig(t, `{not json`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected decode error for corrupt config")
	}
}
