package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "friendlychat.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Backend != BackendMemory {
		t.Errorf("expected memory backend, got %q", cfg.Backend)
	}
	if cfg.Photos.MaxDimension != 1600 {
		t.Errorf("expected max dimension 1600, got %d", cfg.Photos.MaxDimension)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoad_MergesFileThenEnv(t *testing.T) {
	path := writeFile(t, strings.Join([]string{
		"backend: redis",
		"developerMode: true",
		"redis:",
		"  addr: redis.internal:6379",
		"orphans:",
		"  driver: sqlite",
		"  dsn: orphans.db",
		"  sweepInterval: 1m",
	}, "\n"))

	t.Setenv("REDIS_ADDR", "override:6379")
	t.Setenv("DISPLAY_NAME", "Alice")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Backend != BackendRedis {
		t.Errorf("expected redis backend, got %q", cfg.Backend)
	}
	if !cfg.DeveloperMode {
		t.Error("expected developer mode from file")
	}
	if cfg.Redis.Addr != "override:6379" {
		t.Errorf("expected env to win, got %q", cfg.Redis.Addr)
	}
	if cfg.Redis.Stream != "friendlychat:messages" {
		t.Errorf("unset field should keep default, got %q", cfg.Redis.Stream)
	}
	if cfg.DisplayName != "Alice" {
		t.Errorf("expected display name Alice, got %q", cfg.DisplayName)
	}
	if cfg.Orphans.SweepInterval != time.Minute {
		t.Errorf("expected 1m sweep interval, got %s", cfg.Orphans.SweepInterval)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit file")
	}
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("FEED_BACKEND", "carrier-pigeon")
	if _, err := Load(writeFile(t, "")); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestValidate_OrphanDriverNeedsDSN(t *testing.T) {
	cfg := Default()
	cfg.Orphans.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error without dsn")
	}
	cfg.Orphans.DSN = "postgres://localhost/friendlychat?sslmode=disable"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnvBoolIgnoresGarbage(t *testing.T) {
	t.Setenv("REQUIRE_TOKEN", "maybe")
	cfg := Default()
	ApplyEnvOverrides(&cfg)
	if cfg.Gateway.RequireToken {
		t.Error("garbage bool should leave the default")
	}
}
