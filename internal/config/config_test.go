package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"DB_URL":                   "postgres://db/stellara",
		"WORKER_POOL_SIZE":         "16",
		"LEASE_VISIBILITY_TIMEOUT": "2m",
		"STEP_EXECUTION_TIMEOUT":   "90000",
		"RETRY_BACKOFF":            "linear",
		"DEDUP_RETENTION":          "48h",
		"REDIS_ADDR":               "redis:6379",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.Database.URL != "postgres://db/stellara" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.Worker.PoolSize != 16 {
		t.Errorf("PoolSize = %d, want 16", cfg.Worker.PoolSize)
	}
	if cfg.Worker.Visibility != 2*time.Minute {
		t.Errorf("Visibility = %v, want 2m", cfg.Worker.Visibility)
	}
	// Число — миллисекунды
	if cfg.Worker.StepTimeout != 90*time.Second {
		t.Errorf("StepTimeout = %v, want 90s", cfg.Worker.StepTimeout)
	}
	if cfg.Retry.Backoff != "linear" || cfg.Dedup.Retention != 48*time.Hour || cfg.Redis.Addr != "redis:6379" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestApplyEnv_BadValues(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"WORKER_POOL_SIZE":    "many",
		"RETRY_INITIAL_DELAY": "soon",
	}))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("ApplyEnv() error = %v, want ErrInvalid", err)
	}
	// Нераспознанные значения не перетирают прежние
	if cfg.Worker.PoolSize != 4 {
		t.Errorf("PoolSize = %d, want default 4", cfg.Worker.PoolSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero pool", func(c *Config) { c.Worker.PoolSize = 0 }},
		{"zero visibility", func(c *Config) { c.Worker.Visibility = 0 }},
		{"timeout above visibility", func(c *Config) { c.Worker.StepTimeout = time.Minute }},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"unknown backoff", func(c *Config) { c.Retry.Backoff = "random" }},
		{"negative delay", func(c *Config) { c.Retry.InitialDelay = -time.Second }},
		{"no database", func(c *Config) { c.Database.URL = "" }},
		{"page size", func(c *Config) { c.Horizon.PageSize = 500 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stellara.yaml")
	data := `
database:
  url: postgres://file/stellara
worker:
  pool_size: 8
  step_timeout: 10s
retry:
  max_attempts: 5
redis:
  addr: localhost:6379
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Database.URL != "postgres://file/stellara" || cfg.Worker.PoolSize != 8 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Worker.StepTimeout != 10*time.Second {
		t.Errorf("StepTimeout = %v, want 10s", cfg.Worker.StepTimeout)
	}
	// Не указанное в файле остаётся по умолчанию
	if cfg.Worker.Visibility != 30*time.Second {
		t.Errorf("Visibility = %v, want default 30s", cfg.Worker.Visibility)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.Backoff != "exponential" {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stellara.yaml")
	if err := os.WriteFile(path, []byte("worker:\n  pool_size: 8\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigPath, path)
	t.Setenv("WORKER_POOL_SIZE", "12")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Worker.PoolSize != 12 {
		t.Errorf("PoolSize = %d, want env override 12", cfg.Worker.PoolSize)
	}
}

func TestRetryPolicy(t *testing.T) {
	p := Default().RetryPolicy()
	if p.MaxAttempts != 3 || p.Backoff != "exponential" || p.InitialDelayMs != 1000 || p.MaxDelayMs != 30000 {
		t.Errorf("RetryPolicy() = %+v", p)
	}
}
