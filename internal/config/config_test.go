package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  addr: ":9090"
  read_timeout: 10s
database:
  dsn: ":memory:"
completion:
  base_url: https://api.openai.com/v1
  api_key: sk-test
  model: gpt-4o
chat:
  system_prompt: "You are a concise assistant."
  context_window: 4096
  max_reply: 512
quota:
  anonymous_limit: 10000
  authenticated_limit: 50000
  overflow_allowance: 1000
  reset_timezone: America/New_York
  sweep_interval: 2m
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if cfg.Database.DSN != ":memory:" {
		t.Errorf("dsn = %q, want %q", cfg.Database.DSN, ":memory:")
	}
	if cfg.Completion.Model != "gpt-4o" {
		t.Errorf("model = %q, want %q", cfg.Completion.Model, "gpt-4o")
	}
	if cfg.Chat.ContextWindow != 4096 {
		t.Errorf("context_window = %d, want 4096", cfg.Chat.ContextWindow)
	}
	if cfg.Quota.AnonymousLimit != 10_000 || cfg.Quota.AuthenticatedLimit != 50_000 {
		t.Errorf("quota limits = %d/%d", cfg.Quota.AnonymousLimit, cfg.Quota.AuthenticatedLimit)
	}
	if cfg.Quota.SweepInterval != 2*time.Minute {
		t.Errorf("sweep_interval = %v", cfg.Quota.SweepInterval)
	}
	loc, err := cfg.Quota.Location()
	if err != nil {
		t.Fatal(err)
	}
	if loc.String() != "America/New_York" {
		t.Errorf("location = %v", loc)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, "database:\n  dsn: ':memory:'\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr = %q", cfg.Server.Addr)
	}
	if cfg.Chat.ContextWindow != 8192 {
		t.Errorf("default context_window = %d", cfg.Chat.ContextWindow)
	}
	if cfg.Quota.AuthenticatedLimit <= cfg.Quota.AnonymousLimit {
		t.Errorf("default tiers not ordered: %d <= %d", cfg.Quota.AuthenticatedLimit, cfg.Quota.AnonymousLimit)
	}
	loc, err := cfg.Quota.Location()
	if err != nil {
		t.Fatal(err)
	}
	if loc != time.UTC {
		t.Errorf("default location = %v, want UTC", loc)
	}
}

func TestExpandEnv(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv
	t.Setenv("TEST_API_KEY", "sk-secret-123")

	cfg, err := Load(writeConfig(t, "completion:\n  api_key: ${TEST_API_KEY}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Completion.APIKey != "sk-secret-123" {
		t.Errorf("api_key = %q, want expanded secret", cfg.Completion.APIKey)
	}

	// Unset vars stay as-is.
	result := expandEnv([]byte("key: ${DEFINITELY_NOT_SET_12345}"))
	if string(result) != "key: ${DEFINITELY_NOT_SET_12345}" {
		t.Errorf("unset var was rewritten: %q", result)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		yaml string
	}{
		{"inverted tiers", "quota:\n  anonymous_limit: 50000\n  authenticated_limit: 100\n"},
		{"zero window", "chat:\n  context_window: -1\n"},
		{"bad timezone", "quota:\n  reset_timezone: Mars/Olympus_Mons\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Error("Load accepted invalid config")
			}
		})
	}
}
