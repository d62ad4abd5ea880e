package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
ark:
  api_key: test-key
  model: doubao-pro-32k
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}

	if cfg.Provider != "ark" {
		t.Errorf("Provider = %q, want ark", cfg.Provider)
	}
	if cfg.Agent.MaxIterations != 15 {
		t.Errorf("Agent.MaxIterations = %d, want 15", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.Temperature != 0.2 {
		t.Errorf("Agent.Temperature = %v, want 0.2", cfg.Agent.Temperature)
	}
	if cfg.Ark.APIBase == "" {
		t.Error("Ark.APIBase default not applied")
	}
	if cfg.Listen.Port != 8300 {
		t.Errorf("Listen.Port = %d, want 8300", cfg.Listen.Port)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_ARK_KEY", "secret-from-env")

	path := writeConfig(t, `
ark:
  api_key: ${TEST_ARK_KEY}
  model: doubao-pro-32k
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Ark.APIKey != "secret-from-env" {
		t.Errorf("Ark.APIKey = %q, want secret-from-env", cfg.Ark.APIKey)
	}
}

func TestLoadRejectsMissingArkKey(t *testing.T) {
	path := writeConfig(t, `
ark:
  model: doubao-pro-32k
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() succeeded without ark.api_key, want error")
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := writeConfig(t, `
provider: bard
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() succeeded with unknown provider, want error")
	}
}

func TestLoadRejectsBadServiceStrategy(t *testing.T) {
	path := writeConfig(t, `
ark:
  api_key: k
  model: m
services:
  - name: parser
    command: python3
    args: [parser.py]
    strategy: forked
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() succeeded with unknown service strategy, want error")
	}
}

func TestLoadRejectsServiceWithoutCommand(t *testing.T) {
	path := writeConfig(t, `
ark:
  api_key: k
  model: m
services:
  - name: parser
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() succeeded with command-less service, want error")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"trace", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{" debug ", slog.LevelDebug, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFindConfigExplicitMissing(t *testing.T) {
	if _, err := FindConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("FindConfig() with missing explicit path succeeded, want error")
	}
}

func TestServiceTimeoutDefault(t *testing.T) {
	svc := ServiceConfig{Name: "x", Command: "y"}
	if got := svc.Timeout().Seconds(); got != 60 {
		t.Errorf("Timeout() = %vs, want 60s", got)
	}

	svc.TimeoutSec = 5
	if got := svc.Timeout().Seconds(); got != 5 {
		t.Errorf("Timeout() = %vs, want 5s", got)
	}
}
