package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/pocvault/internal/config"
)

func TestLoad_DefaultsApplied(t *testing.T) {
	home := filepath.Join(t.TempDir(), "vault")
	t.Setenv("POCVAULT_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LLM.Provider != "google" {
		t.Fatalf("expected default provider=google, got %q", cfg.LLM.Provider)
	}
	if cfg.LLM.ReviewModel != cfg.LLM.GenerateModel {
		t.Fatalf("review model should default to generate model, got %q / %q", cfg.LLM.ReviewModel, cfg.LLM.GenerateModel)
	}
	if cfg.Nuclei.Path != "nuclei" {
		t.Fatalf("expected default nuclei path, got %q", cfg.Nuclei.Path)
	}
	if cfg.LibraryDir != filepath.Join(home, "library") {
		t.Fatalf("unexpected library dir %q", cfg.LibraryDir)
	}
	if cfg.Script.TimeoutSeconds != 30 || cfg.Script.MemoryLimitPages != 160 {
		t.Fatalf("unexpected script defaults: %+v", cfg.Script)
	}
}

func TestLoad_FromConfigFile(t *testing.T) {
	home := filepath.Join(t.TempDir(), "vault")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	body := "log_level: debug\nllm:\n  provider: openai_compatible\n  generate_model: glm-4.6\n  review_model: deepseek-r1\n  base_url: https://api.example.test/v1\nnuclei:\n  timeout_seconds: 10\n"
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("POCVAULT_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log_level=debug, got %q", cfg.LogLevel)
	}
	if cfg.LLM.GenerateModel != "glm-4.6" || cfg.LLM.ReviewModel != "deepseek-r1" {
		t.Fatalf("unexpected models: %+v", cfg.LLM)
	}
	if cfg.Nuclei.TimeoutSeconds != 10 {
		t.Fatalf("expected nuclei timeout 10, got %d", cfg.Nuclei.TimeoutSeconds)
	}
}

func TestAPIKey_EnvOverridesConfig(t *testing.T) {
	home := filepath.Join(t.TempDir(), "vault")
	t.Setenv("POCVAULT_HOME", home)
	t.Setenv("GOOGLE_API_KEY", "env-key")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.LLM.APIKey = "file-key"
	if got := cfg.APIKey(); got != "env-key" {
		t.Fatalf("expected env key to win, got %q", got)
	}
}

func TestSetModel_PreservesOtherSettings(t *testing.T) {
	home := filepath.Join(t.TempDir(), "vault")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(config.ConfigPath(home), []byte("log_level: warn\nllm:\n  api_key: keep-me\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("POCVAULT_HOME", home)

	if err := config.SetModel(home, "anthropic", "claude-sonnet-4-5", "claude-haiku-4-5"); err != nil {
		t.Fatalf("set model: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("log_level clobbered: %q", cfg.LogLevel)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.LLM.GenerateModel != "claude-sonnet-4-5" || cfg.LLM.ReviewModel != "claude-haiku-4-5" {
		t.Fatalf("unexpected llm config: %+v", cfg.LLM)
	}
	if cfg.LLM.APIKey != "keep-me" {
		t.Fatalf("api_key clobbered: %q", cfg.LLM.APIKey)
	}
}

func TestAPIKeyPreview_Elides(t *testing.T) {
	home := filepath.Join(t.TempDir(), "vault")
	t.Setenv("POCVAULT_HOME", home)
	t.Setenv("GOOGLE_API_KEY", "")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if got := cfg.APIKeyPreview(); got != "unset" {
		t.Fatalf("expected unset preview, got %q", got)
	}
	cfg.LLM.APIKey = "sk-0123456789abcdef"
	got := cfg.APIKeyPreview()
	if got != "sk-0123...cdef" {
		t.Fatalf("unexpected preview %q", got)
	}
}

func TestFingerprint_Stable(t *testing.T) {
	home := filepath.Join(t.TempDir(), "vault")
	t.Setenv("POCVAULT_HOME", home)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	a := cfg.Fingerprint()
	b := cfg.Fingerprint()
	if a != b || a == "" {
		t.Fatalf("fingerprint not stable: %q vs %q", a, b)
	}
	cfg.LLM.GenerateModel = "other-model"
	if cfg.Fingerprint() == a {
		t.Fatalf("fingerprint should change with model")
	}
}
