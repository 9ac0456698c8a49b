package config

import (
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 8484 {
		t.Errorf("Port = %d, want 8484", cfg.Port)
	}
	if cfg.OpenRouterBaseURL != "https://openrouter.ai/api/v1" {
		t.Errorf("OpenRouterBaseURL = %q", cfg.OpenRouterBaseURL)
	}
	if cfg.DefaultModel == "" || cfg.VisionModel == "" {
		t.Error("model defaults missing")
	}
	if cfg.CacheDir != filepath.Join(cfg.DataDir, "cache") {
		t.Errorf("CacheDir = %q, want under DataDir", cfg.CacheDir)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FADEN_PORT", "9090")
	t.Setenv("FADEN_DEFAULT_MODEL", "anthropic/claude-sonnet")
	t.Setenv("FADEN_CACHE_DIR", "/tmp/faden-cache")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.DefaultModel != "anthropic/claude-sonnet" {
		t.Errorf("DefaultModel = %q", cfg.DefaultModel)
	}
	if cfg.CacheDir != "/tmp/faden-cache" {
		t.Errorf("CacheDir = %q, want explicit value kept", cfg.CacheDir)
	}
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/anna")
	got, err := expandHome("~/.faden")
	if err != nil {
		t.Fatalf("expandHome failed: %v", err)
	}
	if got != "/home/anna/.faden" {
		t.Errorf("expandHome() = %q", got)
	}

	got, err = expandHome("/abs/path")
	if err != nil || got != "/abs/path" {
		t.Errorf("expandHome(/abs/path) = %q, %v", got, err)
	}
}
