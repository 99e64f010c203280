package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Embedding.URL != "http://localhost:8000" {
		t.Errorf("expected default embedding URL, got %s", cfg.Embedding.URL)
	}
	if cfg.Embedding.Dim != 512 {
		t.Errorf("expected default dim 512, got %d", cfg.Embedding.Dim)
	}
	if cfg.Pipeline.Concurrency != 5 {
		t.Errorf("expected default concurrency 5, got %d", cfg.Pipeline.Concurrency)
	}
	if cfg.Match.AcceptDistance != 0.4 {
		t.Errorf("expected default accept distance 0.4, got %f", cfg.Match.AcceptDistance)
	}
	if cfg.Organize.Overwrite {
		t.Error("overwrite must default to deny")
	}
	if cfg.Organize.UnsortedDir != "unsorted" {
		t.Errorf("expected unsorted dir 'unsorted', got %s", cfg.Organize.UnsortedDir)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FILESCOPE_CONCURRENCY", "3")
	t.Setenv("FILESCOPE_ACCEPT_DISTANCE", "0.25")
	t.Setenv("FILESCOPE_MOVE", "true")
	t.Setenv("FILESCOPE_EXTENSIONS", "jpg, PNG ,.webp")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Pipeline.Concurrency != 3 {
		t.Errorf("expected concurrency 3, got %d", cfg.Pipeline.Concurrency)
	}
	if cfg.Match.AcceptDistance != 0.25 {
		t.Errorf("expected accept distance 0.25, got %f", cfg.Match.AcceptDistance)
	}
	if !cfg.Organize.Move {
		t.Error("expected move mode enabled")
	}
	want := []string{".jpg", ".png", ".webp"}
	if len(cfg.Pipeline.Extensions) != len(want) {
		t.Fatalf("expected %d extensions, got %v", len(want), cfg.Pipeline.Extensions)
	}
	for i, ext := range want {
		if cfg.Pipeline.Extensions[i] != ext {
			t.Errorf("extension %d: expected %s, got %s", i, ext, cfg.Pipeline.Extensions[i])
		}
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filescope.yaml")
	content := "match:\n  accept_distance: 0.35\norganize:\n  unsorted_dir: nobody\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FILESCOPE_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Match.AcceptDistance != 0.35 {
		t.Errorf("expected accept distance 0.35 from file, got %f", cfg.Match.AcceptDistance)
	}
	if cfg.Organize.UnsortedDir != "nobody" {
		t.Errorf("expected unsorted dir from file, got %s", cfg.Organize.UnsortedDir)
	}
	// Defaults survive for fields the file does not set.
	if cfg.Match.ClusterDistance != 0.3 {
		t.Errorf("expected default cluster distance, got %f", cfg.Match.ClusterDistance)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Setenv("FILESCOPE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filescope.yaml")
	if err := os.WriteFile(path, []byte("pipeline:\n  concurrency: 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FILESCOPE_CONFIG", path)
	t.Setenv("FILESCOPE_CONCURRENCY", "9")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Pipeline.Concurrency != 9 {
		t.Errorf("env must override file, got %d", cfg.Pipeline.Concurrency)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero dim", func(c *Config) { c.Embedding.Dim = 0 }},
		{"detection threshold too high", func(c *Config) { c.Match.DetectionThreshold = 1.5 }},
		{"zero accept distance", func(c *Config) { c.Match.AcceptDistance = 0 }},
		{"negative epsilon", func(c *Config) { c.Match.TieEpsilon = -0.1 }},
		{"zero concurrency", func(c *Config) { c.Pipeline.Concurrency = 0 }},
		{"no extensions", func(c *Config) { c.Pipeline.Extensions = nil }},
		{"empty unsorted dir", func(c *Config) { c.Organize.UnsortedDir = "" }},
		{"zero retries", func(c *Config) { c.Organize.RetryAttempts = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConcurrency_BackgroundMode(t *testing.T) {
	cfg := defaults()
	cfg.Pipeline.Concurrency = 8
	cfg.Pipeline.BackgroundConcurrency = 2

	if got := cfg.Concurrency(false); got != 8 {
		t.Errorf("foreground concurrency: expected 8, got %d", got)
	}
	if got := cfg.Concurrency(true); got != 2 {
		t.Errorf("background concurrency: expected 2, got %d", got)
	}
}
