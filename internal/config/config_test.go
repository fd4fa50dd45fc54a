package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"conviction-engine/internal/errors"
	"conviction-engine/internal/models"
)

func TestLoadWritesTemplateAndUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Errorf("expected template to be written: %v", err)
	}
	if cfg.Engine.Profile != "general" {
		t.Errorf("profile = %q, want general", cfg.Engine.Profile)
	}
	if cfg.Engine.CycleTimeout != 2*time.Minute {
		t.Errorf("cycle_timeout = %v", cfg.Engine.CycleTimeout)
	}
	if got := cfg.Windows.Lookback(models.SourceARK); got != 30*24*time.Hour {
		t.Errorf("ark lookback = %v", got)
	}
	if w := cfg.CrisisWeights(); w[models.SourceCongress] != 25 || w[models.SourceDarkPool] != 15 {
		t.Errorf("unexpected crisis weights %v", w)
	}
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	content := `
[engine]
profile = "crisis"
workers = 8
stale_source_policy = "last_good"

[short_interest]
squeeze_direction = "bullish"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONVICTION_DB_PATH", "/tmp/override.db")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.Profile != "crisis" || cfg.Engine.Workers != 8 {
		t.Errorf("file values not applied: %+v", cfg.Engine)
	}
	if cfg.Engine.StaleSourcePolicy != "last_good" {
		t.Errorf("policy = %q", cfg.Engine.StaleSourcePolicy)
	}
	if cfg.ShortInterest.SqueezeDirection != "bullish" {
		t.Errorf("squeeze direction = %q", cfg.ShortInterest.SqueezeDirection)
	}
	if cfg.Store.Path != "/tmp/override.db" {
		t.Errorf("env override not applied: %q", cfg.Store.Path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown profile", func(c *Config) { c.Engine.Profile = "momentum" }},
		{"bad policy", func(c *Config) { c.Engine.StaleSourcePolicy = "cache" }},
		{"zero workers", func(c *Config) { c.Engine.Workers = 0 }},
		{"zero breaker threshold", func(c *Config) { c.Engine.BreakerFailures = 0 }},
		{"zero retry attempts", func(c *Config) { c.Engine.RetryAttempts = 0 }},
		{"dampening above one", func(c *Config) { c.Engine.NeutralDampening = 1.5 }},
		{"zero window", func(c *Config) { c.Windows.Insider = 0 }},
		{"bad decay", func(c *Config) { c.Decay.Mode = "step" }},
		{"bad squeeze direction", func(c *Config) { c.ShortInterest.SqueezeDirection = "up" }},
		{"negative baseline days", func(c *Config) { c.DarkPool.BaselineDays = -1 }},
		{"zero baseline days", func(c *Config) { c.DarkPool.BaselineDays = 0 }},
		{"negative min baseline", func(c *Config) { c.DarkPool.MinBaseline = -1 }},
		{"zero z threshold", func(c *Config) { c.DarkPool.ZThreshold = 0 }},
		{"negative flat change", func(c *Config) { c.ShortInterest.FlatChangePct = -5 }},
		{"crisis weights off", func(c *Config) { c.Profiles.Crisis["ark"] = 30 }},
		{"crisis unknown source", func(c *Config) { c.Profiles.Crisis["options"] = 0 }},
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, errors.ErrConfigInvalid) {
				t.Errorf("expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}
