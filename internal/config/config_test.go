package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, _, exists, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if cfg.Rendering.FrameRate != defaultFrameRate {
		t.Fatalf("frame rate = %d, want default %d", cfg.Rendering.FrameRate, defaultFrameRate)
	}
	if cfg.Workflow.RenderAttempts != defaultRenderAttempts {
		t.Fatalf("render attempts = %d, want default %d", cfg.Workflow.RenderAttempts, defaultRenderAttempts)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + dir + `/data"
log_dir = "` + dir + `/logs"

[rendering]
width = 1920
height = 1080

[logging]
format = "JSON"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("resolved = %q exists = %v", resolved, exists)
	}
	if cfg.Rendering.Width != 1920 || cfg.Rendering.Height != 1080 {
		t.Fatalf("rendering geometry not applied: %dx%d", cfg.Rendering.Width, cfg.Rendering.Height)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("logging format not normalized: %q", cfg.Logging.Format)
	}
	if !filepath.IsAbs(cfg.Paths.DataDir) {
		t.Fatalf("data dir not absolute: %q", cfg.Paths.DataDir)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SLIDEREEL_API_TOKEN", "sekrit")
	cfg, _, _, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.APIToken != "sekrit" {
		t.Fatalf("env override not applied, got %q", cfg.Paths.APIToken)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"odd width", func(c *Config) { c.Rendering.Width = 1281 }, "even"},
		{"zero ratio", func(c *Config) { c.Security.MaxCompressionRatio = 1 }, "max_compression_ratio"},
		{"entry ratio below aggregate", func(c *Config) { c.Security.MaxEntryRatio = 10 }, "max_entry_ratio"},
		{"no workers", func(c *Config) { c.Workflow.MaxConcurrentJobs = 0 }, "max_concurrent_jobs"},
		{"heartbeat inverted", func(c *Config) { c.Workflow.HeartbeatTimeout = c.Workflow.HeartbeatInterval }, "heartbeat_timeout"},
		{"bad crf", func(c *Config) { c.Rendering.CRF = 99 }, "crf"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Paths.DataDir = t.TempDir()
			cfg.Paths.LogDir = t.TempDir()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if err := WriteSample(path); err == nil {
		t.Fatal("expected overwrite refusal")
	}
}
