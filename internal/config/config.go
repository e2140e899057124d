package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir" envconfig:"SLIDEREEL_DATA_DIR"`
	LogDir   string `toml:"log_dir" envconfig:"SLIDEREEL_LOG_DIR"`
	APIBind  string `toml:"api_bind" envconfig:"SLIDEREEL_API_BIND"`
	APIToken string `toml:"api_token" envconfig:"SLIDEREEL_API_TOKEN"`
}

// Security contains archive validation ceilings applied before extraction.
type Security struct {
	MaxUploadMiB        int     `toml:"max_upload_mib"`
	MaxEntryCount       int     `toml:"max_entry_count"`
	MaxCompressionRatio float64 `toml:"max_compression_ratio"`
	MaxEntryRatio       float64 `toml:"max_entry_ratio"`
	MaxSlideCount       int     `toml:"max_slide_count"`
}

// Narration contains text-to-speech provider configuration.
type Narration struct {
	TTSBinary  string `toml:"tts_binary"`
	TTSVoice   string `toml:"tts_voice"`
	TTSURL     string `toml:"tts_url"`
	TTSAPIKey  string `toml:"tts_api_key" envconfig:"SLIDEREEL_TTS_API_KEY"`
	TTSTimeout int    `toml:"tts_timeout"`
}

// Rendering contains video composition and encoder configuration.
type Rendering struct {
	FFmpegBinary string `toml:"ffmpeg_binary"`
	Width        int    `toml:"width"`
	Height       int    `toml:"height"`
	FrameRate    int    `toml:"frame_rate"`
	Preset       string `toml:"preset"`
	CRF          int    `toml:"crf"`
	AudioBitrate string `toml:"audio_bitrate"`
}

// AssetCache contains configuration for the shared rendered-asset cache.
type AssetCache struct {
	Enabled    bool `toml:"enabled"`
	MaxEntries int  `toml:"max_entries"`
	TTLMinutes int  `toml:"ttl_minutes"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic" envconfig:"SLIDEREEL_NTFY_TOPIC"`
	RequestTimeout int    `toml:"request_timeout"`
	JobEvents      bool   `toml:"job_events"`
	Errors         bool   `toml:"errors"`
}

// Workflow contains daemon timing, concurrency, and retry configuration.
type Workflow struct {
	MaxConcurrentJobs  int `toml:"max_concurrent_jobs"`
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`

	ValidationTimeout int `toml:"validation_timeout"`
	ExtractionTimeout int `toml:"extraction_timeout"`
	SynthesisTimeout  int `toml:"synthesis_timeout"`
	RenderTimeout     int `toml:"render_timeout"`

	ExtractAttempts    int `toml:"extract_attempts"`
	SynthesizeAttempts int `toml:"synthesize_attempts"`
	RenderAttempts     int `toml:"render_attempts"`
	RetryBaseDelayMS   int `toml:"retry_base_delay_ms"`
	RetryMaxDelayMS    int `toml:"retry_max_delay_ms"`

	BreakerThreshold       int `toml:"breaker_threshold"`
	BreakerCooldownSeconds int `toml:"breaker_cooldown_seconds"`

	MinFreeSpaceMiB int `toml:"min_free_space_mib"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format" envconfig:"SLIDEREEL_LOG_FORMAT"`
	Level  string `toml:"level" envconfig:"SLIDEREEL_LOG_LEVEL"`
}

// Config encapsulates all configuration values for slidereel.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Security: archive bomb ceilings checked before extraction
//   - Narration: TTS provider chain settings
//   - Rendering: frame geometry and ffmpeg encoder settings
//   - AssetCache: shared rendered-asset cache bounds
//   - Notifications: ntfy push notification settings
//   - Workflow: concurrency, stage timeouts, retry, and breaker policy
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Security      Security      `toml:"security"`
	Narration     Narration     `toml:"narration"`
	Rendering     Rendering     `toml:"rendering"`
	AssetCache    AssetCache    `toml:"asset_cache"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/slidereel/config.toml")
}

// Load locates, parses, and validates a configuration file. Environment
// variables prefixed SLIDEREEL_ override file values. The returned config has
// all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		data, err := os.ReadFile(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, "", false, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err = os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}

	projectPath, err := filepath.Abs("slidereel.toml")
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the daemon needs at runtime.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.ScratchRoot(), c.UploadDir(), c.ArtifactDir()} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ScratchRoot returns the root directory for per-job scratch workspaces.
func (c *Config) ScratchRoot() string {
	return filepath.Join(c.Paths.DataDir, "scratch")
}

// UploadDir returns the directory that holds submitted archives awaiting processing.
func (c *Config) UploadDir() string {
	return filepath.Join(c.Paths.DataDir, "uploads")
}

// ArtifactDir returns the directory that holds completed videos and thumbnails.
func (c *Config) ArtifactDir() string {
	return filepath.Join(c.Paths.DataDir, "artifacts")
}

// CacheDir returns the directory backing the rendered-asset cache.
func (c *Config) CacheDir() string {
	return filepath.Join(c.Paths.DataDir, "cache")
}

// MaxUploadBytes returns the upload ceiling in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Security.MaxUploadMiB) * 1024 * 1024
}

// SampleConfig returns the embedded sample configuration file contents.
func SampleConfig() string {
	return sampleConfig
}

// WriteSample writes the sample config to the given path, refusing to overwrite.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config already exists at %s", expanded)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}
