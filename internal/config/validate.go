package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	if err := c.validateRendering(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.Security.MaxUploadMiB <= 0 {
		return errors.New("security.max_upload_mib must be positive")
	}
	if c.Security.MaxEntryCount <= 0 {
		return errors.New("security.max_entry_count must be positive")
	}
	if c.Security.MaxCompressionRatio <= 1 {
		return errors.New("security.max_compression_ratio must be greater than 1")
	}
	if c.Security.MaxEntryRatio < c.Security.MaxCompressionRatio {
		return errors.New("security.max_entry_ratio must be at least security.max_compression_ratio")
	}
	if c.Security.MaxSlideCount <= 0 {
		return errors.New("security.max_slide_count must be positive")
	}
	return nil
}

func (c *Config) validateRendering() error {
	if strings.TrimSpace(c.Rendering.FFmpegBinary) == "" {
		return errors.New("rendering.ffmpeg_binary must be set")
	}
	if c.Rendering.Width <= 0 || c.Rendering.Height <= 0 {
		return errors.New("rendering.width and rendering.height must be positive")
	}
	if c.Rendering.Width%2 != 0 || c.Rendering.Height%2 != 0 {
		return errors.New("rendering.width and rendering.height must be even for yuv420p output")
	}
	if c.Rendering.FrameRate <= 0 {
		return errors.New("rendering.frame_rate must be positive")
	}
	if c.Rendering.CRF < 0 || c.Rendering.CRF > 51 {
		return errors.New("rendering.crf must be between 0 and 51")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	w := c.Workflow
	if w.MaxConcurrentJobs <= 0 {
		return errors.New("workflow.max_concurrent_jobs must be positive")
	}
	if w.QueuePollInterval <= 0 {
		return errors.New("workflow.queue_poll_interval must be positive")
	}
	if w.HeartbeatInterval <= 0 || w.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_interval and workflow.heartbeat_timeout must be positive")
	}
	if w.HeartbeatTimeout <= w.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	for name, v := range map[string]int{
		"workflow.validation_timeout": w.ValidationTimeout,
		"workflow.extraction_timeout": w.ExtractionTimeout,
		"workflow.synthesis_timeout":  w.SynthesisTimeout,
		"workflow.render_timeout":     w.RenderTimeout,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	for name, v := range map[string]int{
		"workflow.extract_attempts":    w.ExtractAttempts,
		"workflow.synthesize_attempts": w.SynthesizeAttempts,
		"workflow.render_attempts":     w.RenderAttempts,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if w.BreakerThreshold <= 0 {
		return errors.New("workflow.breaker_threshold must be positive")
	}
	if w.BreakerCooldownSeconds <= 0 {
		return errors.New("workflow.breaker_cooldown_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
