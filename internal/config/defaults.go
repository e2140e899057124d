package config

const (
	defaultDataDir = "~/.local/share/slidereel"
	defaultLogDir  = "~/.local/share/slidereel/logs"
	defaultAPIBind = "127.0.0.1:7519"

	defaultMaxUploadMiB        = 100
	defaultMaxEntryCount       = 1000
	defaultMaxCompressionRatio = 100
	defaultMaxEntryRatio       = 200
	defaultMaxSlideCount       = 50

	defaultTTSBinary  = "espeak-ng"
	defaultTTSVoice   = "en-US"
	defaultTTSTimeout = 60

	defaultFFmpegBinary = "ffmpeg"
	defaultWidth        = 1280
	defaultHeight       = 720
	defaultFrameRate    = 30
	defaultPreset       = "medium"
	defaultCRF          = 23
	defaultAudioBitrate = "128k"

	defaultCacheMaxEntries = 256
	defaultCacheTTLMinutes = 240

	defaultNotifyRequestTimeout = 10

	defaultMaxConcurrentJobs  = 2
	defaultQueuePollInterval  = 2
	defaultErrorRetryInterval = 5
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120

	defaultValidationTimeout = 30
	defaultExtractionTimeout = 60
	defaultSynthesisTimeout  = 300
	defaultRenderTimeout     = 600

	defaultExtractAttempts    = 2
	defaultSynthesizeAttempts = 2
	defaultRenderAttempts     = 3
	defaultRetryBaseDelayMS   = 500
	defaultRetryMaxDelayMS    = 15000

	defaultBreakerThreshold       = 5
	defaultBreakerCooldownSeconds = 60

	defaultMinFreeSpaceMiB = 512

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Security: Security{
			MaxUploadMiB:        defaultMaxUploadMiB,
			MaxEntryCount:       defaultMaxEntryCount,
			MaxCompressionRatio: defaultMaxCompressionRatio,
			MaxEntryRatio:       defaultMaxEntryRatio,
			MaxSlideCount:       defaultMaxSlideCount,
		},
		Narration: Narration{
			TTSBinary:  defaultTTSBinary,
			TTSVoice:   defaultTTSVoice,
			TTSTimeout: defaultTTSTimeout,
		},
		Rendering: Rendering{
			FFmpegBinary: defaultFFmpegBinary,
			Width:        defaultWidth,
			Height:       defaultHeight,
			FrameRate:    defaultFrameRate,
			Preset:       defaultPreset,
			CRF:          defaultCRF,
			AudioBitrate: defaultAudioBitrate,
		},
		AssetCache: AssetCache{
			Enabled:    true,
			MaxEntries: defaultCacheMaxEntries,
			TTLMinutes: defaultCacheTTLMinutes,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			JobEvents:      true,
			Errors:         true,
		},
		Workflow: Workflow{
			MaxConcurrentJobs:      defaultMaxConcurrentJobs,
			QueuePollInterval:      defaultQueuePollInterval,
			ErrorRetryInterval:     defaultErrorRetryInterval,
			HeartbeatInterval:      defaultHeartbeatInterval,
			HeartbeatTimeout:       defaultHeartbeatTimeout,
			ValidationTimeout:      defaultValidationTimeout,
			ExtractionTimeout:      defaultExtractionTimeout,
			SynthesisTimeout:       defaultSynthesisTimeout,
			RenderTimeout:          defaultRenderTimeout,
			ExtractAttempts:        defaultExtractAttempts,
			SynthesizeAttempts:     defaultSynthesizeAttempts,
			RenderAttempts:         defaultRenderAttempts,
			RetryBaseDelayMS:       defaultRetryBaseDelayMS,
			RetryMaxDelayMS:        defaultRetryMaxDelayMS,
			BreakerThreshold:       defaultBreakerThreshold,
			BreakerCooldownSeconds: defaultBreakerCooldownSeconds,
			MinFreeSpaceMiB:        defaultMinFreeSpaceMiB,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
