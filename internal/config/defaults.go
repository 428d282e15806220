package config

const (
	defaultConfigPath     = "~/.config/bookvoice/config.toml"
	defaultOutputDir      = "~/Audiobooks"
	defaultLogDir         = "~/.local/share/bookvoice/logs"
	defaultStateDir       = "~/.local/share/bookvoice"
	defaultHistoryPath    = "~/.local/share/bookvoice/history.db"
	defaultAPIBind        = "127.0.0.1:7497"
	defaultSpeechBaseURL  = "https://generativelanguage.googleapis.com/v1beta"
	defaultSpeechModel    = "gemini-2.5-flash-preview-tts"
	defaultVoice          = "Kore"
	defaultSpeechTimeout  = 120
	defaultSpeechAttempts = 1
	defaultSampleRate     = 24000
	defaultChannels       = 1
	defaultBitsPerSample  = 16
	defaultCompletedReset = 5
	defaultCancelledReset = 3
	defaultNtfyTimeout    = 10
	defaultRedisAddr      = "127.0.0.1:6379"
	defaultRedisPrefix    = "bookvoice"
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
			StateDir:  defaultStateDir,
			APIBind:   defaultAPIBind,
		},
		Speech: Speech{
			BaseURL:        defaultSpeechBaseURL,
			Model:          defaultSpeechModel,
			DefaultVoice:   defaultVoice,
			TimeoutSeconds: defaultSpeechTimeout,
			RetryAttempts:  defaultSpeechAttempts,
			SampleRate:     defaultSampleRate,
			Channels:       defaultChannels,
			BitsPerSample:  defaultBitsPerSample,
		},
		Pipeline: Pipeline{
			CompletedResetSeconds: defaultCompletedReset,
			CancelledResetSeconds: defaultCancelledReset,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
			RunStarted:     true,
			RunCompleted:   true,
			RunFailed:      true,
			RunCancelled:   true,
			Notices:        true,
		},
		History: History{
			Enabled: true,
			Path:    defaultHistoryPath,
		},
		Redis: Redis{
			Addr:          defaultRedisAddr,
			ChannelPrefix: defaultRedisPrefix,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
