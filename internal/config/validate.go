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
	if err := c.validateSpeech(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateRedis(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must be set")
	}
	if !strings.Contains(c.Paths.APIBind, ":") {
		return fmt.Errorf("paths.api_bind %q must be host:port", c.Paths.APIBind)
	}
	return nil
}

func (c *Config) validateSpeech() error {
	if !strings.HasPrefix(c.Speech.BaseURL, "http://") && !strings.HasPrefix(c.Speech.BaseURL, "https://") {
		return fmt.Errorf("speech.base_url %q must be an http(s) URL", c.Speech.BaseURL)
	}
	if err := ensurePositiveMap(map[string]int{
		"speech.timeout_seconds": c.Speech.TimeoutSeconds,
		"speech.retry_attempts":  c.Speech.RetryAttempts,
		"speech.sample_rate":     c.Speech.SampleRate,
		"speech.channels":        c.Speech.Channels,
	}); err != nil {
		return err
	}
	switch c.Speech.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("speech.bits_per_sample must be one of 8, 16, 24, 32 (got %d)", c.Speech.BitsPerSample)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.CompletedResetSeconds < 0 {
		return errors.New("pipeline.completed_reset_seconds must be non-negative")
	}
	if c.Pipeline.CancelledResetSeconds < 0 {
		return errors.New("pipeline.cancelled_reset_seconds must be non-negative")
	}
	if c.Pipeline.ErrorResetSeconds < 0 {
		return errors.New("pipeline.error_reset_seconds must be non-negative")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateRedis() error {
	if !c.Redis.Enabled {
		return nil
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr must be set when redis.enabled is true")
	}
	if c.Redis.DB < 0 {
		return errors.New("redis.db must be non-negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json (got %q)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
