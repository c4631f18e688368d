package config

import (
	"errors"
	"fmt"
	"os"
)

// Validate ensures the configuration is usable for a pipeline pass. Remote
// store settings are validated separately by ValidatePublish because only the
// publish command needs them.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateInference(); err != nil {
		return err
	}
	if c.Publish.BatchSize <= 0 {
		return errors.New("publish.batch_size must be positive")
	}
	return nil
}

// ValidatePublish checks the settings the publish command requires.
func (c *Config) ValidatePublish() error {
	if c.Publish.ProjectID == "" {
		return errors.New("publish.project_id must be set")
	}
	if c.Publish.Bucket == "" {
		return errors.New("publish.bucket must be set")
	}
	if c.Publish.CredentialsPath == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/vellum/config.toml"
		}
		return fmt.Errorf("publish.credentials_path is required. Set GOOGLE_APPLICATION_CREDENTIALS or edit %s (create with 'vellum config init')", defaultPath)
	}
	if _, err := os.Stat(c.Publish.CredentialsPath); err != nil {
		return fmt.Errorf("publish.credentials_path: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateInference() error {
	if c.Inference.Endpoint == "" {
		return errors.New("inference.endpoint must be set")
	}
	if c.Inference.TimeoutSeconds <= 0 {
		return errors.New("inference.timeout_seconds must be positive")
	}
	return nil
}
