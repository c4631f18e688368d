package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeInference()
	c.normalizePipeline()
	if err := c.normalizePublish(); err != nil {
		return err
	}
	c.normalizeTools()
	return c.normalizeLogging()
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.RootDir) == "" {
		c.Paths.RootDir = defaultRootDir
	}
	if c.Paths.RootDir, err = expandPath(c.Paths.RootDir); err != nil {
		return fmt.Errorf("paths.root_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.InventoryPath) == "" {
		c.Paths.InventoryPath = filepath.Join(c.Paths.RootDir, "inventory.json")
	} else if c.Paths.InventoryPath, err = expandPath(c.Paths.InventoryPath); err != nil {
		return fmt.Errorf("paths.inventory_path: %w", err)
	}
	if strings.TrimSpace(c.Paths.SyncStatePath) == "" {
		c.Paths.SyncStatePath = filepath.Join(c.Paths.RootDir, "sync_state.json")
	} else if c.Paths.SyncStatePath, err = expandPath(c.Paths.SyncStatePath); err != nil {
		return fmt.Errorf("paths.sync_state_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeInference() {
	c.Inference.Endpoint = strings.TrimSpace(c.Inference.Endpoint)
	if c.Inference.Endpoint == "" {
		c.Inference.Endpoint = defaultInferenceEndpoint
	}
	c.Inference.AnalysisModel = strings.TrimSpace(c.Inference.AnalysisModel)
	if c.Inference.AnalysisModel == "" {
		c.Inference.AnalysisModel = defaultAnalysisModel
	}
	c.Inference.OCRModel = strings.TrimSpace(c.Inference.OCRModel)
	if c.Inference.OCRModel == "" {
		c.Inference.OCRModel = defaultOCRModel
	}
	c.Inference.FaceModel = strings.TrimSpace(c.Inference.FaceModel)
	if c.Inference.FaceModel == "" {
		c.Inference.FaceModel = c.Inference.AnalysisModel
	}
	if c.Inference.TimeoutSeconds <= 0 {
		c.Inference.TimeoutSeconds = defaultInferenceTimeoutSeconds
	}
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = defaultWorkers
	}
}

func (c *Config) normalizePublish() error {
	var err error
	if c.Publish.CredentialsPath != "" {
		if c.Publish.CredentialsPath, err = expandPath(c.Publish.CredentialsPath); err != nil {
			return fmt.Errorf("publish.credentials_path: %w", err)
		}
	} else if value, ok := os.LookupEnv("GOOGLE_APPLICATION_CREDENTIALS"); ok {
		c.Publish.CredentialsPath = value
	}
	c.Publish.ProjectID = strings.TrimSpace(c.Publish.ProjectID)
	c.Publish.Bucket = strings.TrimSpace(c.Publish.Bucket)
	c.Publish.KeyPrefix = strings.Trim(strings.TrimSpace(c.Publish.KeyPrefix), "/")
	if c.Publish.KeyPrefix == "" {
		c.Publish.KeyPrefix = defaultKeyPrefix
	}
	if c.Publish.BatchSize <= 0 {
		c.Publish.BatchSize = defaultBatchSize
	}
	return nil
}

func (c *Config) normalizeTools() {
	c.Tools.Avifenc = strings.TrimSpace(c.Tools.Avifenc)
	if c.Tools.Avifenc == "" {
		c.Tools.Avifenc = defaultAvifencBinary
	}
	c.Tools.Pdftoppm = strings.TrimSpace(c.Tools.Pdftoppm)
	if c.Tools.Pdftoppm == "" {
		c.Tools.Pdftoppm = defaultPdftoppmBinary
	}
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if strings.TrimSpace(c.Logging.Dir) == "" {
		c.Logging.Dir = defaultLogDir
	}
	var err error
	if c.Logging.Dir, err = expandPath(c.Logging.Dir); err != nil {
		return fmt.Errorf("logging.dir: %w", err)
	}
	return nil
}
