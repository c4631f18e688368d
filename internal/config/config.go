package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and state-file configuration.
type Paths struct {
	// RootDir is the corpus root holding downloaded files and artifacts.
	RootDir string `toml:"root_dir"`
	// InventoryPath is the serialized item store. Defaults to
	// <root_dir>/inventory.json.
	InventoryPath string `toml:"inventory_path"`
	// SyncStatePath is the publish checkpoint file. Defaults to
	// <root_dir>/sync_state.json.
	SyncStatePath string `toml:"sync_state_path"`
}

// Inference contains connection settings for the local inference service used
// by the analysis, face, and OCR stages.
type Inference struct {
	Endpoint       string `toml:"endpoint"`
	AnalysisModel  string `toml:"analysis_model"`
	OCRModel       string `toml:"ocr_model"`
	FaceModel      string `toml:"face_model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Pipeline contains stage-pass behavior shared by every stage command.
type Pipeline struct {
	// Workers bounds per-stage parallelism. Flag --workers overrides.
	Workers int `toml:"workers"`
	// PhotosOnly restricts Image entity projection to frames scored as
	// genuine photographs.
	PhotosOnly bool `toml:"photos_only"`
}

// Publish contains remote store settings.
type Publish struct {
	CredentialsPath string `toml:"credentials_path"`
	ProjectID       string `toml:"project_id"`
	Bucket          string `toml:"bucket"`
	// KeyPrefix namespaces uploaded blobs, e.g. "v1".
	KeyPrefix string `toml:"key_prefix"`
	BatchSize int    `toml:"batch_size"`
	// VectorSearch stores face embeddings in the remote store's native
	// vector type. When false, embeddings degrade to plain arrays.
	VectorSearch bool `toml:"vector_search"`
}

// Tools names the external binaries the derive stage shells out to.
type Tools struct {
	Avifenc  string `toml:"avifenc"`
	Pdftoppm string `toml:"pdftoppm"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	Dir    string `toml:"dir"`
}

// Config encapsulates all configuration values for vellum.
//
// Configuration sections by subsystem:
//   - Paths: corpus root and persisted state files
//   - Inference: local inference service connection and models
//   - Pipeline: worker counts and projection filters
//   - Publish: remote document/object store settings
//   - Tools: external encoder/rasterizer binaries
//   - Logging: log format, level, and output directory
type Config struct {
	Paths     Paths     `toml:"paths"`
	Inference Inference `toml:"inference"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Publish   Publish   `toml:"publish"`
	Tools     Tools     `toml:"tools"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/vellum/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
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
		_, err = os.Stat(expanded)
		if err != nil {
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

	projectPath, err := filepath.Abs("vellum.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a pipeline pass needs.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.RootDir}
	if c.Logging.Dir != "" {
		dirs = append(dirs, c.Logging.Dir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
