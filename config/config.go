// Package config loads the embedprep configuration file.
package config

import (
	"fmt"

	"github.com/phuslu/log"
	"gopkg.in/yaml.v3"

	"github.com/embedworks/embedprep/util"
)

// Config holds the settings shared by the cli commands. Zero values fall back
// to the defaults from DefaultConfig.
type Config struct {
	Model         string `yaml:"model"`
	OutputDir     string `yaml:"outputDir"`
	Backend       string `yaml:"backend"`
	BatchSize     int    `yaml:"batchSize"`
	Normalization bool   `yaml:"normalization"`
	OnnxLibrary   string `yaml:"onnxLibrary"`
	StorePath     string `yaml:"storePath"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Model:         "sentence-transformers/all-MiniLM-L6-v2",
		OutputDir:     "models",
		Backend:       "GO",
		BatchSize:     32,
		Normalization: true,
		StorePath:     "store.json",
	}
}

// Load reads the yaml configuration at path. A missing file yields the
// defaults, a malformed file is an error. Fields left empty in the file keep
// their default and are logged as warnings.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	exists, err := util.FileExists(path)
	if err != nil {
		return cfg, err
	}
	if !exists {
		return cfg, nil
	}

	data, err := util.ReadFileBytes(path)
	if err != nil {
		return cfg, err
	}

	// Normalization is a pointer so an omitted field keeps the default
	// instead of reading as false.
	var fileCfg struct {
		Model         string `yaml:"model"`
		OutputDir     string `yaml:"outputDir"`
		Backend       string `yaml:"backend"`
		BatchSize     int    `yaml:"batchSize"`
		Normalization *bool  `yaml:"normalization"`
		OnnxLibrary   string `yaml:"onnxLibrary"`
		StorePath     string `yaml:"storePath"`
	}
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if fileCfg.Model == "" {
		log.Warn().Str("path", path).Msg("config has no model, using default")
	} else {
		cfg.Model = fileCfg.Model
	}
	if fileCfg.OutputDir == "" {
		log.Warn().Str("path", path).Msg("config has no outputDir, using default")
	} else {
		cfg.OutputDir = fileCfg.OutputDir
	}
	if fileCfg.Backend != "" {
		cfg.Backend = fileCfg.Backend
	}
	if fileCfg.BatchSize > 0 {
		cfg.BatchSize = fileCfg.BatchSize
	}
	if fileCfg.Normalization != nil {
		cfg.Normalization = *fileCfg.Normalization
	}
	if fileCfg.OnnxLibrary != "" {
		cfg.OnnxLibrary = fileCfg.OnnxLibrary
	}
	if fileCfg.StorePath != "" {
		cfg.StorePath = fileCfg.StorePath
	}

	if cfg.Backend != "GO" && cfg.Backend != "ORT" {
		return cfg, fmt.Errorf("unknown backend %q, must be GO or ORT", cfg.Backend)
	}
	return cfg, nil
}
