package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `model: BAAI/bge-small-en-v1.5
outputDir: /tmp/prepared
backend: ORT
batchSize: 8
normalization: false
storePath: /tmp/vectors.json
`
	assert.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "BAAI/bge-small-en-v1.5", cfg.Model)
	assert.Equal(t, "/tmp/prepared", cfg.OutputDir)
	assert.Equal(t, "ORT", cfg.Backend)
	assert.Equal(t, 8, cfg.BatchSize)
	assert.False(t, cfg.Normalization)
	assert.Equal(t, "/tmp/vectors.json", cfg.StorePath)
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("model: intfloat/e5-small-v2\n"), 0o644))

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "intfloat/e5-small-v2", cfg.Model)
	assert.Equal(t, "models", cfg.OutputDir)
	assert.Equal(t, "GO", cfg.Backend)
	assert.True(t, cfg.Normalization)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("model: [unclosed\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("backend: XLA\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
