package options

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	o := Defaults()
	assert.NotNil(t, o.ORTOptions)
	assert.NotNil(t, o.ORTOptions.LibraryPath)
	assert.NoError(t, o.Destroy())
}

func TestOptionsRequireORTBackend(t *testing.T) {
	o := Defaults()
	o.Backend = "GO"

	assert.Error(t, WithTelemetry()(o))
	assert.Error(t, WithIntraOpNumThreads(4)(o))
	assert.Error(t, WithInterOpNumThreads(4)(o))
	assert.Error(t, WithCPUMemArena(true)(o))
	assert.Error(t, WithMemPattern(true)(o))
	assert.Error(t, WithCuda(map[string]string{})(o))
	assert.Error(t, WithOnnxLibraryPath("/does/not/matter")(o))
}

func TestOptionsApply(t *testing.T) {
	o := Defaults()
	o.Backend = "ORT"

	library := filepath.Join(t.TempDir(), "libonnxruntime.so")
	assert.NoError(t, os.WriteFile(library, []byte{}, 0o644))

	assert.NoError(t, WithOnnxLibraryPath(library)(o))
	assert.Equal(t, library, *o.ORTOptions.LibraryPath)

	assert.NoError(t, WithTelemetry()(o))
	assert.True(t, *o.ORTOptions.Telemetry)

	assert.NoError(t, WithIntraOpNumThreads(4)(o))
	assert.Equal(t, 4, *o.ORTOptions.IntraOpNumThreads)

	assert.NoError(t, WithInterOpNumThreads(2)(o))
	assert.Equal(t, 2, *o.ORTOptions.InterOpNumThreads)

	assert.NoError(t, WithCPUMemArena(false)(o))
	assert.False(t, *o.ORTOptions.CPUMemArena)

	assert.NoError(t, WithMemPattern(false)(o))
	assert.False(t, *o.ORTOptions.MemPattern)

	assert.NoError(t, WithCuda(map[string]string{"device_id": "0"})(o))
	assert.Equal(t, "0", o.ORTOptions.CudaOptions["device_id"])
}

func TestWithOnnxLibraryPathMissingFile(t *testing.T) {
	o := Defaults()
	o.Backend = "ORT"
	assert.Error(t, WithOnnxLibraryPath(filepath.Join(t.TempDir(), "missing.so"))(o))
}
