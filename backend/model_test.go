package backend

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadModelConfig(t *testing.T) {
	dir := t.TempDir()
	configContents := `{
	"architectures": ["BertModel"],
	"hidden_size": 384,
	"max_position_embeddings": 512,
	"model_type": "bert"
}`
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(configContents), 0o644))

	model := &Model{Path: dir}
	assert.NoError(t, loadModelConfig(model))
	assert.Equal(t, 384, model.HiddenSize)
	assert.Equal(t, 512, model.MaxPositionEmbeddings)
}

func TestLoadModelConfigMissingFile(t *testing.T) {
	model := &Model{Path: t.TempDir()}
	assert.NoError(t, loadModelConfig(model))
	assert.Equal(t, 0, model.HiddenSize)
	assert.Equal(t, 0, model.MaxPositionEmbeddings)
}

func TestDestroyModelBackendOnError(t *testing.T) {
	destroyed := false
	cause := errors.New("tokenizer load failed")

	model := &Model{ORTModel: &ORTModel{Destroy: func() error {
		destroyed = true
		return nil
	}}}
	err := destroyModelBackend(model, cause)
	assert.ErrorIs(t, err, cause)
	assert.True(t, destroyed)

	goModel := &Model{GoModel: &GoModel{}}
	assert.ErrorIs(t, destroyModelBackend(goModel, cause), cause)
}

func TestLoadModelConfigMalformed(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{not json"), 0o644))

	model := &Model{Path: dir}
	assert.Error(t, loadModelConfig(model))
}

func TestLoadOnnxModelBytesNoModel(t *testing.T) {
	model := &Model{Path: t.TempDir()}
	assert.Error(t, LoadOnnxModelBytes(model))
}

func TestLoadOnnxModelBytesMultipleModels(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("first"), 0o644))
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "model_quantized.onnx"), []byte("second"), 0o644))

	model := &Model{Path: dir}
	assert.Error(t, LoadOnnxModelBytes(model))

	model = &Model{Path: dir, OnnxFilename: "model_quantized.onnx"}
	assert.NoError(t, LoadOnnxModelBytes(model))
	assert.Equal(t, []byte("second"), model.OnnxBytes)
}

func TestReshapeOutput2D(t *testing.T) {
	meta := InputOutputInfo{Dimensions: NewShape(-1, 2)}
	paddingMask := [][]bool{{true, true}, {true, false}}
	flat := []float32{1, 2, 3, 4}

	out := ReshapeOutput(flat, meta, paddingMask, 2)
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}}, out.Result2D)
	assert.Nil(t, out.Result3D)
}

func TestReshapeOutput3D(t *testing.T) {
	meta := InputOutputInfo{Dimensions: NewShape(-1, -1, 2)}
	paddingMask := [][]bool{{true, true}, {true, false}}
	flat := []float32{
		1, 2, 3, 4, // first input, two valid tokens
		5, 6, 7, 8, // second input, one valid token and one padding token
	}

	out := ReshapeOutput(flat, meta, paddingMask, 2)
	assert.Nil(t, out.Result2D)
	assert.Equal(t, [][][]float32{
		{{1, 2}, {3, 4}},
		{{5, 6}},
	}, out.Result3D)
}

func TestShape(t *testing.T) {
	shape := NewShape(-1, -1, 384)
	assert.Equal(t, []int{-1, -1, 384}, shape.ValuesInt())
	assert.Equal(t, "[-1 -1 384]", shape.String())
}
