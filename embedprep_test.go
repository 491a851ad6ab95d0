package embedprep

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/go-huggingface/hub"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"

	"github.com/embedworks/embedprep/util"
)

// tests that talk to the huggingface hub only run when TEST_ONLINE is set
func requireOnline(t *testing.T) {
	t.Helper()
	if os.Getenv("TEST_ONLINE") == "" {
		t.Skip("skipping online test, set TEST_ONLINE to enable")
	}
}

func TestNewGoSession(t *testing.T) {
	session, err := NewGoSession()
	assert.NoError(t, err)
	assert.NoError(t, session.Destroy())
}

func TestGetEmbeddingPipelineNotFound(t *testing.T) {
	session, err := NewGoSession()
	assert.NoError(t, err)
	defer func(session *Session) {
		assert.NoError(t, session.Destroy())
	}(session)

	_, err = session.GetEmbeddingPipeline("missing")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestNewEmbeddingPipelineRequiresName(t *testing.T) {
	session, err := NewGoSession()
	assert.NoError(t, err)
	defer func(session *Session) {
		assert.NoError(t, session.Destroy())
	}(session)

	_, err = session.NewEmbeddingPipeline(EmbeddingConfig{ModelPath: "./models/whatever"})
	assert.Error(t, err)
}

func TestNewDownloadOptions(t *testing.T) {
	downloadOptions := NewDownloadOptions()
	assert.Equal(t, "main", downloadOptions.Branch)
	assert.Equal(t, 5, downloadOptions.MaxRetries)
	assert.Equal(t, 5, downloadOptions.RetryInterval)
	assert.Equal(t, 5, downloadOptions.ConcurrentConnections)
}

func TestNewPrepareOptions(t *testing.T) {
	prepareOptions := NewPrepareOptions()
	assert.Equal(t, "main", prepareOptions.Revision)
	assert.False(t, prepareOptions.SkipVerify)
}

func TestDownloadValidation(t *testing.T) {
	requireOnline(t)
	downloadOptions := NewDownloadOptions()
	downloadOptions.OnnxFilePath = "onnx/model.onnx"

	// a model with an onnx file and tokenizer should not error
	_, err := validateDownloadHfModel(hub.New("sentence-transformers/all-MiniLM-L6-v2"), downloadOptions)
	assert.NoError(t, err)
	// a model without tokenizer.json or .onnx model should error
	_, err = validateDownloadHfModel(hub.New("ByteDance/SDXL-Lightning"), downloadOptions)
	assert.Error(t, err)
}

func TestPrepare(t *testing.T) {
	requireOnline(t)

	outputDir := filepath.Join(t.TempDir(), "models")
	modelPath, err := Prepare("", outputDir, NewPrepareOptions())
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(outputDir, "sentence-transformers_all-MiniLM-L6-v2"), modelPath)

	manifestBytes, err := util.ReadFileBytes(filepath.Join(modelPath, "prepare.json"))
	assert.NoError(t, err)
	var manifest Manifest
	assert.NoError(t, jsoniter.Unmarshal(manifestBytes, &manifest))
	assert.Equal(t, DefaultModelID, manifest.ModelID)
	assert.Equal(t, 384, manifest.Dimension)
	assert.True(t, manifest.Verified)
	assert.Contains(t, manifest.Files, "model.onnx")
	assert.Contains(t, manifest.Files, "tokenizer.json")
}

func TestPrepareUnwritableOutputDir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "occupied")
	assert.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := Prepare("", filepath.Join(blocker, "models"), NewPrepareOptions())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "output directory")
}

func TestEmbeddingDeterminism(t *testing.T) {
	requireOnline(t)

	outputDir := filepath.Join(t.TempDir(), "models")
	prepareOptions := NewPrepareOptions()
	prepareOptions.SkipVerify = true
	modelPath, err := Prepare("", outputDir, prepareOptions)
	assert.NoError(t, err)

	session, err := NewGoSession()
	assert.NoError(t, err)
	defer func(session *Session) {
		assert.NoError(t, session.Destroy())
	}(session)

	pipeline, err := session.NewEmbeddingPipeline(EmbeddingConfig{
		ModelPath: modelPath,
		Name:      "determinism",
	})
	assert.NoError(t, err)

	// the embedding of a string must not be influenced by the other strings in its batch
	testPairs := map[string][][]string{
		"identity":        {{"sinopharm", "yo"}, {"sinopharm", "yo"}},
		"contextOverlap":  {{"sinopharm", "yo"}, {"sinopharm", "yo mama yo"}},
		"contextDisjoint": {{"sinopharm", "yo"}, {"sinopharm", "another test"}},
	}
	for name, sentencePair := range testPairs {
		firstResult, runErr := pipeline.RunPipeline(sentencePair[0])
		assert.NoError(t, runErr)
		secondResult, runErr := pipeline.RunPipeline(sentencePair[1])
		assert.NoError(t, runErr)
		assert.InDeltaSlice(t, firstResult.Embeddings[0], secondResult.Embeddings[0], 1e-6,
			"embeddings for %s differ between batches", name)
	}
}

func TestPrepareUnknownModel(t *testing.T) {
	requireOnline(t)

	outputDir := filepath.Join(t.TempDir(), "models")
	prepareOptions := NewPrepareOptions()
	_, err := Prepare("embedworks/does-not-exist-anywhere", outputDir, prepareOptions)
	assert.Error(t, err)
	exists, existsErr := util.FileExists(filepath.Join(outputDir, "embedworks_does-not-exist-anywhere"))
	assert.NoError(t, existsErr)
	assert.False(t, exists)
}
