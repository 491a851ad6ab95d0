package embedprep

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/phuslu/log"

	"github.com/embedworks/embedprep/pipelines"
	"github.com/embedworks/embedprep/util"
)

const (
	// DefaultModelID is the sentence-transformers model prepared when no model
	// is specified.
	DefaultModelID = "sentence-transformers/all-MiniLM-L6-v2"
	// DefaultOutputDir is where prepared models are written by default.
	DefaultOutputDir = "models"

	// verificationSentence is run through the prepared model once to check that
	// the serialized graph and tokenizer work together end to end.
	verificationSentence = "This is a test sentence"

	manifestFilename = "prepare.json"
)

// PrepareOptions control the preparation of a model.
type PrepareOptions struct {
	AuthToken    string
	Revision     string
	OnnxFilePath string
	// SkipVerify skips the forward pass over the verification sentence. The
	// downloaded artifacts are then persisted without being exercised.
	SkipVerify bool
	Verbose    bool
}

// NewPrepareOptions creates PrepareOptions with default values.
func NewPrepareOptions() PrepareOptions {
	return PrepareOptions{Revision: "main"}
}

// Manifest records what a prepare run produced. It is written as prepare.json
// next to the prepared artifacts.
type Manifest struct {
	ModelID    string   `json:"modelId"`
	Revision   string   `json:"revision"`
	Path       string   `json:"path"`
	Files      []string `json:"files"`
	Dimension  int      `json:"dimension,omitempty"`
	Verified   bool     `json:"verified"`
	PreparedAt string   `json:"preparedAt"`
}

// Prepare fetches a sentence-embedding model and its tokenizer artifacts from
// the huggingface hub, writes them into outputDir, verifies them with a single
// forward pass, and records a manifest. It returns the directory holding the
// prepared model. Rerunning overwrites a previous preparation of the same model.
func Prepare(modelID string, outputDir string, options PrepareOptions) (string, error) {
	if modelID == "" {
		modelID = DefaultModelID
	}
	if outputDir == "" {
		outputDir = DefaultOutputDir
	}
	if err := util.CreateDir(outputDir); err != nil {
		return "", fmt.Errorf("creating output directory %s: %w", outputDir, err)
	}

	downloadOptions := NewDownloadOptions()
	downloadOptions.AuthToken = options.AuthToken
	downloadOptions.OnnxFilePath = options.OnnxFilePath
	if downloadOptions.OnnxFilePath == "" && modelID == DefaultModelID {
		// the upstream repository publishes several graph variants
		downloadOptions.OnnxFilePath = "onnx/model.onnx"
	}
	downloadOptions.Verbose = options.Verbose
	if options.Revision != "" {
		downloadOptions.Branch = options.Revision
	}

	modelPath, err := DownloadModel(modelID, outputDir, downloadOptions)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", modelID, err)
	}

	manifest := Manifest{
		ModelID:    modelID,
		Revision:   downloadOptions.Branch,
		Path:       modelPath,
		PreparedAt: time.Now().UTC().Format(time.RFC3339),
	}
	walker := func(_ context.Context, _ string, _ string, info os.FileInfo, _ io.Reader) (bool, error) {
		if !info.IsDir() && info.Name() != manifestFilename {
			manifest.Files = append(manifest.Files, info.Name())
		}
		return true, nil
	}
	if err := util.WalkDir()(context.Background(), modelPath, walker); err != nil {
		return "", err
	}
	sort.Strings(manifest.Files)

	if !options.SkipVerify {
		dimension, verifyErr := verifyPreparedModel(modelPath)
		if verifyErr != nil {
			return "", fmt.Errorf("verifying %s: %w", modelID, verifyErr)
		}
		manifest.Dimension = dimension
		manifest.Verified = true
	}

	manifestBytes, err := jsoniter.MarshalIndent(&manifest, "", "  ")
	if err != nil {
		return "", err
	}
	if err := util.WriteFileBytes(filepath.Join(modelPath, manifestFilename), manifestBytes); err != nil {
		return "", err
	}
	return modelPath, nil
}

// verifyPreparedModel loads the prepared directory and runs one forward pass
// over the verification sentence, returning the embedding dimension.
func verifyPreparedModel(modelPath string) (int, error) {
	session, err := NewGoSession()
	if err != nil {
		return 0, err
	}
	defer func() {
		if destroyErr := session.Destroy(); destroyErr != nil {
			log.Warn().Err(destroyErr).Msg("failed to destroy verification session")
		}
	}()

	pipeline, err := session.NewEmbeddingPipeline(EmbeddingConfig{
		ModelPath: modelPath,
		Name:      "prepare-verification",
		Options: []EmbeddingOption{
			pipelines.WithNormalization(),
		},
	})
	if err != nil {
		return 0, err
	}

	output, err := pipeline.RunPipeline([]string{verificationSentence})
	if err != nil {
		return 0, err
	}
	if len(output.Embeddings) != 1 || len(output.Embeddings[0]) == 0 {
		return 0, fmt.Errorf("forward pass over %q produced no embedding", verificationSentence)
	}
	dimension := len(output.Embeddings[0])
	if hidden := pipeline.Model.HiddenSize; hidden > 0 && dimension != hidden {
		return 0, fmt.Errorf("embedding dimension %d does not match model hidden size %d", dimension, hidden)
	}
	return dimension, nil
}
