package embedprep

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomlx/go-huggingface/hub"
	"github.com/phuslu/log"

	"github.com/embedworks/embedprep/util"
)

// DownloadOptions is a struct of options that can be passed to DownloadModel.
type DownloadOptions struct {
	AuthToken             string
	OnnxFilePath          string
	ExternalDataPath      string
	Branch                string
	MaxRetries            int
	RetryInterval         int
	ConcurrentConnections int
	Verbose               bool
}

// NewDownloadOptions creates new DownloadOptions struct with default values.
// Override the values to specify different download options.
func NewDownloadOptions() DownloadOptions {
	d := DownloadOptions{}
	d.Branch = "main"
	d.MaxRetries = 5
	d.RetryInterval = 5
	d.ConcurrentConnections = 5
	return d
}

// DownloadModel downloads a model directly from huggingface into destination.
// Before anything is fetched, the repository listing is validated to ensure it
// contains an .onnx file and the tokenizer artifacts needed to run it locally.
// It returns the local directory the model files were copied into.
func DownloadModel(modelName string, destination string, options DownloadOptions) (string, error) {
	modelP := modelName
	if strings.Contains(modelP, ":") {
		modelP = strings.Split(modelName, ":")[0]
	}
	modelPath := path.Join(destination, strings.Replace(modelP, "/", "_", -1))

	repo := hub.New(modelName)
	if options.AuthToken != "" {
		repo = repo.WithAuth(options.AuthToken)
	}
	if options.ConcurrentConnections > 0 {
		repo.MaxParallelDownload = options.ConcurrentConnections
	}
	if options.Verbose {
		repo.Verbosity = 1
		repo.WithProgressBar(true)
	} else {
		repo.Verbosity = 0
		repo.WithProgressBar(false)
	}
	if options.Branch != "" {
		repo.WithRevision(options.Branch)
	}

	downloadFiles, err := validateDownloadHfModel(repo, options)
	if err != nil {
		return "", err
	}

	for i := 0; i < options.MaxRetries; i++ {
		downloadPaths, downloadErr := repo.DownloadFiles(downloadFiles...)
		if downloadErr != nil {
			log.Warn().Err(downloadErr).Msgf("download attempt %d / %d failed", i+1, options.MaxRetries)
			time.Sleep(time.Duration(options.RetryInterval) * time.Second)
			continue
		}

		for j, downloadPath := range downloadPaths {
			// the hub cache stores blobs behind symlinks
			truePath, symErr := filepath.EvalSymlinks(downloadPath)
			if symErr != nil {
				return "", symErr
			}
			moveErr := util.CopyFile(truePath, fmt.Sprintf("%s/%s", modelPath, path.Base(downloadFiles[j])))
			if moveErr != nil {
				return "", moveErr
			}
		}

		if options.Verbose {
			log.Info().Msgf("download of %s completed successfully", modelName)
		}
		return modelPath, nil
	}

	return "", fmt.Errorf("failed to download %s after %d attempts", modelName, options.MaxRetries)
}

func validateDownloadHfModel(repo *hub.Repo, options DownloadOptions) ([]string, error) {
	for i := 0; i < options.MaxRetries; i++ {
		err := repo.DownloadInfo(false)
		if err == nil {
			break
		}
		log.Warn().Err(err).Msgf("list repo attempt %d / %d failed", i+1, options.MaxRetries)
		if i+1 == options.MaxRetries {
			return nil, err
		}
		time.Sleep(time.Duration(options.RetryInterval) * time.Second)
	}

	tokenizerPath := ""
	onnxPath := ""
	var toDownload []string
	var allOnnx []string
	for fileName, err := range repo.IterFileNames() {
		if err != nil {
			return nil, err
		}

		baseFileName := filepath.Base(fileName)
		if baseFileName == "tokenizer.json" {
			tokenizerPath = fileName
		} else if baseFileName == "special_tokens_map.json" ||
			baseFileName == "tokenizer_config.json" ||
			baseFileName == "config.json" ||
			baseFileName == "vocab.txt" {
			toDownload = append(toDownload, fileName)
		} else if filepath.Ext(baseFileName) == ".onnx" {
			if options.OnnxFilePath != "" {
				if fileName == options.OnnxFilePath {
					onnxPath = fileName
				}
			} else {
				onnxPath = fileName
			}
			allOnnx = append(allOnnx, fileName)
		} else if options.ExternalDataPath != "" && fileName == options.ExternalDataPath {
			toDownload = append(toDownload, fileName)
		}
	}

	var errs []error

	if options.OnnxFilePath != "" {
		if onnxPath == "" {
			errs = append(errs, fmt.Errorf("model .onnx file not found at %s", options.OnnxFilePath))
		}
	} else {
		numModels := len(allOnnx)
		if numModels == 0 {
			errs = append(errs, errors.New("model does not have a .onnx file, only onnx models can be prepared"))
		} else if numModels > 1 {
			errs = append(errs, fmt.Errorf("model has multiple .onnx files, please specify one of the following onnx file paths: %s", strings.Join(allOnnx, " ")))
		}
	}

	if tokenizerPath == "" {
		errs = append(errs, errors.New("model does not have a tokenizer.json file"))
	}

	files := append(toDownload, onnxPath)
	if tokenizerPath != "" {
		files = append(files, tokenizerPath)
	}
	return files, errors.Join(errs...)
}
