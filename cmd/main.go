package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/embedworks/embedprep"
	"github.com/embedworks/embedprep/config"
	"github.com/embedworks/embedprep/options"
	"github.com/embedworks/embedprep/pipelines"
	"github.com/embedworks/embedprep/store"
	"github.com/embedworks/embedprep/util"
)

var configPath string
var modelName string
var outputDir string
var revision string
var authToken string
var onnxFile string
var skipVerify bool
var backendName string
var sharedLibraryPath string
var inputPath string
var outputPath string
var storePath string
var query string
var limit int
var batchSize int

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Usage:       "Path to a yaml config file",
		Aliases:     []string{"c"},
		Destination: &configPath,
	}
}

func modelFlag(required bool) cli.Flag {
	return &cli.StringFlag{
		Name:        "model",
		Usage:       "Model name on the huggingface hub, or path to a prepared model",
		Aliases:     []string{"m"},
		Destination: &modelName,
		Required:    required,
	}
}

func backendFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "Execution backend, GO or ORT",
			Aliases:     []string{"b"},
			Destination: &backendName,
		},
		&cli.StringFlag{
			Name:        "onnxruntimeSharedLibrary",
			Usage:       "Path to the onnxruntime shared library, for the ORT backend",
			Aliases:     []string{"s"},
			Destination: &sharedLibraryPath,
		},
	}
}

var prepareCommand = &cli.Command{
	Name:  "prepare",
	Usage: "Fetch a sentence-embedding model and its tokenizer, verify it with a forward pass, and save it locally",
	Flags: []cli.Flag{
		configFlag(),
		modelFlag(false),
		&cli.StringFlag{
			Name:        "output",
			Usage:       "Directory where the prepared model is written",
			Aliases:     []string{"o"},
			Destination: &outputDir,
		},
		&cli.StringFlag{
			Name:        "revision",
			Usage:       "Model repository revision to fetch",
			Aliases:     []string{"r"},
			Destination: &revision,
		},
		&cli.StringFlag{
			Name:        "token",
			Usage:       "Huggingface auth token for gated models",
			Destination: &authToken,
		},
		&cli.StringFlag{
			Name:        "onnxFile",
			Usage:       "Path of the .onnx file within the model repository, for repositories with multiple graphs",
			Destination: &onnxFile,
		},
		&cli.BoolFlag{
			Name:        "skip-verify",
			Usage:       "Skip the verification forward pass",
			Destination: &skipVerify,
		},
	},
	Action: func(_ *cli.Context) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if modelName == "" {
			modelName = cfg.Model
		}
		if outputDir == "" {
			outputDir = cfg.OutputDir
		}

		prepareOptions := embedprep.NewPrepareOptions()
		prepareOptions.AuthToken = authToken
		prepareOptions.Revision = revision
		prepareOptions.OnnxFilePath = onnxFile
		prepareOptions.SkipVerify = skipVerify

		modelPath, err := embedprep.Prepare(modelName, outputDir, prepareOptions)
		if err != nil {
			return err
		}
		fmt.Printf("Model and tokenizer saved successfully to %s\n", modelPath)
		return nil
	},
}

var embedCommand = &cli.Command{
	Name:  "embed",
	Usage: "Compute embeddings for jsonl input",
	Description: `Embed expects input in .jsonl format. Each json line must be of the format {"input": "input string"}.
				`,
	Flags: append([]cli.Flag{
		configFlag(),
		modelFlag(true),
		&cli.StringFlag{
			Name:        "input",
			Usage:       "Path to a .jsonl file or a folder with .jsonl files to process. If omitted, the input will be read from stdin",
			Aliases:     []string{"i"},
			Destination: &inputPath,
		},
		&cli.StringFlag{
			Name:        "output",
			Usage:       "Path to a folder where to write the output. If omitted, the output will be sent to stdout",
			Aliases:     []string{"o"},
			Destination: &outputPath,
		},
		&cli.IntFlag{
			Name:        "batchSize",
			Usage:       "Number of inputs to process in a batch",
			Destination: &batchSize,
			Value:       20,
		},
	}, backendFlags()...),
	Action: func(ctx *cli.Context) (err error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		session, pipe, err := setupPipeline(ctx.Context, cfg)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, session.Destroy())
		}()

		inputChannel := make(chan []input, 1000)
		processedChannel := make(chan []byte, 1000)
		errorsChannel := make(chan error, 1000)
		var processedWg, writeWg sync.WaitGroup

		processedWg.Add(1)
		go processWithPipeline(&processedWg, inputChannel, processedChannel, errorsChannel, pipe)

		var writer io.WriteCloser
		if outputPath != "" {
			dest := util.PathJoinSafe(outputPath, "result-0.jsonl")
			writer, err = util.FileSystem.NewWriter(ctx.Context, dest, os.ModePerm)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, writer.Close())
			}()
		} else {
			writer = os.Stdout
		}
		writeWg.Add(1)
		go writeOutputs(&writeWg, processedChannel, errorsChannel, writer)

		readErr := readAllInputs(ctx.Context, inputChannel)
		close(inputChannel)
		if readErr != nil {
			return readErr
		}

		processedWg.Wait()
		close(processedChannel)
		close(errorsChannel)
		writeWg.Wait()
		return err
	},
}

var indexCommand = &cli.Command{
	Name:  "index",
	Usage: "Embed jsonl inputs and upsert them into the store snapshot",
	Flags: append([]cli.Flag{
		configFlag(),
		modelFlag(true),
		&cli.StringFlag{
			Name:        "input",
			Usage:       "Path to a .jsonl file or a folder with .jsonl files to process. If omitted, the input will be read from stdin",
			Aliases:     []string{"i"},
			Destination: &inputPath,
		},
		&cli.StringFlag{
			Name:        "store",
			Usage:       "Path to the store snapshot file",
			Destination: &storePath,
		},
		&cli.IntFlag{
			Name:        "batchSize",
			Usage:       "Number of inputs to process in a batch",
			Destination: &batchSize,
			Value:       20,
		},
	}, backendFlags()...),
	Action: func(ctx *cli.Context) (err error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if storePath == "" {
			storePath = cfg.StorePath
		}
		session, pipe, err := setupPipeline(ctx.Context, cfg)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, session.Destroy())
		}()

		inputChannel := make(chan []input, 1000)
		readErrChannel := make(chan error, 1)
		go func() {
			readErrChannel <- readAllInputs(ctx.Context, inputChannel)
			close(inputChannel)
		}()

		var vectorStore *store.Store
		indexed := 0
		for inputBatch := range inputChannel {
			inputStrings := make([]string, len(inputBatch))
			for i := range inputBatch {
				inputStrings[i] = inputBatch[i].Input
			}
			output, runErr := pipe.RunPipeline(inputStrings)
			if runErr != nil {
				return runErr
			}
			if vectorStore == nil {
				vectorStore, err = store.Open(storePath, len(output.Embeddings[0]))
				if err != nil {
					return err
				}
			}
			records := make([]store.Record, len(output.Embeddings))
			for i, embedding := range output.Embeddings {
				records[i] = store.Record{
					Vector:  embedding,
					Payload: map[string]any{"text": inputBatch[i].Input},
				}
			}
			if _, upsertErr := vectorStore.Upsert(records...); upsertErr != nil {
				return upsertErr
			}
			indexed += len(records)
		}

		if readErr := <-readErrChannel; readErr != nil {
			return readErr
		}
		if vectorStore == nil {
			return errors.New("no inputs to index")
		}
		if saveErr := vectorStore.Save(); saveErr != nil {
			return saveErr
		}
		fmt.Printf("Indexed %d inputs into %s\n", indexed, storePath)
		return err
	},
}

var searchCommand = &cli.Command{
	Name:  "search",
	Usage: "Embed a query and search the store snapshot",
	Flags: append([]cli.Flag{
		configFlag(),
		modelFlag(true),
		&cli.StringFlag{
			Name:        "query",
			Usage:       "Query text to search for",
			Aliases:     []string{"q"},
			Destination: &query,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "store",
			Usage:       "Path to the store snapshot file",
			Destination: &storePath,
		},
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of results",
			Aliases:     []string{"k"},
			Destination: &limit,
			Value:       10,
		},
	}, backendFlags()...),
	Action: func(ctx *cli.Context) (err error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if storePath == "" {
			storePath = cfg.StorePath
		}
		session, pipe, err := setupPipeline(ctx.Context, cfg)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, session.Destroy())
		}()

		output, err := pipe.RunPipeline([]string{query})
		if err != nil {
			return err
		}

		vectorStore, err := store.Open(storePath, len(output.Embeddings[0]))
		if err != nil {
			return err
		}
		results, err := vectorStore.Search(output.Embeddings[0], limit)
		if err != nil {
			return err
		}
		for _, result := range results {
			resultBytes, marshalErr := jsoniter.Marshal(result)
			if marshalErr != nil {
				return marshalErr
			}
			fmt.Println(string(resultBytes))
		}
		return err
	},
}

func main() {
	app := &cli.App{
		Name:  "embedprep",
		Usage: "Prepare sentence-embedding models and run them locally",
		Commands: []*cli.Command{
			prepareCommand,
			embedCommand,
			indexCommand,
			searchCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newSession(cfg config.Config) (*embedprep.Session, error) {
	name := cfg.Backend
	if backendName != "" {
		name = backendName
	}
	switch name {
	case "ORT":
		var opts []options.WithOption
		library := cfg.OnnxLibrary
		if sharedLibraryPath != "" {
			library = sharedLibraryPath
		}
		if library != "" {
			opts = append(opts, options.WithOnnxLibraryPath(library))
		}
		return embedprep.NewORTSession(opts...)
	case "", "GO":
		return embedprep.NewGoSession()
	default:
		return nil, fmt.Errorf("unknown backend %q, must be GO or ORT", name)
	}
}

// setupPipeline resolves the model flag to a local directory, downloading the
// model when needed, and creates an embedding pipeline on it.
func setupPipeline(ctx context.Context, cfg config.Config) (*embedprep.Session, *pipelines.EmbeddingPipeline, error) {
	session, err := newSession(cfg)
	if err != nil {
		return nil, nil, err
	}

	modelPath, err := resolveModelPath(ctx, cfg, modelName)
	if err != nil {
		return nil, nil, errors.Join(err, session.Destroy())
	}

	var pipelineOptions []embedprep.EmbeddingOption
	if cfg.Normalization {
		pipelineOptions = append(pipelineOptions, pipelines.WithNormalization())
	}
	pipe, err := session.NewEmbeddingPipeline(embedprep.EmbeddingConfig{
		ModelPath: modelPath,
		Name:      "cliPipeline",
		Options:   pipelineOptions,
	})
	if err != nil {
		return nil, nil, errors.Join(err, session.Destroy())
	}
	return session, pipe, nil
}

func resolveModelPath(ctx context.Context, cfg config.Config, name string) (string, error) {
	// a full path to a prepared model
	ok, err := util.FileSystem.Exists(ctx, name)
	if err != nil {
		return "", err
	}
	if ok {
		return name, nil
	}

	// a model previously prepared under the output directory
	preparedName := strings.Replace(name, "/", "_", -1)
	preparedPath := util.PathJoinSafe(cfg.OutputDir, preparedName)
	ok, err = util.FileSystem.Exists(ctx, preparedPath)
	if err != nil {
		return "", err
	}
	if ok {
		return preparedPath, nil
	}

	// a model to download
	if strings.Contains(name, ":") {
		return "", fmt.Errorf("filters with : are currently not supported")
	}
	if err := util.CreateDir(cfg.OutputDir); err != nil {
		return "", err
	}
	return embedprep.DownloadModel(name, cfg.OutputDir, embedprep.NewDownloadOptions())
}

func writeOutputs(wg *sync.WaitGroup, processedChannel chan []byte, errorChannel chan error, writeTarget io.WriteCloser) {
	for processedChannel != nil || errorChannel != nil {
		select {
		case output, ok := <-processedChannel:
			if !ok {
				processedChannel = nil
				continue
			}
			_, err := writeTarget.Write(output)
			if err != nil {
				panic(err)
			}
			_, err = writeTarget.Write([]byte("\n"))
			if err != nil {
				panic(err)
			}
		case err, ok := <-errorChannel:
			if !ok {
				errorChannel = nil
				continue
			}
			if err != nil {
				_, err = os.Stderr.WriteString(err.Error() + "\n")
				if err != nil {
					panic(err)
				}
			}
		}
	}
	wg.Done()
}

func processWithPipeline(wg *sync.WaitGroup, inputChannel chan []input, processedChannel chan []byte, errorsChannel chan error, p *pipelines.EmbeddingPipeline) {
	for inputBatch := range inputChannel {
		inputStrings := make([]string, len(inputBatch))
		for i := range inputBatch {
			inputStrings[i] = inputBatch[i].Input
		}
		output, err := p.RunPipeline(inputStrings)
		if err != nil {
			errorsChannel <- err
		} else {
			for i, embedding := range output.Embeddings {
				out := inputBatch[i]
				out.Output = embedding
				outputBytes, marshallErr := jsoniter.Marshal(out)
				if marshallErr != nil {
					errorsChannel <- marshallErr
				} else {
					processedChannel <- outputBytes
				}
			}
		}
	}
	wg.Done()
}

// readAllInputs feeds the input channel from the --input file or folder, or
// from stdin when no input path is given.
func readAllInputs(ctx context.Context, inputChannel chan []input) error {
	exists, err := util.FileSystem.Exists(ctx, inputPath)
	if err != nil {
		return err
	}
	exists = inputPath != "" && exists

	if exists {
		fileWalker := func(_ context.Context, _, _ string, info os.FileInfo, reader io.Reader) (toContinue bool, err error) {
			if filepath.Ext(info.Name()) == ".jsonl" {
				if err := readInputs(reader, inputChannel); err != nil {
					return false, err
				}
			}
			return true, nil
		}
		return util.FileSystem.Walk(ctx, inputPath, fileWalker)
	}

	if inputPath != "" {
		return fmt.Errorf("file %s does not exist", inputPath)
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		// there is something to process on stdin
		return readInputs(os.Stdin, inputChannel)
	}
	return nil
}

func readInputs(inputSource io.Reader, inputChannel chan []input) error {
	size := batchSize
	if size <= 0 {
		size = 20
	}
	inputBatch := make([]input, 0, size)

	reader := bufio.NewReader(inputSource)
	for {
		lineBytes, readErr := util.ReadLine(reader)
		if readErr != nil && readErr != io.EOF {
			return readErr
		}
		if len(lineBytes) > 0 {
			var line input
			if err := jsoniter.Unmarshal(lineBytes, &line); err != nil {
				return err
			}
			inputBatch = append(inputBatch, line)
			if len(inputBatch) == size {
				inputChannel <- inputBatch
				inputBatch = []input{}
			}
		}
		if readErr == io.EOF {
			break
		}
	}
	// flush
	if len(inputBatch) > 0 {
		inputChannel <- inputBatch
	}
	return nil
}

type input struct {
	Input  string    `json:"input"`
	Output []float32 `json:"output,omitempty"`
}
