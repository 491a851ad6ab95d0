package pipelines

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/embedworks/embedprep/backend"
	"github.com/embedworks/embedprep/options"
	"github.com/embedworks/embedprep/util"
)

// EmbeddingPipeline converts raw sentences to fixed-size embedding vectors.
// Token embeddings returned by the model are mean pooled over the attention
// mask; sentence-level outputs are passed through unchanged.
type EmbeddingPipeline struct {
	*backend.BasePipeline
	Normalization bool
	OutputName    string
	Output        backend.InputOutputInfo
}

type EmbeddingOutput struct {
	Embeddings [][]float32
}

func (t *EmbeddingOutput) GetOutput() []any {
	out := make([]any, len(t.Embeddings))
	for i, embedding := range t.Embeddings {
		out[i] = any(embedding)
	}
	return out
}

// PIPELINE OPTIONS

// WithNormalization applies L2 normalization to the pooled output of the pipeline.
func WithNormalization() backend.PipelineOption[*EmbeddingPipeline] {
	return func(pipeline *EmbeddingPipeline) {
		pipeline.Normalization = true
	}
}

// WithOutputName if there are multiple outputs from the underlying model, which output should
// be returned. If not passed, the first output from the model is returned.
func WithOutputName(outputName string) backend.PipelineOption[*EmbeddingPipeline] {
	return func(pipeline *EmbeddingPipeline) {
		pipeline.OutputName = outputName
	}
}

// NewEmbeddingPipeline init an embedding pipeline.
func NewEmbeddingPipeline(config backend.PipelineConfig[*EmbeddingPipeline], s *options.Options, model *backend.Model) (*EmbeddingPipeline, error) {
	defaultPipeline, err := backend.NewBasePipeline(config, s, model)
	if err != nil {
		return nil, err
	}

	pipeline := &EmbeddingPipeline{BasePipeline: defaultPipeline}
	for _, o := range config.Options {
		o(pipeline)
	}

	// filter outputs
	if pipeline.OutputName != "" {
		for _, output := range model.OutputsMeta {
			if output.Name == pipeline.OutputName {
				pipeline.Output = output
				break
			}
		}
		if pipeline.Output.Name == "" {
			return nil, fmt.Errorf("output %s is not available, outputs are: %s", pipeline.OutputName, strings.Join(backend.GetNames(model.OutputsMeta), ", "))
		}
	} else {
		pipeline.Output = model.OutputsMeta[0] // we take the first output otherwise, like transformers does
	}

	err = pipeline.Validate()
	if err != nil {
		return nil, err
	}
	return pipeline, nil
}

// INTERFACE IMPLEMENTATIONS

func (p *EmbeddingPipeline) GetModel() *backend.Model {
	return p.BasePipeline.Model
}

// GetMetadata returns metadata information about the pipeline, in particular:
// OutputInfo: names and dimensions of the output layer.
func (p *EmbeddingPipeline) GetMetadata() backend.PipelineMetadata {
	return backend.PipelineMetadata{
		OutputsInfo: []backend.OutputInfo{
			{
				Name:       p.OutputName,
				Dimensions: p.Output.Dimensions,
			},
		},
	}
}

// GetStats returns the runtime statistics for the pipeline.
func (p *EmbeddingPipeline) GetStats() []string {
	return []string{
		fmt.Sprintf("Statistics for pipeline: %s", p.PipelineName),
		fmt.Sprintf("Tokenizer: Total time=%s, Execution count=%d, Average query time=%s",
			time.Duration(p.Model.Tokenizer.TokenizerTimings.TotalNS),
			p.Model.Tokenizer.TokenizerTimings.NumCalls,
			time.Duration(float64(p.Model.Tokenizer.TokenizerTimings.TotalNS)/math.Max(1, float64(p.Model.Tokenizer.TokenizerTimings.NumCalls)))),
		fmt.Sprintf("Inference: Total time=%s, Execution count=%d, Average query time=%s",
			time.Duration(p.PipelineTimings.TotalNS),
			p.PipelineTimings.NumCalls,
			time.Duration(float64(p.PipelineTimings.TotalNS)/math.Max(1, float64(p.PipelineTimings.NumCalls)))),
	}
}

// Validate checks that the pipeline is valid.
func (p *EmbeddingPipeline) Validate() error {
	var validationErrors []error

	for _, input := range p.Model.InputsMeta {
		dims := []int64(input.Dimensions)
		if len(dims) > 3 {
			validationErrors = append(validationErrors, fmt.Errorf("inputs and outputs currently can have at most 3 dimensions"))
		}
		nDynamicDimensions := 0
		for _, d := range dims {
			if d == -1 {
				nDynamicDimensions++
			}
		}
		if nDynamicDimensions > 2 {
			validationErrors = append(validationErrors, fmt.Errorf(`input %s has dimensions: %s.
			There can only be max 2 dynamic dimensions (batch size and sequence length)`,
				input.Name, input.Dimensions.String()))
		}
	}
	return errors.Join(validationErrors...)
}

// Preprocess tokenizes the input strings.
func (p *EmbeddingPipeline) Preprocess(batch *backend.PipelineBatch, inputs []string) error {
	start := time.Now()
	backend.TokenizeInputs(batch, p.Model.Tokenizer, inputs)
	atomic.AddUint64(&p.Model.Tokenizer.TokenizerTimings.NumCalls, 1)
	atomic.AddUint64(&p.Model.Tokenizer.TokenizerTimings.TotalNS, uint64(time.Since(start)))
	return backend.CreateInputTensors(batch, p.Model.InputsMeta, p.Runtime)
}

// Forward performs the forward inference of the pipeline.
func (p *EmbeddingPipeline) Forward(batch *backend.PipelineBatch) error {
	start := time.Now()
	err := backend.RunSessionOnBatch(batch, p.BasePipeline)
	if err != nil {
		return err
	}
	atomic.AddUint64(&p.PipelineTimings.NumCalls, 1)
	atomic.AddUint64(&p.PipelineTimings.TotalNS, uint64(time.Since(start)))
	return nil
}

// Postprocess parses the model output. Token embeddings are mean pooled,
// sentence embeddings are returned as is.
func (p *EmbeddingPipeline) Postprocess(batch *backend.PipelineBatch) (*EmbeddingOutput, error) {
	output := batch.OutputValues[0]
	batchEmbeddings := make([][]float32, len(batch.Input))
	outputDimensions := []int64(p.Output.Dimensions)
	embeddingDimension := outputDimensions[len(outputDimensions)-1]

	if len(output.Result2D) > 0 {
		batchEmbeddings = output.Result2D
	} else if len(output.Result3D) > 0 {
		for batchIndex, tokens := range output.Result3D {
			batchEmbeddings[batchIndex] = meanPooling(tokens, batch.Input[batchIndex], batch.MaxSequenceLength, int(embeddingDimension))
		}
	} else {
		return nil, fmt.Errorf("model output has empty result")
	}

	// Normalize embeddings (if asked), like in https://huggingface.co/sentence-transformers/all-MiniLM-L6-v2
	if p.Normalization {
		for i, output := range batchEmbeddings {
			batchEmbeddings[i] = util.Normalize(output, 2)
		}
	}

	return &EmbeddingOutput{Embeddings: batchEmbeddings}, nil
}

func meanPooling(tokens [][]float32, input backend.TokenizedInput, maxSequence int, dimensions int) []float32 {
	length := len(input.AttentionMask)
	vector := make([]float32, dimensions)
	for j := 0; j < maxSequence; j++ {
		if j+1 <= length && input.AttentionMask[j] != 0 {
			for k, vectorValue := range tokens[j] {
				vector[k] = vector[k] + vectorValue
			}
		}
	}

	numAttentionTokens := float32(input.MaxAttentionIndex + 1)
	for v, vectorValue := range vector {
		vector[v] = vectorValue / numAttentionTokens
	}

	return vector
}

// Run the pipeline on a batch of strings.
func (p *EmbeddingPipeline) Run(inputs []string) (backend.PipelineBatchOutput, error) {
	return p.RunPipeline(inputs)
}

// RunPipeline is like Run, but returns the concrete embedding output type rather than the interface.
func (p *EmbeddingPipeline) RunPipeline(inputs []string) (*EmbeddingOutput, error) {
	var runErrors []error
	batch := backend.NewBatch()
	defer func(*backend.PipelineBatch) {
		runErrors = append(runErrors, batch.Destroy())
	}(batch)

	runErrors = append(runErrors, p.Preprocess(batch, inputs))
	if e := errors.Join(runErrors...); e != nil {
		return nil, e
	}

	runErrors = append(runErrors, p.Forward(batch))
	if e := errors.Join(runErrors...); e != nil {
		return nil, e
	}

	result, postErr := p.Postprocess(batch)
	runErrors = append(runErrors, postErr)
	return result, errors.Join(runErrors...)
}
