package pipelines

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/embedworks/embedprep/backend"
)

func TestMeanPooling(t *testing.T) {
	input := backend.TokenizedInput{
		AttentionMask:     []uint32{1, 1, 0},
		MaxAttentionIndex: 1,
	}
	tokens := [][]float32{
		{1, 3},
		{3, 5},
		{100, 100}, // padding, masked out
	}

	pooled := meanPooling(tokens, input, 3, 2)
	assert.Equal(t, []float32{2, 4}, pooled)
}

func TestPostprocessTokenEmbeddings(t *testing.T) {
	pipeline := &EmbeddingPipeline{
		BasePipeline: &backend.BasePipeline{},
		Output: backend.InputOutputInfo{
			Name:       "last_hidden_state",
			Dimensions: backend.NewShape(-1, -1, 2),
		},
	}

	batch := backend.NewBatch()
	batch.Input = []backend.TokenizedInput{
		{AttentionMask: []uint32{1, 1}, MaxAttentionIndex: 1},
		{AttentionMask: []uint32{1, 0}, MaxAttentionIndex: 0},
	}
	batch.MaxSequenceLength = 2
	batch.OutputValues = []backend.OutputArray{
		{
			Result3D: [][][]float32{
				{{1, 3}, {3, 5}},
				{{2, 4}, {9, 9}},
			},
		},
	}

	output, err := pipeline.Postprocess(batch)
	assert.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 4}, {2, 4}}, output.Embeddings)
}

func TestPostprocessSentenceEmbeddings(t *testing.T) {
	pipeline := &EmbeddingPipeline{
		BasePipeline: &backend.BasePipeline{},
		Output: backend.InputOutputInfo{
			Name:       "sentence_embedding",
			Dimensions: backend.NewShape(-1, 2),
		},
	}

	batch := backend.NewBatch()
	batch.Input = make([]backend.TokenizedInput, 1)
	batch.OutputValues = []backend.OutputArray{
		{Result2D: [][]float32{{3, 4}}},
	}

	output, err := pipeline.Postprocess(batch)
	assert.NoError(t, err)
	assert.Equal(t, [][]float32{{3, 4}}, output.Embeddings)
}

func TestPostprocessNormalization(t *testing.T) {
	pipeline := &EmbeddingPipeline{
		BasePipeline:  &backend.BasePipeline{},
		Normalization: true,
		Output: backend.InputOutputInfo{
			Name:       "sentence_embedding",
			Dimensions: backend.NewShape(-1, 2),
		},
	}

	batch := backend.NewBatch()
	batch.Input = make([]backend.TokenizedInput, 1)
	batch.OutputValues = []backend.OutputArray{
		{Result2D: [][]float32{{3, 4}}},
	}

	output, err := pipeline.Postprocess(batch)
	assert.NoError(t, err)
	norm := math.Sqrt(float64(output.Embeddings[0][0]*output.Embeddings[0][0] + output.Embeddings[0][1]*output.Embeddings[0][1]))
	assert.InDelta(t, 1.0, norm, 1e-6)
	assert.InDelta(t, 0.6, output.Embeddings[0][0], 1e-6)
	assert.InDelta(t, 0.8, output.Embeddings[0][1], 1e-6)
}

func TestPostprocessEmptyResult(t *testing.T) {
	pipeline := &EmbeddingPipeline{
		BasePipeline: &backend.BasePipeline{},
		Output: backend.InputOutputInfo{
			Dimensions: backend.NewShape(-1, 2),
		},
	}

	batch := backend.NewBatch()
	batch.Input = make([]backend.TokenizedInput, 1)
	batch.OutputValues = []backend.OutputArray{{}}

	_, err := pipeline.Postprocess(batch)
	assert.Error(t, err)
}

func TestEmbeddingOutputGetOutput(t *testing.T) {
	output := &EmbeddingOutput{Embeddings: [][]float32{{1, 2}, {3, 4}}}
	raw := output.GetOutput()
	assert.Len(t, raw, 2)
	assert.Equal(t, []float32{1, 2}, raw[0].([]float32))
}

func TestPipelineOptions(t *testing.T) {
	pipeline := &EmbeddingPipeline{BasePipeline: &backend.BasePipeline{}}
	WithNormalization()(pipeline)
	WithOutputName("token_embeddings")(pipeline)
	assert.True(t, pipeline.Normalization)
	assert.Equal(t, "token_embeddings", pipeline.OutputName)
}
