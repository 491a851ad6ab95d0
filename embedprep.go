package embedprep

import (
	"errors"
	"fmt"

	"github.com/embedworks/embedprep/backend"
	"github.com/embedworks/embedprep/options"
	"github.com/embedworks/embedprep/pipelines"
)

// Session allows for the creation of embedding pipelines and holds the
// pipelines already created, together with the loaded models they share.
type Session struct {
	embeddingPipelines map[string]*pipelines.EmbeddingPipeline
	models             map[string]*backend.Model
	options            *options.Options
	environmentDestroy func() error
}

// EmbeddingConfig is the configuration for an embedding pipeline.
type EmbeddingConfig = backend.PipelineConfig[*pipelines.EmbeddingPipeline]

// EmbeddingOption is an option for an embedding pipeline.
type EmbeddingOption = backend.PipelineOption[*pipelines.EmbeddingPipeline]

func newSession(backendName string, opts ...options.WithOption) (*Session, error) {
	parsedOptions := options.Defaults()
	parsedOptions.Backend = backendName
	// Collect options into a struct, so they can be applied in the correct order later
	for _, option := range opts {
		err := option(parsedOptions)
		if err != nil {
			return nil, err
		}
	}

	session := &Session{
		embeddingPipelines: map[string]*pipelines.EmbeddingPipeline{},
		models:             map[string]*backend.Model{},
		options:            parsedOptions,
		environmentDestroy: func() error {
			return nil
		},
	}

	return session, nil
}

// NewEmbeddingPipeline creates a pipeline from the given config. The initialised
// pipeline is returned and also stored in the session object so that all created
// pipelines can be destroyed with session.Destroy() at once.
func (s *Session) NewEmbeddingPipeline(config EmbeddingConfig) (*pipelines.EmbeddingPipeline, error) {
	if config.Name == "" {
		return nil, errors.New("a name for the pipeline is required")
	}
	if _, exists := s.embeddingPipelines[config.Name]; exists {
		return nil, fmt.Errorf("pipeline %s has already been initialised", config.Name)
	}

	// Load model if it has not been loaded already
	model, ok := s.models[config.ModelPath]
	if !ok {
		var err error
		model, err = backend.LoadModel(config.ModelPath, config.OnnxFilename, s.options)
		if err != nil {
			return nil, err
		}
		s.models[config.ModelPath] = model
	}

	pipeline, err := pipelines.NewEmbeddingPipeline(config, s.options, model)
	if err != nil {
		return nil, err
	}

	model.Pipelines[config.Name] = pipeline
	s.embeddingPipelines[config.Name] = pipeline
	return pipeline, nil
}

// GetEmbeddingPipeline retrieves a previously created pipeline by name.
func (s *Session) GetEmbeddingPipeline(name string) (*pipelines.EmbeddingPipeline, error) {
	p, ok := s.embeddingPipelines[name]
	if !ok {
		return nil, &pipelineNotFoundError{pipelineName: name}
	}
	return p, nil
}

// ClosePipeline removes a pipeline from the session, releasing its model when no
// other pipeline uses it.
func (s *Session) ClosePipeline(name string) error {
	p, ok := s.embeddingPipelines[name]
	if !ok {
		return nil
	}
	model := p.Model
	delete(s.embeddingPipelines, name)
	delete(model.Pipelines, name)
	if len(model.Pipelines) == 0 {
		delete(s.models, model.Path)
		return model.Destroy()
	}
	return nil
}

type pipelineNotFoundError struct {
	pipelineName string
}

func (e *pipelineNotFoundError) Error() string {
	return fmt.Sprintf("Pipeline with name %s not found", e.pipelineName)
}

// GetStats returns runtime statistics for all initialized pipelines for profiling purposes. We currently record for each pipeline:
// the total runtime of the tokenization step
// the number of batch calls to the tokenization step
// the average time per tokenization batch call
// the total runtime of the inference step
// the number of batch calls to the inference step
// the average time per inference batch call.
func (s *Session) GetStats() []string {
	var stats []string
	for _, p := range s.embeddingPipelines {
		stats = append(stats, p.GetStats()...)
	}
	return stats
}

// Destroy deletes the session and all initialized pipelines, freeing memory.
// A session should be destroyed when not needed any more, preferably with a defer() call.
func (s *Session) Destroy() error {
	var err error
	for _, model := range s.models {
		err = errors.Join(err, model.Destroy())
	}
	s.models = nil
	s.embeddingPipelines = nil

	if s.options != nil {
		err = errors.Join(err, s.options.Destroy())
		s.options = nil
	}

	err = errors.Join(err, s.environmentDestroy())
	return err
}
