//go:build !ORT && !ALL

package backend

import (
	"errors"

	"github.com/embedworks/embedprep/options"
)

type ORTModel struct {
	Destroy func() error
}

func createORTModelBackend(_ *Model, _ *options.Options) error {
	return errors.New("the ORT backend is not enabled, run `go build -tags ORT` or `go build -tags ALL`")
}

func createInputTensorsORT(_ *PipelineBatch, _ []InputOutputInfo) error {
	return nil
}

func runORTSessionOnBatch(_ *PipelineBatch, _ *BasePipeline) error {
	return nil
}
