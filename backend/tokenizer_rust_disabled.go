//go:build !ORT && !ALL

package backend

import "errors"

type RustTokenizer struct{}

func loadRustTokenizer(_ []byte, _ *Model) error {
	return errors.New("the rust tokenizer requires the ORT backend, run `go build -tags ORT` or `go build -tags ALL`")
}

func tokenizeInputsRust(_ *PipelineBatch, _ *Tokenizer, _ []string) {
}
