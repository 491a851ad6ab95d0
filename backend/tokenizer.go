package backend

import (
	"fmt"

	"github.com/embedworks/embedprep/options"
	"github.com/embedworks/embedprep/util"
)

type Tokenizer struct {
	Runtime          string
	GoTokenizer      *GoTokenizer
	RustTokenizer    *RustTokenizer
	TokenizerTimings *Timings
	MaxAllowedTokens int
	Destroy          func() error
}

func LoadTokenizer(model *Model, s *options.Options) error {
	tokenizerBytes, err := util.ReadFileBytes(util.PathJoinSafe(model.Path, "tokenizer.json"))
	if err != nil {
		return err
	}

	switch s.Backend {
	case "GO":
		return loadGoTokenizer(tokenizerBytes, model)
	case "ORT":
		return loadRustTokenizer(tokenizerBytes, model)
	default:
		return fmt.Errorf("backend %s not recognized", s.Backend)
	}
}

func TokenizeInputs(batch *PipelineBatch, tk *Tokenizer, inputs []string) {
	switch tk.Runtime {
	case "GO":
		tokenizeInputsGo(batch, tk, inputs)
	case "RUST":
		tokenizeInputsRust(batch, tk, inputs)
	}
}
