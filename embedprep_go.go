package embedprep

import (
	"github.com/embedworks/embedprep/options"
)

// NewGoSession creates a session backed by the pure Go onnx runtime. It needs
// no shared library and is the default for the command line tools.
func NewGoSession(opts ...options.WithOption) (*Session, error) {
	return newSession("GO", opts...)
}
