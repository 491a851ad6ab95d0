//go:build !ORT && !ALL

package embedprep

import (
	"errors"

	"github.com/embedworks/embedprep/options"
)

func NewORTSession(_ ...options.WithOption) (*Session, error) {
	return nil, errors.New("to enable ORT, run `go build -tags ORT` or `go build -tags ALL`")
}
