package fes

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// PipelineError is the error surface of the whole pipeline. Every failure
// a caller can observe wraps one of the root sentinels below, so
// errors.Is against a sentinel is the supported way to branch on failure
// kind.
type PipelineError interface {
	error
	WithMessage(message string) PipelineError
	Wrap(err error) PipelineError
}

type baseFesError string

const rootError = baseFesError("")

var ErrMalformedImage = rootError.WithMessage("malformed ELF image")
var ErrUnsupportedArch = rootError.WithMessage("unsupported architecture")
var ErrStructDecode = rootError.WithMessage("struct table decode failed")
var ErrRoundTrip = rootError.WithMessage("round-trip verification failed")
var ErrContainerFormat = rootError.WithMessage("malformed container")
var ErrStreamTooLarge = rootError.WithMessage("compressed stream too large")

// ExitCode maps an error to the process exit status used by the CLI.
// Unrecognized errors report 1, like any other failed command.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrRoundTrip):
		return 4
	case errors.Is(err, ErrContainerFormat):
		return 5
	case errors.Is(err, ErrUnsupportedArch):
		return 3
	case errors.Is(err, ErrMalformedImage), errors.Is(err, ErrStreamTooLarge):
		return 2
	}
	return 1
}

func (e baseFesError) Error() string {
	return string(e)
}

func (e baseFesError) WithMessage(message string) PipelineError {
	return customPipelineError{
		message:       message,
		originalError: e,
	}
}

func (e baseFesError) Wrap(err error) PipelineError {
	return customPipelineError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customPipelineError struct {
	message       string
	originalError error
}

func (e customPipelineError) Error() string {
	return e.message
}

func (e customPipelineError) WithMessage(message string) PipelineError {
	return customPipelineError{
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customPipelineError) Wrap(err error) PipelineError {
	return customPipelineError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customPipelineError) Unwrap() error {
	return e.originalError
}
