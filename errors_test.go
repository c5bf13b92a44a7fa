package fes_test

import (
	"errors"
	"testing"

	"github.com/dargueta/fes"
	"github.com/stretchr/testify/assert"
)

func TestPipelineErrorWithMessage(t *testing.T) {
	newErr := fes.ErrMalformedImage.WithMessage("section header table past EOF")
	assert.Equal(
		t,
		"malformed ELF image: section header table past EOF",
		newErr.Error(),
		"error message is wrong")
	assert.ErrorIs(t, newErr, fes.ErrMalformedImage)
}

func TestPipelineErrorWrap(t *testing.T) {
	originalErr := errors.New("original error")
	newErr := fes.ErrContainerFormat.Wrap(originalErr)
	expectedMessage := "malformed container: original error"

	assert.EqualValues(t, expectedMessage, newErr.Error(), "error message is wrong")
	assert.ErrorIs(t, newErr, originalErr, "original error not set as parent")
	assert.ErrorIs(t, newErr, fes.ErrContainerFormat, "root error not set as parent")
}

func TestExitCode(t *testing.T) {
	testCases := []struct {
		err  error
		code int
	}{
		{nil, 0},
		{fes.ErrMalformedImage, 2},
		{fes.ErrMalformedImage.WithMessage("truncated"), 2},
		{fes.ErrStreamTooLarge, 2},
		{fes.ErrUnsupportedArch, 3},
		{fes.ErrRoundTrip, 4},
		{fes.ErrContainerFormat, 5},
		{fes.ErrContainerFormat.Wrap(errors.New("trailing garbage")), 5},
		{errors.New("unrelated"), 1},
	}

	for _, testCase := range testCases {
		assert.Equalf(
			t,
			testCase.code,
			fes.ExitCode(testCase.err),
			"wrong exit code for %v",
			testCase.err)
	}
}
