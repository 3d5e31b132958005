package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapUnwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := Wrap(cause, "SES_FAILED", "SES call failed")

	assert.Equal(t, "SES call failed: boom", err.Error())
	assert.True(t, stderrors.Is(err, cause))
}

func TestWithDetailsDoesNotMutatePredefined(t *testing.T) {
	err := ErrNotFound.WithDetails("domain abc")

	assert.Equal(t, "domain abc", err.Details)
	assert.Empty(t, ErrNotFound.Details)
	assert.Equal(t, ErrNotFound.Code, err.Code)
}

func TestWithErrFillsDetails(t *testing.T) {
	err := ErrInternal.WithErr(stderrors.New("db down"))

	assert.Equal(t, "db down", err.Details)
	assert.Nil(t, ErrInternal.Err)
}
