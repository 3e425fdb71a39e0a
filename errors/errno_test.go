package errors_test

import (
	"errors"
	"testing"

	fserrors "github.com/bramblefs/fat32fs/errors"
	"github.com/stretchr/testify/assert"
)

func TestFSErrorWithMessage(t *testing.T) {
	newErr := fserrors.ErrNoSuchEntry.WithMessage("/A.TXT")
	assert.Equal(t, "no such file or directory: /A.TXT", newErr.Error())
	assert.ErrorIs(t, newErr, fserrors.ErrNoSuchEntry)
}

func TestFSErrorWrap(t *testing.T) {
	originalErr := errors.New("short read")
	newErr := fserrors.ErrIOFailed.Wrap(originalErr)

	assert.EqualValues(t, "input/output error: short read", newErr.Error())
	assert.ErrorIs(t, newErr, originalErr)
	assert.ErrorIs(t, newErr, fserrors.ErrIOFailed)
}
