package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestECarriesCodeAndMessage(t *testing.T) {
	err := E(HandlerNotFound, "no handler registered for class \"X\"")
	assert.Equal(t, HandlerNotFound, err.Code)
	assert.Contains(t, err.Error(), "handler_not_found")
	assert.Contains(t, err.Error(), "no handler registered")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := Wrap(Transport, "redis SET failed", cause)
	assert.Equal(t, cause, err.Unwrap())
	assert.Contains(t, err.Error(), "boom")
}

func TestIsMatchesDirectCode(t *testing.T) {
	err := E(DontPerform, "job skipped")
	assert.True(t, Is(err, DontPerform))
	assert.False(t, Is(err, Transport))
}

func TestIsUnwrapsThroughStdlibWrapping(t *testing.T) {
	inner := E(DirtyExit, "worker vanished")
	outer := fmt.Errorf("processOne: %w", inner)
	assert.True(t, Is(outer, DirtyExit))
}

func TestIsFalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), Transport))
	assert.False(t, Is(nil, Transport))
}

func TestErrDontPerformSentinel(t *testing.T) {
	assert.True(t, Is(ErrDontPerform, DontPerform))
}

func TestCodeStringUnspecified(t *testing.T) {
	assert.Equal(t, "unspecified", Code(999).String())
}
