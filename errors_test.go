package vkrcontext

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := NewRingError("submit_cmd", 7, 2, ErrCodeStructuralProtocol, "short read")
	assert.Contains(t, err.Error(), "op=submit_cmd")
	assert.Contains(t, err.Error(), "ctx=7")
	assert.Contains(t, err.Error(), "short read")
}

func TestErrorIsByCode(t *testing.T) {
	a := NewError("op1", ErrCodeCapacity, "arena exceeded")
	b := NewError("op2", ErrCodeCapacity, "different message")
	c := NewError("op3", ErrCodeDriver, "unrelated")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestWrapErrorPreservesCode(t *testing.T) {
	inner := NewRingError("decode", 1, 0, ErrCodeResource, "oob")
	wrapped := WrapError("submit_cmd", inner)
	assert.Equal(t, ErrCodeResource, wrapped.Code)
	assert.Equal(t, uint32(1), wrapped.ContextID)
	assert.ErrorIs(t, wrapped, inner)
}

func TestWrapErrorMapsErrno(t *testing.T) {
	wrapped := WrapError("driver_call", syscall.ENOMEM)
	assert.Equal(t, ErrCodeCapacity, wrapped.Code)
	assert.True(t, IsErrno(wrapped, syscall.ENOMEM))
}

func TestWrapErrorNilIsNil(t *testing.T) {
	assert.Nil(t, WrapError("op", nil))
}

func TestIsCodeHelpers(t *testing.T) {
	err := NewError("op", ErrCodePolicy, "blocking call requested")
	assert.True(t, IsCode(err, ErrCodePolicy))
	assert.False(t, IsCode(err, ErrCodeFatal))
	assert.False(t, IsCode(errors.New("plain"), ErrCodePolicy))
}
