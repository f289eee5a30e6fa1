package apierrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{CodeInvalidRequest, 400},
		{CodeNotFound, 404},
		{CodeStateConflict, 409},
		{CodeQueueFull, 429},
		{CodeProcessingError, 422},
		{CodeInternalError, 500},
	}
	for _, c := range cases {
		e := New(c.code, "boom")
		assert.Equal(t, c.want, e.StatusCode())
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	e := Wrap(CodeInternalError, "could not write blob", cause)

	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "disk full")
	assert.Contains(t, e.Error(), "could not write blob")
}

func TestConstructors(t *testing.T) {
	assert.Equal(t, CodeNotFound, NotFound("batch", "batch_123").Code)
	assert.Equal(t, CodeInvalidRequest, InvalidRequest("bad field %s", "foo").Code)
	assert.Equal(t, CodeQueueFull, QueueFull("full").Code)
	assert.Equal(t, CodeStateConflict, StateConflict("wrong state %s", "x").Code)
	assert.Equal(t, CodeProcessingError, ProcessingError("failed %s", "y").Code)
	assert.Equal(t, CodeInternalError, Internal("oops", nil).Code)
}

func TestErrorWithoutCause(t *testing.T) {
	e := New(CodeNotFound, "file \"f1\" not found")
	assert.Equal(t, `not_found: file "f1" not found`, e.Error())
	assert.Nil(t, e.Unwrap())
}
