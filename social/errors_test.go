package social

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestErrorKinds(t *testing.T) {
	err := NewNotFoundError("Document does not exist: %s", "users/u1")
	assert.Equal(t, errors.Is(err, ErrNotFound), true)
	assert.Equal(t, errors.Is(err, ErrPermission), false)
	assert.Equal(t, err.Error(), "NotFoundError: Document does not exist: users/u1")

	wrapped := fmt.Errorf("load profile: %w", err)
	assert.Equal(t, errors.Is(wrapped, ErrNotFound), true)
	assert.Equal(t, KindOf(wrapped), ErrorKindNotFound)
	assert.Equal(t, AsError(wrapped), err)

	// unclassified errors are transient
	assert.Equal(t, KindOf(errors.New("connection reset")), ErrorKindNetwork)
	assert.Equal(t, IsRetryable(errors.New("connection reset")), true)
	assert.Equal(t, IsRetryable(context.Canceled), false)
	assert.Equal(t, IsRetryable(NewPermissionError("denied")), false)
	assert.Equal(t, KindOf(nil), ErrorKind(""))
	assert.Equal(t, AsError(nil) == nil, true)

	timeout := WrapError(ErrorKindNetwork, context.DeadlineExceeded, "create post timed out")
	assert.Equal(t, errors.Is(timeout, context.DeadlineExceeded), true)
	assert.Equal(t, errors.Is(timeout, ErrNetwork), true)
}

func TestErrorStatus(t *testing.T) {
	kinds := []ErrorKind{
		ErrorKindAuth,
		ErrorKindPermission,
		ErrorKindNotFound,
		ErrorKindValidation,
		ErrorKindNetwork,
	}
	for _, kind := range kinds {
		assert.Equal(t, ErrorKindForStatus(StatusForErrorKind(kind)), kind)
	}
	assert.Equal(t, ErrorKindForStatus(http.StatusUnprocessableEntity), ErrorKindValidation)
	assert.Equal(t, ErrorKindForStatus(http.StatusInternalServerError), ErrorKindNetwork)
}
