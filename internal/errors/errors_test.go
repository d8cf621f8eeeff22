package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	err := ValidationError("invalid input")

	assert.Equal(t, KindValidation, err.Kind)
	assert.Equal(t, "invalid input", err.Message)
	assert.Nil(t, err.Cause)
	assert.NotNil(t, err.Context)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
	assert.Contains(t, err.Error(), "ValidationError")
	assert.Contains(t, err.Error(), "invalid input")
}

func TestEndPollErrorsMapToConflict(t *testing.T) {
	assert.Equal(t, http.StatusConflict, NotActiveError("no poll").HTTPStatus())
	assert.Equal(t, http.StatusConflict, NotYetEligibleError("too early").HTTPStatus())
}

func TestDispatchError(t *testing.T) {
	cause := errors.New("connection refused")
	err := DispatchError("delivery failed", cause).WithTimeout()

	assert.Equal(t, KindDispatch, err.Kind)
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus())
	assert.True(t, err.Timeout)
	assert.False(t, err.CorsSuspected)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWithField(t *testing.T) {
	err := ValidationError("bad value").
		WithField("field", "username").
		WithField("value", 42)

	assert.Equal(t, "username", err.Context["field"])
	assert.Equal(t, 42, err.Context["value"])
}

func TestUnwrapThroughWrapping(t *testing.T) {
	cause := errors.New("root cause")
	err := InternalError("something broke", cause)
	wrapped := fmt.Errorf("outer: %w", err)

	var structured *Error
	require.ErrorAs(t, wrapped, &structured)
	assert.Equal(t, KindInternal, structured.Kind)
	assert.ErrorIs(t, wrapped, cause)
}

func TestAsStructuredError(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, AsStructuredError(nil))
	})

	t.Run("structured error passes through", func(t *testing.T) {
		original := NotActiveError("no poll")
		assert.Same(t, original, AsStructuredError(original))
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		structured := AsStructuredError(errors.New("boom"))
		assert.Equal(t, KindInternal, structured.Kind)
		assert.Equal(t, http.StatusInternalServerError, structured.HTTPStatus())
	})
}

func TestToResponse(t *testing.T) {
	err := NotYetEligibleError("too early").WithField("elapsed", "5s")
	resp := err.ToResponse()

	assert.Equal(t, "too early", resp.Error)
	assert.Equal(t, KindNotYetEligible, resp.Kind)
	assert.Equal(t, "5s", resp.Context["elapsed"])
}
