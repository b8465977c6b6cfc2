package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	withCause := &AppError{Code: "INTERNAL_ERROR", Message: "boom", Err: fmt.Errorf("db down")}
	assert.Equal(t, "INTERNAL_ERROR: boom: db down", withCause.Error())

	bare := &AppError{Code: "NOT_FOUND", Message: "policy not found"}
	assert.Equal(t, "NOT_FOUND: policy not found", bare.Error())
}

func TestConstructors_UnwrapToSentinel(t *testing.T) {
	cases := []struct {
		err      *AppError
		sentinel error
		status   int
	}{
		{NotFound("account", "a1"), ErrNotFound, http.StatusNotFound},
		{AlreadyExists("account", "email", "x@y"), ErrAlreadyExists, http.StatusConflict},
		{InvalidInput("bad plan"), ErrInvalidInput, http.StatusBadRequest},
		{Unauthorized("no token"), ErrUnauthorized, http.StatusUnauthorized},
		{Forbidden("wrong device"), ErrForbidden, http.StatusForbidden},
		{Conflict("already active"), ErrConflict, http.StatusConflict},
		{PreconditionFailed("DEVICE_OWNER_NOT_ACTIVE", "grant first"), ErrPreconditionFailed, http.StatusPreconditionFailed},
		{Unavailable("store down", errors.New("dial")), ErrServiceUnavail, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.err.Code, func(t *testing.T) {
			assert.ErrorIs(t, tc.err, tc.sentinel)
			assert.Equal(t, tc.status, tc.err.Status)
			assert.Equal(t, tc.status, HTTPStatus(tc.err))
		})
	}
}

func TestHTTPStatus_WrappedSentinels(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(Wrap(ErrNotFound, "get policy")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(fmt.Errorf("x: %w", ErrConflict)))
	assert.Equal(t, http.StatusPreconditionFailed, HTTPStatus(fmt.Errorf("x: %w", ErrPreconditionFailed)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
}

func TestHTTPStatus_AppErrorDeepInChain(t *testing.T) {
	err := fmt.Errorf("handler: %w", Forbidden("nope"))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(err))
}
