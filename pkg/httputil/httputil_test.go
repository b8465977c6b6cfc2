package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sobhihamadi/TakwaFortress-sub000/pkg/errors"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/logger"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/validator"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestWriteData(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteData(rec, http.StatusCreated, map[string]string{"state": "ACTIVE"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"state":"ACTIVE"}}`, rec.Body.String())
}

func TestWriteError_AppError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req = req.WithContext(logger.WithCorrelationID(req.Context(), "req-7"))
	rec := httptest.NewRecorder()

	WriteError(rec, req, fmt.Errorf("activate: %w", apperrors.PreconditionFailed("DEVICE_OWNER_NOT_ACTIVE", "grant device owner first")), nil)

	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "DEVICE_OWNER_NOT_ACTIVE", resp.Error.Code)
	assert.Equal(t, "req-7", resp.Error.RequestID)
}

func TestWriteError_Sentinels(t *testing.T) {
	cases := []struct {
		err  error
		code int
		name string
	}{
		{fmt.Errorf("get: %w", apperrors.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("x: %w", apperrors.ErrConflict), http.StatusConflict, "CONFLICT"},
		{fmt.Errorf("x: %w", apperrors.ErrServiceUnavail), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err,
				slog.New(slog.NewTextHandler(io.Discard, nil)))
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tc.name, decode(t, rec).Error.Code)
		})
	}
}

func TestWriteErrorDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorDetails(rec, httptest.NewRequest(http.MethodPost, "/", nil),
		apperrors.Conflict("restrictions failed"), map[string]string{"auto_time": "denied"}, nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"auto_time":"denied"`))
}

func TestWriteValidationError(t *testing.T) {
	type body struct {
		Plan string `json:"plan" validate:"required"`
	}
	err := validator.Validate(body{})
	rec := httptest.NewRecorder()
	WriteValidationError(rec, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	assert.Equal(t, "is required", resp.Error.Fields["Plan"])
}
