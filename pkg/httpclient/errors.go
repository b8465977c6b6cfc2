package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/sobhihamadi/TakwaFortress-sub000/pkg/errors"
)

// errorEnvelope matches the {"error":{"code","message"}} body written by
// pkg/httputil.
type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError consumes and closes a non-2xx response body and turns it
// into an error, keeping the peer's error code when the body is structured.
func ParseResponseError(resp *http.Response, peer string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (read body: %w)", peer, resp.StatusCode, err)
	}

	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		return mapStatus(resp.StatusCode, env.Error.Code, fmt.Sprintf("%s: %s", peer, env.Error.Message))
	}
	return mapStatus(resp.StatusCode, "", fmt.Sprintf("%s returned status %d: %s", peer, resp.StatusCode, string(body)))
}

func mapStatus(status int, code, msg string) error {
	switch status {
	case http.StatusNotFound:
		return &apperrors.AppError{Code: "NOT_FOUND", Message: msg, Status: status, Err: apperrors.ErrNotFound}
	case http.StatusBadRequest:
		return apperrors.InvalidInput(msg)
	case http.StatusConflict:
		return apperrors.Conflict(msg)
	case http.StatusUnauthorized:
		return apperrors.Unauthorized(msg)
	case http.StatusForbidden:
		return apperrors.Forbidden(msg)
	case http.StatusPreconditionFailed:
		if code == "" {
			code = "PRECONDITION_FAILED"
		}
		return apperrors.PreconditionFailed(code, msg)
	}
	if code == "" {
		code = http.StatusText(status)
	}
	return &apperrors.AppError{Code: code, Message: msg, Status: status}
}
