package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/domain"
	apperrors "github.com/sobhihamadi/TakwaFortress-sub000/pkg/errors"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/httputil"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/logger"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/middleware"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/validator"
)

const maxBodyBytes = 1 << 20

// writeError renders store outages as 503 and everything else through the
// shared AppError mapping.
func writeError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) && domain.IsStorageFailure(err) {
		l := logger.FromContext(r.Context())
		if l == slog.Default() && fallback != nil {
			l = fallback
		}
		l.ErrorContext(r.Context(), "store unavailable",
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
		)
		err = apperrors.Unavailable("storage unavailable", err)
	}
	httputil.WriteError(w, r, err, fallback)
}

// decode reads an optional JSON body into dst. An empty body leaves dst at
// its zero value and is validated as such.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if r.ContentLength == 0 {
		if err := validator.Validate(dst); err != nil {
			httputil.WriteValidationError(w, err)
			return false
		}
		return true
	}
	if err := validator.DecodeAndValidate(r, dst); err != nil {
		httputil.WriteValidationError(w, err)
		return false
	}
	return true
}

func identity(r *http.Request) *middleware.Identity {
	if id := middleware.IdentityFromContext(r.Context()); id != nil {
		return id
	}
	return &middleware.Identity{}
}
