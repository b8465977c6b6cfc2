package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/logger"
)

func silent() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRequestLogging_CorrelationID(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))

	var seen string
	h := RequestLogging(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.CorrelationIDFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/route", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "corr-123", seen)
	assert.Equal(t, "corr-123", rec.Header().Get("X-Correlation-ID"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.EqualValues(t, http.StatusAccepted, line["status"])
}

func TestRequestLogging_GeneratesID(t *testing.T) {
	h := RequestLogging(silent())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get("X-Correlation-ID"), 36)
}

func TestRecovery(t *testing.T) {
	h := Recovery(silent())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("layer table corrupted")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestAuthenticate(t *testing.T) {
	verify := func(token string) (*Identity, error) {
		if token == "good" {
			return &Identity{AccountID: "acct-1", Email: "a@b.co"}, nil
		}
		return nil, errors.New("bad token")
	}

	var got *Identity
	h := Authenticate(verify)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = IdentityFromContext(r.Context())
		assert.Equal(t, "acct-1", logger.AccountIDFromContext(r.Context()))
	}))

	cases := map[string]int{"": http.StatusUnauthorized, "Basic abc": http.StatusUnauthorized, "Bearer bad": http.StatusUnauthorized, "Bearer good": http.StatusOK}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, header)
	}
	require.NotNil(t, got)
	assert.Equal(t, "acct-1", got.AccountID)
}

func TestOptionalAuthenticate_Anonymous(t *testing.T) {
	called := false
	h := OptionalAuthenticate(func(string) (*Identity, error) { return nil, errors.New("x") })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			assert.Nil(t, IdentityFromContext(r.Context()))
		}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, called)
}

func TestIPAllowlist(t *testing.T) {
	h := IPAllowlist([]string{"127.0.0.0/8", "not-a-cidr"}, silent())(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req.RemoteAddr = "10.1.2.3:5555"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPrometheusMetrics_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics("fortressd-test"))
	r.Get("/api/v1/blocklist/{pkg}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/blocklist/com.x.y", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
