package slogx_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anamul94/DietGuard/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slogx.New(slogx.Config{Service: "identity", Version: "test", Env: "test", Level: "debug", Output: &buf})
	logger.Debug("hello", slogx.Err(nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "identity", line["service"])
	require.Equal(t, "hello", line["msg"])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, slogx.ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, slogx.ParseLevel("warning"))
	require.Equal(t, slog.LevelInfo, slogx.ParseLevel("nonsense"))
}

func TestHTTPMiddlewareRequestID(t *testing.T) {
	var seen string
	h := slogx.HTTPMiddleware(slogx.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = slogx.RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("propagates inbound id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(slogx.RequestIDHeader, "abc-123")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, "abc-123", seen)
		require.Equal(t, "abc-123", rec.Header().Get(slogx.RequestIDHeader))
		require.Equal(t, http.StatusTeapot, rec.Code)
	})

	t.Run("generates when missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.NotEmpty(t, seen)
		require.Equal(t, seen, rec.Header().Get(slogx.RequestIDHeader))
	})
}
