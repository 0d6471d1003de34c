package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veriledger/internal/platform/metrics"
	"veriledger/pkg/requestcontext"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = requestcontext.RequestID(r.Context())
	}))

	t.Run("reuses inbound id", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(RequestIDHeader, "abc-123")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		assert.Equal(t, "abc-123", seen)
		assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
	})

	t.Run("replaces unprintable id", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(RequestIDHeader, "bad id\x01")
		h.ServeHTTP(httptest.NewRecorder(), r)
		assert.NotEqual(t, "bad id\x01", seen)
		assert.Len(t, seen, 36)
	})
}

func TestRecovery(t *testing.T) {
	h := Recovery(quiet)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_error")
}

func TestLoggerRecordsRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWith(reg)

	r := chi.NewRouter()
	r.Use(Logger(quiet, m))
	r.Get("/v1/verify/{code}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, code := range []string{"AAAA", "BBBB"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/verify/"+code, nil))
	}

	count := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/v1/verify/{code}", http.MethodGet, "2xx"))
	require.Equal(t, float64(2), count)
}
