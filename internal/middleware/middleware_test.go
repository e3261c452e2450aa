package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdscore/scoreboard-server/internal/ratelimit"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestIPRateLimitMiddleware(t *testing.T) {
	start := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	newRequest := func(addr string) *http.Request {
		r := httptest.NewRequest("GET", "/socket", nil)
		r.RemoteAddr = addr
		return r
	}

	t.Run("allows requests under limit", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(start)
		m := NewIPRateLimitMiddleware(ratelimit.NewMemory(clock), 2, time.Minute, "upgrade")
		h := m.Handler(okHandler)

		for i := 0; i < 2; i++ {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, newRequest("10.0.0.1:5000"))
			assert.Equal(t, http.StatusOK, rec.Code)
		}
	})

	t.Run("blocks requests over limit with retry-after", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(start)
		m := NewIPRateLimitMiddleware(ratelimit.NewMemory(clock), 1, time.Minute, "upgrade")
		m.now = clock.Now
		h := m.Handler(okHandler)

		h.ServeHTTP(httptest.NewRecorder(), newRequest("10.0.0.1:5000"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, newRequest("10.0.0.1:6000"))

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "61", rec.Header().Get("Retry-After"))
	})

	t.Run("limits each address separately", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(start)
		m := NewIPRateLimitMiddleware(ratelimit.NewMemory(clock), 1, time.Minute, "upgrade")
		h := m.Handler(okHandler)

		h.ServeHTTP(httptest.NewRecorder(), newRequest("10.0.0.1:5000"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, newRequest("10.0.0.2:5000"))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("non-positive limit disables throttling", func(t *testing.T) {
		m := NewIPRateLimitMiddleware(ratelimit.NewMemory(nil), 0, time.Minute, "upgrade")
		h := m.Handler(okHandler)

		for i := 0; i < 5; i++ {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, newRequest("10.0.0.1:5000"))
			assert.Equal(t, http.StatusOK, rec.Code)
		}
	})
}

func TestClientHost(t *testing.T) {
	assert.Equal(t, "10.0.0.1", clientHost("10.0.0.1:5000"))
	assert.Equal(t, "10.0.0.1", clientHost("10.0.0.1"))
	assert.Equal(t, "::1", clientHost("[::1]:5000"))
}

func TestSecurityHeaders(t *testing.T) {
	t.Run("sets headers", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewSecurityHeadersMiddleware(false).Handler(okHandler).ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
		assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
	})

	t.Run("adds hsts in production", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewSecurityHeadersMiddleware(true).Handler(okHandler).ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

		assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
	})
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	original := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = original })

	var ctxLogged bool
	h := chimiddleware.RequestID(RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxLogged = log.Ctx(r.Context()).GetLevel() != zerolog.Disabled
		w.WriteHeader(http.StatusTeapot)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/debug/sockets/court-1", nil).WithContext(context.Background()))

	require.Equal(t, http.StatusTeapot, rec.Code)
	assert.True(t, ctxLogged)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fields))
	assert.Equal(t, "http request", fields["message"])
	assert.Equal(t, "/debug/sockets/court-1", fields["path"])
	assert.Equal(t, float64(http.StatusTeapot), fields["status"])
	assert.NotEmpty(t, fields["requestId"])
}
