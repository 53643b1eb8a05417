package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestCORSMiddleware(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	handler := CORSMiddleware(okHandler)

	t.Run("sets CORS headers with wildcard origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/operations", nil)
		req.Header.Set("Origin", "http://example.com")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Methods"))
		assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Headers"))
	})

	t.Run("handles OPTIONS preflight", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/operations", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("passes through regular requests", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/operations", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestCORSMiddlewareWithConfig(t *testing.T) {
	handler := CORSMiddlewareWithConfig(&CORSConfig{
		AllowedOrigins: []string{"http://allowed.com"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         "3600",
	})(okHandler)

	req := httptest.NewRequest("GET", "/operations", nil)
	req.Header.Set("Origin", "http://allowed.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, "http://allowed.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))
	assert.Equal(t, "GET, POST", w.Header().Get("Access-Control-Allow-Methods"))

	req = httptest.NewRequest("GET", "/operations", nil)
	req.Header.Set("Origin", "http://notallowed.com")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestDefaultCORSConfig(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	assert.Equal(t, []string{"*"}, DefaultCORSConfig().AllowedOrigins)

	t.Setenv("CORS_ALLOWED_ORIGINS", "http://example.com, http://another.com")
	assert.Equal(t, []string{"http://example.com", "http://another.com"}, DefaultCORSConfig().AllowedOrigins)
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows requests within limit", func(t *testing.T) {
		limiter := NewRateLimiter(5, time.Second)
		for i := 0; i < 5; i++ {
			assert.True(t, limiter.Allow("client1"), "request %d", i+1)
		}
		assert.False(t, limiter.Allow("client1"))
	})

	t.Run("isolates different clients", func(t *testing.T) {
		limiter := NewRateLimiter(2, time.Second)
		limiter.Allow("client1")
		limiter.Allow("client1")
		assert.True(t, limiter.Allow("client2"))
	})

	t.Run("replenishes tokens over time", func(t *testing.T) {
		limiter := NewRateLimiter(1, 50*time.Millisecond)
		limiter.Allow("client1")
		assert.False(t, limiter.Allow("client1"))

		time.Sleep(60 * time.Millisecond)
		assert.True(t, limiter.Allow("client1"))
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := RateLimitMiddleware(1, time.Second)(okHandler)

	req := httptest.NewRequest("POST", "/operations", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	limiter := NewRateLimiter(1, time.Second)
	now := time.Now()
	limiter.now = func() time.Time { return now }
	limiter.lastSweep = now

	for _, c := range []string{"a", "b", "c"} {
		assert.True(t, limiter.Allow(c))
	}
	assert.Equal(t, 3, limiter.Len())

	now = now.Add(30 * time.Second)
	assert.True(t, limiter.Allow("a"))
	assert.Equal(t, 3, limiter.Len(), "nothing is swept before the idle window")

	now = now.Add(45 * time.Second)
	assert.True(t, limiter.Allow("d"))
	assert.Equal(t, 2, limiter.Len(), "b and c are swept while a was seen recently")
}

func TestRateLimitMiddleware_IgnoresForwardedHeadersByDefault(t *testing.T) {
	handler := RateLimitMiddleware(2, time.Second)(okHandler)

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/operations", nil)
		req.RemoteAddr = "10.0.0.1:" + strconv.Itoa(40000+i)
		req.Header.Set("X-Forwarded-For", "203.0.113."+strconv.Itoa(i))
		req.Header.Set("X-Real-IP", "198.51.100."+strconv.Itoa(i))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{
		http.StatusOK, http.StatusOK,
		http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusTooManyRequests,
	}, codes)
}

func TestRateLimitMiddleware_TrustProxy(t *testing.T) {
	handler := RateLimitMiddlewareWithConfig(RateLimitConfig{Requests: 1, Per: time.Second, TrustProxy: true})(okHandler)

	send := func(forwarded string) int {
		req := httptest.NewRequest("GET", "/operations", nil)
		req.RemoteAddr = "127.0.0.1:8080"
		req.Header.Set("X-Forwarded-For", forwarded)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.1"))
	assert.Equal(t, http.StatusOK, send("203.0.113.2"))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		expected   string
	}{
		{"from RemoteAddr", "192.168.1.1:12345", nil, "192.168.1.1"},
		{"from X-Forwarded-For", "127.0.0.1:12345", map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, "10.0.0.1"},
		{"from X-Real-IP", "127.0.0.1:12345", map[string]string{"X-Real-IP": "172.16.0.1"}, "172.16.0.1"},
		{"X-Forwarded-For takes precedence", "127.0.0.1:12345", map[string]string{"X-Forwarded-For": "10.0.0.1", "X-Real-IP": "172.16.0.1"}, "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, getClientIP(req))
		})
	}
}

func TestLoggingMiddleware(t *testing.T) {
	called := false
	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/operations", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	}))

	w := httptest.NewRecorder()
	assert.NotPanics(t, func() { handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil)) })
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)
	assert.Equal(t, http.StatusNotFound, rw.statusCode)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// httptest.ResponseRecorder cannot be hijacked.
	_, _, err := rw.Hijack()
	assert.Error(t, err)
}
