package middleware

import (
	"bufio"
	"errors"
	"math"
	"net"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/xuecangming/transfer-queue/internal/common/errors"
	"github.com/xuecangming/transfer-queue/internal/core/logger"
	"golang.org/x/time/rate"
)

// CORSConfig holds the allowed cross-origin settings
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         string
}

// DefaultCORSConfig allows every origin unless CORS_ALLOWED_ORIGINS lists
// specific ones (comma separated)
func DefaultCORSConfig() *CORSConfig {
	origins := []string{"*"}
	if env := os.Getenv("CORS_ALLOWED_ORIGINS"); env != "" {
		origins = origins[:0]
		for _, o := range strings.Split(env, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}
	return &CORSConfig{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Requested-With"},
		MaxAge:         "86400",
	}
}

// CORSMiddleware handles Cross-Origin Resource Sharing with DefaultCORSConfig
func CORSMiddleware(next http.Handler) http.Handler {
	return CORSMiddlewareWithConfig(DefaultCORSConfig())(next)
}

// CORSMiddlewareWithConfig handles Cross-Origin Resource Sharing
func CORSMiddlewareWithConfig(config *CORSConfig) func(http.Handler) http.Handler {
	wildcard := false
	allowed := make(map[string]bool, len(config.AllowedOrigins))
	for _, o := range config.AllowedOrigins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}
	methods := strings.Join(config.AllowedMethods, ", ")
	headers := strings.Join(config.AllowedHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case wildcard:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)
			w.Header().Set("Access-Control-Max-Age", config.MaxAge)

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LoggingMiddleware logs HTTP requests through the global logger
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		logger.Info("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.RequestURI),
			logger.Int("status", wrapped.statusCode),
			logger.Duration("duration", time.Since(start)),
			logger.String("client_ip", getClientIP(r)),
		)
	})
}

// RecoveryMiddleware recovers from panics
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				logger.ErrorLog("Panic recovered",
					logger.Any("panic", err),
					logger.String("stack", string(buf[:n])),
				)
				apperrors.WriteError(w, apperrors.InternalError("Internal Server Error"))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// RateLimiter keeps one token bucket per client. Buckets idle for longer
// than the refill window are full again, so they are swept from the map.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*client
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows requests per window for each client
func NewRateLimiter(requests int, per time.Duration) *RateLimiter {
	if requests < 1 {
		requests = 1
	}
	idle := per
	if idle < time.Minute {
		idle = time.Minute
	}
	return &RateLimiter{
		clients:   make(map[string]*client),
		limit:     rate.Every(per / time.Duration(requests)),
		burst:     requests,
		idle:      idle,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Allow reports whether client may make a request now
func (l *RateLimiter) Allow(client string) bool {
	return l.limiter(client).AllowN(l.clock(), 1)
}

// RetryAfter returns how long client has to wait for its next token
func (l *RateLimiter) RetryAfter(client string) time.Duration {
	now := l.clock()
	r := l.limiter(client).ReserveN(now, 1)
	defer r.CancelAt(now)
	return r.DelayFrom(now)
}

// Len returns the number of clients currently tracked
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *RateLimiter) clock() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now()
}

func (l *RateLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) >= l.idle {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter
}

// RateLimitConfig configures RateLimitMiddlewareWithConfig
type RateLimitConfig struct {
	Requests int
	Per      time.Duration
	// TrustProxy keys clients on X-Forwarded-For / X-Real-IP. Enable it only
	// behind a proxy that overwrites those headers; otherwise any client can
	// pick a fresh key per request.
	TrustProxy bool
}

// RateLimitMiddleware rejects clients exceeding requests per window with
// 429. Clients are keyed on the connection's remote address.
func RateLimitMiddleware(requests int, per time.Duration) func(http.Handler) http.Handler {
	return RateLimitMiddlewareWithConfig(RateLimitConfig{Requests: requests, Per: per})
}

// RateLimitMiddlewareWithConfig rejects clients exceeding the configured
// rate with 429
func RateLimitMiddlewareWithConfig(config RateLimitConfig) func(http.Handler) http.Handler {
	return rateLimit(NewRateLimiter(config.Requests, config.Per), config.TrustProxy)
}

func rateLimit(limiter *RateLimiter, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := remoteHost(r)
			if trustProxy {
				key = getClientIP(r)
			}
			if !limiter.Allow(key) {
				wait := math.Ceil(limiter.RetryAfter(key).Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Max(wait, 1))))
				apperrors.WriteError(w, apperrors.NewAppError(
					apperrors.ErrServiceUnavail, "Too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP prefers X-Forwarded-For, then X-Real-IP, then RemoteAddr.
// The headers are client controlled; use it for logging, not for trust.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the wrapper
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Flush implements http.Flusher when the underlying writer does
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
