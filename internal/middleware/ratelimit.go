package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig defines parameters for a rate limiter.
type RateLimitConfig struct {
	// RequestsPerWindow is the maximum number of requests allowed per window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
}

// Validate checks if the configuration is valid.
func (c RateLimitConfig) Validate() error {
	if c.RequestsPerWindow <= 0 {
		return fmt.Errorf("requests per window must be positive, got %d", c.RequestsPerWindow)
	}
	if c.WindowDuration <= 0 {
		return fmt.Errorf("window duration must be positive, got %v", c.WindowDuration)
	}
	return nil
}

// Default rate limit configurations.
var (
	// DefaultGlobalLimit is for general API endpoints
	DefaultGlobalLimit = RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
	}
	// DefaultExportLimit is for export request and generation endpoints
	DefaultExportLimit = RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Minute,
	}
	// DefaultErasureLimit is for the account erasure endpoint
	DefaultErasureLimit = RateLimitConfig{
		RequestsPerWindow: 5,
		WindowDuration:    time.Minute,
	}
)

// RateLimitStore is the interface for rate limit storage backends.
type RateLimitStore interface {
	// Allow checks if a request is allowed for the given key.
	// Returns true if allowed, false if rate limited.
	// Also returns the current count of requests in the window.
	Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int)
}

// bucket tracks request counts for a time window.
type bucket struct {
	count       int
	windowStart time.Time
}

// InMemoryRateLimitStore implements rate limiting using in-memory storage.
// Suitable for single-instance deployments. Use RedisRateLimitStore for
// multi-instance deployments.
type InMemoryRateLimitStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewInMemoryRateLimitStore creates a new in-memory rate limit store.
func NewInMemoryRateLimitStore() *InMemoryRateLimitStore {
	return &InMemoryRateLimitStore{
		buckets: make(map[string]*bucket),
	}
}

// Allow implements RateLimitStore using a fixed-window algorithm.
func (s *InMemoryRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	b, exists := s.buckets[key]

	// New bucket or expired window: start fresh
	if !exists || now.Sub(b.windowStart) >= config.WindowDuration {
		s.buckets[key] = &bucket{
			count:       1,
			windowStart: now,
		}
		return true, 1
	}

	// Within window: check limit
	if b.count >= config.RequestsPerWindow {
		return false, b.count
	}

	b.count++
	return true, b.count
}

// Cleanup removes expired buckets. Call periodically to prevent memory growth.
func (s *InMemoryRateLimitStore) Cleanup(maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, b := range s.buckets {
		if now.Sub(b.windowStart) > maxAge {
			delete(s.buckets, key)
		}
	}
}

// KeyFunc extracts a rate limit key from a request.
type KeyFunc func(r *http.Request) string

// IPKeyFunc returns a key based on the client IP address.
// Checks X-Forwarded-For and X-Real-IP headers for proxied requests.
func IPKeyFunc(r *http.Request) string {
	// Check X-Forwarded-For header (first IP in comma-separated list)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return "ip:" + strings.TrimSpace(parts[0])
		}
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return "ip:" + xri
	}

	// Fall back to RemoteAddr
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

// UserKeyFunc returns a key based on the authenticated user, falling back
// to IP address for unauthenticated requests.
func UserKeyFunc(r *http.Request) string {
	if userID := GetUserID(r.Context()); userID != "" {
		return "user:" + userID
	}
	return IPKeyFunc(r)
}

// keyType extracts the key type prefix for metrics labels.
func keyType(key string) string {
	if i := strings.Index(key, ":"); i > 0 {
		return key[:i]
	}
	return "unknown"
}

// RateLimiter creates rate limiting middleware with the given store, config,
// and key function. Blocked requests receive 429 with Retry-After.
func RateLimiter(store RateLimitStore, config RateLimitConfig, keyFn KeyFunc, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			endpoint := normalizePath(r.URL.Path)

			if metrics != nil {
				metrics.IncRateLimitRequests(endpoint, keyType(key))
			}

			allowed, _ := store.Allow(r.Context(), key, config)
			if !allowed {
				if metrics != nil {
					metrics.IncRateLimitBlocked(endpoint, keyType(key))
				}
				// Set error code for logging middleware
				ctx := SetErrorCode(r.Context(), "rate_limit_exceeded")
				r = r.WithContext(ctx)

				retryAfter := int(config.WindowDuration.Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(config.WindowDuration).Unix(), 10))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
