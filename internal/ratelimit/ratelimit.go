// Package ratelimit throttles API callers with one token bucket per key.
package ratelimit

import (
	"context"
	"net"
	"net/http"
)

// Limiter decides whether a request identified by key may proceed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow consumes one unit for key. An error means the limiter itself
	// failed; Middleware lets such requests through.
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// NoopLimiter permits every request.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }
func (NoopLimiter) Close() error                                { return nil }

// KeyFunc names the bucket a request draws from. An empty key exempts the
// request.
type KeyFunc func(r *http.Request) string

// Middleware rejects requests whose bucket is empty by calling reject.
// A nil limiter disables the middleware.
func Middleware(l Limiter, key KeyFunc, reject http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}
			ok, err := l.Allow(r.Context(), k)
			if err != nil || ok {
				next.ServeHTTP(w, r)
				return
			}
			reject(w, r)
		})
	}
}

// ClientIP returns the host part of r.RemoteAddr. Forwarding headers are
// ignored since any client can set them.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
