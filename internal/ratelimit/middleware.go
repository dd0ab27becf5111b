package ratelimit

import (
	"net/http"
	"strconv"
)

// RetryAfter wraps reject so that it also sets a Retry-After header of
// seconds.
func RetryAfter(seconds int, reject http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
		reject(w, r)
	}
}
