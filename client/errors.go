package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

// Sentinel errors. Both backends return errors that match these with
// errors.Is, so callers do not need to know whether the store is local or
// remote.
var (
	ErrNotFound          = model.ErrNotFound
	ErrAlreadyExists     = model.ErrAlreadyExists
	ErrConflict          = model.ErrConflict
	ErrInvalidState      = model.ErrInvalidState
	ErrInvalidTransition = model.ErrInvalidTransition
	ErrNoActiveRun       = model.ErrNoActiveRun
	ErrUnsupportedFormat = model.ErrUnsupportedFormat
	ErrInvalidArgument   = model.ErrInvalidArgument
)

// Error is a failed call to a remote tracking server, carrying the HTTP
// status and the server's error code. It unwraps to the matching sentinel.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("tsuiseki: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Unwrap returns the sentinel for the server's error code, if any.
func (e *Error) Unwrap() error {
	if err := model.SentinelForCode(e.Code); err != nil {
		return err
	}
	if e.StatusCode == http.StatusRequestEntityTooLarge {
		return model.ErrInvalidArgument
	}
	return nil
}

// IsUnauthorized reports whether err is a 401 from the tracking server.
func IsUnauthorized(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.StatusCode == http.StatusUnauthorized
}

// IsRateLimited reports whether err is a 429 from the tracking server.
func IsRateLimited(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.StatusCode == http.StatusTooManyRequests
}
