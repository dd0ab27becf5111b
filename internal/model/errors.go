package model

import "errors"

// Sentinel errors shared by the storage layer, the services and both client
// backends. Wrap them with fmt.Errorf("...: %w", ErrX) and test with errors.Is.
var (
	// ErrNotFound is returned for an unknown experiment, run, registered model,
	// model version or artifact path.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when an active experiment or registered
	// model with the same name already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict is returned when a param key is logged again with a
	// different value.
	ErrConflict = errors.New("conflict")

	// ErrInvalidState is returned when a mutation targets a run that is no
	// longer running, or an experiment that can no longer be changed.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidTransition is returned for an illegal run status change.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrNoActiveRun is returned by run-scoped client calls when the context
	// carries no active run.
	ErrNoActiveRun = errors.New("no active run")

	// ErrUnsupportedFormat is returned when a model manifest names a format
	// no loader is registered for.
	ErrUnsupportedFormat = errors.New("unsupported model format")

	// ErrInvalidArgument is returned for malformed input: bad URIs, filter
	// expressions, stage names, artifact paths.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Error codes used in the HTTP error envelope.
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeAlreadyExists     = "ALREADY_EXISTS"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidState      = "INVALID_STATE"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	ErrCodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// codeToErr maps wire error codes back to sentinels.
var codeToErr = map[string]error{
	ErrCodeInvalidInput:      ErrInvalidArgument,
	ErrCodeNotFound:          ErrNotFound,
	ErrCodeAlreadyExists:     ErrAlreadyExists,
	ErrCodeConflict:          ErrConflict,
	ErrCodeInvalidState:      ErrInvalidState,
	ErrCodeInvalidTransition: ErrInvalidTransition,
	ErrCodeUnsupportedFormat: ErrUnsupportedFormat,
}

// SentinelForCode returns the sentinel error for an API error code, or nil.
func SentinelForCode(code string) error {
	return codeToErr[code]
}

// CodeForError returns the API error code for err and whether err matched
// one of the domain sentinels.
func CodeForError(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound, true
	case errors.Is(err, ErrAlreadyExists):
		return ErrCodeAlreadyExists, true
	case errors.Is(err, ErrConflict):
		return ErrCodeConflict, true
	case errors.Is(err, ErrInvalidState):
		return ErrCodeInvalidState, true
	case errors.Is(err, ErrInvalidTransition):
		return ErrCodeInvalidTransition, true
	case errors.Is(err, ErrUnsupportedFormat):
		return ErrCodeUnsupportedFormat, true
	case errors.Is(err, ErrInvalidArgument):
		return ErrCodeInvalidInput, true
	default:
		return ErrCodeInternalError, false
	}
}
