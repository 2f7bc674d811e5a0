// Package apperr defines the error taxonomy shared by the collector, the store
// and the HTTP layer.
//
// Errors are plain sentinels wrapped with fmt.Errorf("...: %w", ...), so callers
// test them with errors.Is and the HTTP layer maps them with HTTPStatus.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrUnauthorized: bad or missing API key.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation: query parameter out of declared bounds.
	ErrValidation = errors.New("validation error")
	// ErrNotFound: no matching sample(s).
	ErrNotFound = errors.New("not found")
	// ErrUnavailable: sampler or store cannot complete the operation.
	ErrUnavailable = errors.New("unavailable")
	// ErrCollectionFailed wraps any failure of collect-and-persist.
	ErrCollectionFailed = errors.New("collection failed")
)

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports whether err is (or wraps) ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsUnavailable reports whether err is (or wraps) ErrUnavailable or ErrCollectionFailed.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrCollectionFailed)
}

// HTTPStatus maps an error to the response status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
