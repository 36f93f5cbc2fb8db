package simulation

import (
	"errors"
	"net/http"
)

var (
	ErrNoURLForChainID     = newAPIError(http.StatusBadRequest, "no fork url for chain id")
	ErrIncorrectChainID    = newAPIError(http.StatusBadRequest, "chain id does not match the fork")
	ErrMultipleChainIDs    = newAPIError(http.StatusBadRequest, "transactions have different chain ids")
	ErrInvalidBlockNumbers = newAPIError(http.StatusBadRequest, "block numbers must not decrease")
	ErrSessionNotFound     = newAPIError(http.StatusNotFound, "stateful simulation not found")
	ErrOverrideFailed      = newAPIError(http.StatusInternalServerError, "failed to override account")
	ErrEmptyBatch          = newAPIError(http.StatusBadRequest, "no transactions")
	ErrInvalidRequest      = newAPIError(http.StatusBadRequest, "invalid request")
)

// apiError is a request-scoped failure carrying the HTTP status it maps to.
type apiError struct {
	error
	code int
}

func newAPIError(code int, msg string) *apiError {
	return &apiError{error: errors.New(msg), code: code}
}

// ErrorCode returns the HTTP status for the error.
func (e *apiError) ErrorCode() int {
	return e.code
}

// ExecutionError wraps a failure of the execution engine.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return "execution failed: " + e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the HTTP status for the error.
func (e *ExecutionError) ErrorCode() int {
	return http.StatusInternalServerError
}

// ErrorCode returns the HTTP status an error maps to, 500 when the error
// does not carry one.
func ErrorCode(err error) int {
	var coded interface{ ErrorCode() int }
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return http.StatusInternalServerError
}
