package errutil

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStorage       Code = "STORAGE_ERROR"
	CodeUpstream      Code = "UPSTREAM_ERROR"
	CodePoolExhausted Code = "POOL_EXHAUSTED"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeRateLimited   Code = "RATE_LIMITED"
	CodeInternal      Code = "INTERNAL"
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(code Code, message string, err error) error {
	return &Error{Code: code, Message: message, Err: err}
}

func Validation(message string) error {
	return New(CodeValidation, message, nil)
}

func NotFound(message string) error {
	return New(CodeNotFound, message, nil)
}

func Conflict(message string, err error) error {
	return New(CodeConflict, message, err)
}

func Storage(message string, err error) error {
	return New(CodeStorage, message, err)
}

func Upstream(message string, err error) error {
	return New(CodeUpstream, message, err)
}

func PoolExhausted(message string) error {
	return New(CodePoolExhausted, message, nil)
}

// CodeOf returns CodeInternal for errors that were never classified.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// Message returns the client-facing message of a classified error.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal server error"
}

func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUpstream:
		return http.StatusBadGateway
	case CodePoolExhausted:
		return http.StatusServiceUnavailable
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
