package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds returned by the gate and by domain clients built on it.
// Match them with errors.Is.
var (
	// ErrInvalidInput indicates a bad URL, identifier or missing credential.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUpstreamUnavailable indicates a transport failure, timeout, non-200
	// status or an active throttling cooldown.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrMalformedResponse indicates an empty or non-JSON body, or a body
	// missing the expected structure.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrNotFound indicates the upstream answered but the requested entity
	// does not exist.
	ErrNotFound = errors.New("not found")
)

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses and requests blocked by a cooldown.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport failures and timeouts.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassMalformed represents unusable response bodies.
	ErrorClassMalformed ErrorClass = "malformed"
)

// Error is a fetch failure with upstream context.
// It unwraps to both its kind sentinel and the underlying cause.
type Error struct {
	Kind       error
	Class      ErrorClass
	StatusCode int
	Endpoint   string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := "fetch error"
	if e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.Class != "" {
		msg = fmt.Sprintf("%s (%s", msg, e.Class)
		if e.StatusCode != 0 {
			msg += fmt.Sprintf(", status %d", e.StatusCode)
		}
		msg += ")"
	}
	if e.Endpoint != "" {
		msg += " " + e.Endpoint
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements multi-error unwrapping for errors.Is/As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ClassOf returns the class of err when it is or wraps an *Error.
func ClassOf(err error) ErrorClass {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class
	}
	return ""
}

// classifyStatus maps a non-200 HTTP status to an error class.
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}
