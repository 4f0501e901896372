package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// FetchError reports a page request that could not be completed: transport
// failures, authentication, rate limiting, unexpected statuses and
// undecodable bodies. It is never retried by the extraction core.
type FetchError struct {
	Endpoint   string
	Query      string
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s", e.Endpoint)
	if e.Query != "" {
		msg += "?" + e.Query
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: %s error (status %d)", msg, e.ErrorClass, e.StatusCode)
	} else {
		msg = fmt.Sprintf("%s: %s error", msg, e.ErrorClass)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// statusError is the per-attempt error for a retriable HTTP status.
type statusError struct {
	StatusCode int
	Status     string
}

func (e *statusError) Error() string {
	return e.Status
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient, ErrorClassDecode:
		// a bad token or a bad query does not fix itself
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
