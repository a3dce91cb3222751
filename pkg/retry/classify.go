package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Class represents a classification of remote call failures.
type Class string

const (
	// ClassClient represents 4xx client errors. Never retried.
	ClassClient Class = "client"

	// ClassServer represents 5xx server errors.
	ClassServer Class = "server"

	// ClassNetwork represents connection and timeout failures.
	ClassNetwork Class = "network"

	// ClassUnknown represents unclassified failures. Never retried.
	ClassUnknown Class = "unknown"
)

// RemoteError represents a failed remote call with its classification.
type RemoteError struct {
	StatusCode int
	Class      Class
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("remote %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps an HTTP status code to a failure class.
func ClassifyStatus(statusCode int) Class {
	switch {
	case statusCode >= 400 && statusCode < 500:
		return ClassClient
	case statusCode >= 500:
		return ClassServer
	default:
		return ClassUnknown
	}
}

// Classify categorizes an arbitrary error from a remote call.
// RemoteError carries its own class; transport-level errors (connection
// refused, timeouts, cancelled dials) classify as network; everything else
// is unknown and therefore not retryable.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.Class
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassNetwork
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassNetwork
	}

	return ClassUnknown
}
