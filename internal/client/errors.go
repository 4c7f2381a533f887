package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthentication is returned when the credential is missing or the
	// remote service rejects it.
	ErrAuthentication = errors.New("authentication failed")
	// ErrNotFound is returned when the remote service no longer knows the job.
	ErrNotFound = errors.New("job not found")
	// ErrTimeout is returned when a poll loop exceeds its deadline. The remote
	// job may still be running.
	ErrTimeout = errors.New("job polling timed out")
	// ErrCanceled is returned when the caller stops a poll loop early.
	ErrCanceled = errors.New("job polling canceled")
	// ErrInvalidJobID is returned for an empty job id, before any request.
	ErrInvalidJobID = errors.New("job id is required")
	// ErrMalformedResponse is returned when a 2xx body does not map onto a Job.
	ErrMalformedResponse = errors.New("malformed response")
)

// RemoteRequestError carries the error detail reported by the remote service.
type RemoteRequestError struct {
	StatusCode int
	Detail     string
}

func (e *RemoteRequestError) Error() string {
	return fmt.Sprintf("remote request failed (status %d): %s", e.StatusCode, e.Detail)
}

// NetworkError is returned when the transport fails and no response arrives.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx response onto the error taxonomy.
func classifyStatus(statusCode int, detail string) error {
	if detail == "" {
		detail = http.StatusText(statusCode)
	}
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuthentication, detail)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, detail)
	}
	return &RemoteRequestError{StatusCode: statusCode, Detail: detail}
}
