package apic

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when a call needs a session and none exists
var ErrNotConnected = errors.New("controller session not established")

// AuthenticationError means the controller rejected the credentials or no
// endpoint of the cluster could be logged into. It is not retried here.
type AuthenticationError struct {
	Cluster string
	Err     error
}

func (e *AuthenticationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("authentication failed for cluster %s", e.Cluster)
	}
	return fmt.Sprintf("authentication failed for cluster %s: %v", e.Cluster, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// NetworkError is a transient transport failure
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// MalformedResponseError is a response that could not be used: unparsable
// body, an error object from the controller, or an unexpected status.
type MalformedResponseError struct {
	Path   string
	Status int
	Code   string
	Reason string
}

func (e *MalformedResponseError) Error() string {
	msg := fmt.Sprintf("malformed response from %s", e.Path)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Code != "" {
		msg += " code " + e.Code
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// IsRetryable reports whether err is a transient transport failure
func IsRetryable(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsAuthentication reports whether err is an authentication failure
func IsAuthentication(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}
