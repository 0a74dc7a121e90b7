package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// NetworkError means no response was received.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: network error: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// ServiceError means the backend answered with a non-success status or a
// body that could not be used.
type ServiceError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: service error %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: service error %d: %s", e.Op, e.StatusCode, truncate(e.Body, 200))
}

func (e *ServiceError) Unwrap() error { return e.Err }

// TimeoutError means the call exceeded its deadline.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("%s: timed out: %v", e.Op, e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsGatewayError reports whether err is one of the three gateway error kinds.
func IsGatewayError(err error) bool {
	var ne *NetworkError
	var se *ServiceError
	var te *TimeoutError
	return errors.As(err, &ne) || errors.As(err, &se) || errors.As(err, &te)
}

// classify turns a transport failure into a NetworkError or TimeoutError.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &TimeoutError{Op: op, Err: err}
	}
	return &NetworkError{Op: op, Err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
