package agent

import (
	"errors"
	"fmt"
)

// NetworkError reports a request that never produced an HTTP response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network failure: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StatusError reports a non-2xx response.
type StatusError struct {
	Op         string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: bad status %s", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: bad status %s: %s", e.Op, e.Status, e.Body)
}

// PayloadError reports a response body that failed decoding or validation.
type PayloadError struct {
	Op  string
	Err error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s: malformed payload: %v", e.Op, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

// Classify names the failure category of err for logs and metrics.
func Classify(err error) string {
	var (
		netErr     *NetworkError
		statusErr  *StatusError
		payloadErr *PayloadError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &statusErr):
		return "status"
	case errors.As(err, &payloadErr):
		return "payload"
	default:
		return "error"
	}
}
