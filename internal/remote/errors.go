package remote

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnreachable wraps transport failures: DNS, refused connections, timeouts.
	ErrUnreachable = errors.New("remote unreachable")
	ErrNoAccount   = errors.New("no bank account on remote")
)

// RejectedError is returned when the backend answered with a non-2xx status.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote rejected request: status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote rejected request: status %d: %s", e.StatusCode, e.Message)
}

// Unreachable wraps err so errors.Is(err, ErrUnreachable) holds.
func Unreachable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnreachable, err)
}

// IsPermanent reports whether retrying err can never succeed: a 4xx
// rejection other than request timeout and rate limiting.
func IsPermanent(err error) bool {
	var rej *RejectedError
	if !errors.As(err, &rej) {
		return false
	}
	switch rej.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return rej.StatusCode >= 400 && rej.StatusCode < 500
}

// Reason classifies err coarsely for callers and logs.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var rej *RejectedError
	if errors.As(err, &rej) {
		return "rejected"
	}
	return "unreachable"
}

// IsNotFound reports whether the remote answered 404.
func IsNotFound(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej) && rej.StatusCode == http.StatusNotFound
}
