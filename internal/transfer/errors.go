package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrLengthOverrun is wrapped by NetworkError when the server sends more
	// bytes than the total it announced.
	ErrLengthOverrun = errors.New("body longer than announced length")
	// ErrShortBody is wrapped by NetworkError when the body ends before the
	// announced total.
	ErrShortBody = errors.New("body shorter than announced length")
	// ErrReadTimeout is the cancel cause used by the read watchdog.
	ErrReadTimeout = errors.New("read timeout")
)

// Kind classifies a transfer failure.
type Kind string

const (
	KindNone            Kind = ""
	KindNetwork         Kind = "network"
	KindStatus          Kind = "status"
	KindConflict        Kind = "conflict"
	KindIntegrity       Kind = "integrity"
	KindInvalidManifest Kind = "invalid_manifest"
	KindInvalidRequest  Kind = "invalid_request"
	KindCanceled        Kind = "canceled"
	KindUnknown         Kind = "unknown"
)

// NetworkError represents connection resets, timeouts, DNS failures and
// truncated bodies.
type NetworkError struct {
	Operation string // The operation that failed (e.g., "probe", "get", "read_body")
	URL       string
	Err       error // Underlying error, if any
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s of %s: %v", e.Operation, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StatusError represents an HTTP error status returned by the server.
type StatusError struct {
	URL    string
	Code   int
	Status string // Status line as reported by net/http
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("unexpected status for %s: HTTP %s", e.URL, e.Status)
	}

	return fmt.Sprintf("unexpected status for %s: HTTP %d", e.URL, e.Code)
}

// ConflictError is returned when the destination already exists, overwrite is
// disabled and the transfer cannot be resumed. It is never retried.
type ConflictError struct {
	Path   string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("destination conflict for %s: %s", e.Path, e.Reason)
}

// Unwrap lets callers match ConflictError with os.ErrExist.
func (e *ConflictError) Unwrap() error {
	return os.ErrExist
}

// IntegrityError is returned when the digest of a staged file does not match
// the expected one. The staging file is removed before it is returned.
type IntegrityError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("sha256 mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// InvalidManifestError represents a checksum manifest without a single usable
// entry. Callers degrade it to "no digest available".
type InvalidManifestError struct {
	Name   string
	Reason string
	Err    error
}

func (e *InvalidManifestError) Error() string {
	return fmt.Sprintf("invalid checksum manifest %s: %s", e.Name, e.Reason)
}

func (e *InvalidManifestError) Unwrap() error {
	return e.Err
}

// RequestError is returned when a request fails validation before any I/O.
type RequestError struct {
	URL string
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("invalid transfer request for %q: %v", e.URL, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Classify maps an error returned by any transfer component to its Kind.
func Classify(err error) Kind {
	var (
		netErr       *NetworkError
		statusErr    *StatusError
		conflictErr  *ConflictError
		integrityErr *IntegrityError
		manifestErr  *InvalidManifestError
		requestErr   *RequestError
	)

	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &conflictErr):
		return KindConflict
	case errors.As(err, &integrityErr):
		return KindIntegrity
	case errors.As(err, &statusErr):
		return KindStatus
	case errors.As(err, &manifestErr):
		return KindInvalidManifest
	case errors.As(err, &requestErr):
		return KindInvalidRequest
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.As(err, &netErr):
		return KindNetwork
	default:
		return KindUnknown
	}
}

// Retryable reports whether a fresh attempt may succeed after err. Status
// codes listed in terminal are never retried.
func Retryable(err error, terminal map[int]bool) bool {
	switch Classify(err) {
	case KindNetwork, KindIntegrity:
		return true
	case KindStatus:
		var statusErr *StatusError
		errors.As(err, &statusErr)

		return !terminal[statusErr.Code]
	default:
		return false
	}
}
