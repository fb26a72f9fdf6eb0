// Package exception provides the error types used across the regsync
// pipeline. Run-level failures are wrapped in PipelineError; item-level
// failures are carried as Classified values so that one bad record can be
// recorded and excluded without aborting the batch.
package exception

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strings"
)

// Kind identifies a classified item-level failure.
type Kind string

const (
	// KindEmptyResponse marks a lookup for which the vendor returned nothing.
	KindEmptyResponse Kind = "empty.response"
	// KindNoMatch marks a non-empty lookup response with no exact match.
	KindNoMatch Kind = "no.match"
	// KindHTTPError marks a transport or status failure, sub-classified by
	// status code in the message.
	KindHTTPError Kind = "http.error"
	// KindVendorError marks a payload-level error surfaced by the vendor.
	KindVendorError Kind = "vendor.error.code"
	// KindTimeout marks a call that exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindColumnCollision marks a record whose flattening produced two
	// identical destination columns. Fatal for that record only.
	KindColumnCollision Kind = "column.collision"
	// KindSourceDataNotAvailable marks a run whose required upstream dataset
	// is empty. Fatal for the run.
	KindSourceDataNotAvailable Kind = "Source Data Not Available"
)

// Classified is an item-level failure with its taxonomy kind. It satisfies
// the error interface so it can travel through ordinary error returns, but
// callers are expected to record it and continue rather than propagate it.
type Classified struct {
	Kind       Kind
	Message    string
	StatusCode int
}

// Error implements the error interface.
func (c *Classified) Error() string {
	if c.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", c.Kind, c.StatusCode, c.Message)
	}
	return fmt.Sprintf("%s: %s", c.Kind, c.Message)
}

// NewClassified creates a Classified failure of the given kind.
func NewClassified(kind Kind, format string, a ...interface{}) *Classified {
	return &Classified{Kind: kind, Message: fmt.Sprintf(format, a...)}
}

// ClassifyHTTPStatus converts a non-2xx response into a Classified failure
// with a human-readable reason derived from the status code.
func ClassifyHTTPStatus(status int, body string) *Classified {
	var reason string
	switch {
	case status == 401 || status == 403:
		reason = "not authorized"
	case status == 404:
		reason = "resource not found"
	case status == 429:
		reason = "rate limit exceeded"
	case status >= 500:
		reason = "server error"
	default:
		reason = "request rejected"
	}
	msg := reason
	if body != "" {
		msg = fmt.Sprintf("%s: %s", reason, strings.TrimSpace(body))
	}
	return &Classified{Kind: KindHTTPError, Message: msg, StatusCode: status}
}

// ClassifyTransport converts a transport error into a Classified failure,
// distinguishing deadline expiry from other network faults.
func ClassifyTransport(err error) *Classified {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Classified{Kind: KindTimeout, Message: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Classified{Kind: KindTimeout, Message: err.Error()}
	}
	return &Classified{Kind: KindHTTPError, Message: err.Error()}
}

// AsClassified extracts a Classified failure from an error chain.
func AsClassified(err error) (*Classified, bool) {
	var c *Classified
	if errors.As(err, &c) {
		return c, true
	}
	return nil, false
}

// PipelineError is the error type for run-level failures. It holds the
// module where the error occurred, a message, the wrapped original error,
// and flags indicating whether it is retryable or skippable.
type PipelineError struct {
	// Module indicates the module where the error occurred
	// (e.g., "resolver", "traverse", "registry", "config").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// isRetryable indicates whether this error is retryable.
	isRetryable bool
	// isSkippable indicates whether this error is skippable.
	isSkippable bool
	// StackTrace is the stack trace at the time of the error.
	StackTrace string
}

// NewPipelineError creates a new PipelineError instance.
//
// module: The module where the error occurred.
// message: The error message.
// originalErr: The original error to wrap.
// isSkippable: Whether this error is skippable.
// isRetryable: Whether this error is retryable.
func NewPipelineError(module, message string, originalErr error, isSkippable, isRetryable bool) *PipelineError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &PipelineError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  string(buf[:n]),
	}
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *PipelineError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is retryable.
func (e *PipelineError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable returns whether this error is skippable.
func (e *PipelineError) IsSkippable() bool {
	return e.isSkippable
}

// IsTemporary determines if an error is temporary (network fault, expired
// deadline). The IsRetryable flag of PipelineError takes precedence.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.IsRetryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset")
}

// ExtractErrorMessage extracts the message string from an error.
// For PipelineError, it returns the cleaner Message field.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Message
	}
	return err.Error()
}

// ErrSourceDataNotAvailable is the sentinel for an empty required upstream
// dataset. A run that hits it stops after flushing telemetry.
var ErrSourceDataNotAvailable = errors.New("required source dataset is empty")

// IsSourceDataNotAvailable determines if an error indicates a missing
// required upstream dataset.
func IsSourceDataNotAvailable(err error) bool {
	return errors.Is(err, ErrSourceDataNotAvailable)
}
