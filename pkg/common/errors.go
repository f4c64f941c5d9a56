package common

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ConfigurationError marks invalid configuration or request validation
// failures: unknown strategy names, mismatched thresholds, and so on. It is
// fatal for the request, surfaced immediately, and never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// NewConfigurationError builds a ConfigurationError for the given field.
func NewConfigurationError(field, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason}
}

// EmbeddingDimensionError marks an embedding whose dimensionality does not
// match the collection's configured dimensionality. Vectors are never
// silently truncated or padded; a mismatch is fatal.
type EmbeddingDimensionError struct {
	Want int
	Got  int
}

func (e *EmbeddingDimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// TransientError wraps a failure talking to an external store or model
// backend that is worth retrying: connection resets, timeouts, throttling.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError for the given operation. Returns
// nil when err is nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// GenerationUnavailableError signals that the answer-generation model could
// not be reached after retries. The synthesizer treats it as a trigger for
// the snippet-fallback answer path, not as a request failure.
type GenerationUnavailableError struct {
	Err error
}

func (e *GenerationUnavailableError) Error() string {
	return fmt.Sprintf("generation unavailable: %v", e.Err)
}

func (e *GenerationUnavailableError) Unwrap() error {
	return e.Err
}

// IsTransient classifies an error as retryable. Explicit TransientError
// wrappers, network timeouts, and deadline overruns on the remote side
// qualify; configuration, validation, and dimension errors never do.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return false
	}
	var dimErr *EmbeddingDimensionError
	if errors.As(err, &dimErr) {
		return false
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// A deadline hit inside a store call is a branch timeout, retryable
	// when the outer context still has budget.
	return errors.Is(err, context.DeadlineExceeded)
}
