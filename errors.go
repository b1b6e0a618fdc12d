package iudex

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error type constants for classification and matching
const (
	// ErrTypeAll acts as a wildcard that matches any error except fatal errors
	ErrTypeAll = "all"

	// ErrTypeProviderTransient matches provider failures worth retrying:
	// rate limits, overload, connection resets
	ErrTypeProviderTransient = "provider_transient"

	// ErrTypeProviderFatal matches provider failures that will not succeed on
	// retry, such as authentication or invalid-request errors
	ErrTypeProviderFatal = "provider_fatal"

	// ErrTypeContentPolicy indicates a model refused the request on policy
	// grounds. Never retried; the run parks for human review instead.
	ErrTypeContentPolicy = "content_policy"

	// ErrTypeParse indicates structured model output failed strict decoding
	ErrTypeParse = "parse_error"

	// ErrTypeTimeout matches a timeout or context cancellation
	ErrTypeTimeout = "timeout"

	// ErrTypeCheckpointNotFound indicates a rewind target does not exist
	ErrTypeCheckpointNotFound = "checkpoint_not_found"

	// ErrTypeCheckpointNotRestorable indicates a rewind target exists but its
	// file snapshot has been invalidated
	ErrTypeCheckpointNotRestorable = "checkpoint_not_restorable"

	// ErrTypeFatal indicates the run failed for a reason that must not be
	// retried. Unknown errors default to provider_transient so retries stay
	// possible; anything known to be unretryable gets this type explicitly.
	ErrTypeFatal = "fatal_error"
)

// Sentinel errors for checkpoint lookups.
var (
	ErrCheckpointNotFound      = errors.New("checkpoint not found")
	ErrCheckpointNotRestorable = errors.New("checkpoint not restorable")
)

// PipelineError is a structured error with classification. It supports Go's
// error wrapping patterns with Unwrap().
type PipelineError struct {
	Type    string         `json:"type"`
	Cause   string         `json:"cause"`
	Details map[string]any `json:"details,omitempty"`
	Wrapped error          `json:"-"`
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Cause)
}

// Unwrap implements the error unwrapping interface for errors.Is and errors.As
func (e *PipelineError) Unwrap() error {
	return e.Wrapped
}

// WithDetails attaches a key/value pair to the error and returns it.
func (e *PipelineError) WithDetails(key string, value any) *PipelineError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// NewPipelineError creates a PipelineError of the given type wrapping err.
func NewPipelineError(errorType string, err error) *PipelineError {
	return &PipelineError{
		Type:    errorType,
		Cause:   err.Error(),
		Wrapped: err,
	}
}

// ClassifyError attempts to classify a regular error into a PipelineError
func ClassifyError(err error) *PipelineError {
	var pipelineError *PipelineError
	if errors.As(err, &pipelineError) {
		return pipelineError
	}
	var policyErr *ContentPolicyError
	if errors.As(err, &policyErr) {
		return &PipelineError{
			Type:    ErrTypeContentPolicy,
			Cause:   err.Error(),
			Wrapped: err,
		}
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		errType := ErrTypeProviderFatal
		if providerErr.IsRecoverable() {
			errType = ErrTypeProviderTransient
		}
		return &PipelineError{
			Type:    errType,
			Cause:   err.Error(),
			Wrapped: err,
		}
	}
	if errors.Is(err, ErrCheckpointNotFound) {
		return &PipelineError{
			Type:    ErrTypeCheckpointNotFound,
			Cause:   err.Error(),
			Wrapped: err,
		}
	}
	if errors.Is(err, ErrCheckpointNotRestorable) {
		return &PipelineError{
			Type:    ErrTypeCheckpointNotRestorable,
			Cause:   err.Error(),
			Wrapped: err,
		}
	}
	// Check for timeout patterns
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return &PipelineError{
			Type:    ErrTypeTimeout,
			Cause:   err.Error(),
			Wrapped: err,
		}
	}
	// Default to a transient provider error so retries remain possible
	return &PipelineError{
		Type:    ErrTypeProviderTransient,
		Cause:   err.Error(),
		Wrapped: err,
	}
}

// MatchesErrorType checks if an error matches a specified error type pattern
func MatchesErrorType(err error, errorType string) bool {
	pErr := ClassifyError(err)
	// Fatal errors are only matched by the ErrTypeFatal pattern
	if pErr.Type == ErrTypeFatal {
		return errorType == ErrTypeFatal
	}
	switch errorType {
	case ErrTypeAll:
		return true
	default:
		return pErr.Type == errorType
	}
}
