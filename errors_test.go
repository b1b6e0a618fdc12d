package iudex

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPipelineErrorWrapping(t *testing.T) {
	// Test basic error creation
	err := NewPipelineError(ErrTypeTimeout, errors.New("operation timed out"))
	require.Equal(t, "timeout: operation timed out", err.Error())

	// Test error wrapping
	originalErr := errors.New("network connection failed")
	wrappedErr := NewPipelineError(ErrTypeProviderTransient, originalErr)

	require.Equal(t, "provider_transient: network connection failed", wrappedErr.Error())
	require.Equal(t, originalErr, wrappedErr.Unwrap())

	// Test errors.Is
	require.True(t, errors.Is(wrappedErr, originalErr))

	// Test errors.As
	var pErr *PipelineError
	require.True(t, errors.As(wrappedErr, &pErr))
	require.Equal(t, ErrTypeProviderTransient, pErr.Type)
}

func TestPipelineErrorDetails(t *testing.T) {
	err := NewPipelineError(ErrTypeFatal, errors.New("invalid stage transition")).
		WithDetails("from", "done").
		WithDetails("to", "drafting")
	require.Equal(t, "done", err.Details["from"])
	require.Equal(t, "drafting", err.Details["to"])
}

func TestErrorClassification(t *testing.T) {
	// Test timeout classification
	classified := ClassifyError(context.DeadlineExceeded)
	require.Equal(t, ErrTypeTimeout, classified.Type)
	require.True(t, errors.Is(classified, context.DeadlineExceeded))

	// Unknown errors default to a transient provider error so retries stay
	// possible
	genericErr := errors.New("something went wrong")
	classified = ClassifyError(genericErr)
	require.Equal(t, ErrTypeProviderTransient, classified.Type)
	require.True(t, errors.Is(classified, genericErr))

	// Test PipelineError passthrough
	original := NewPipelineError(ErrTypeFatal, errors.New("runtime error"))
	require.Equal(t, original, ClassifyError(original))
}

func TestErrorClassificationProviders(t *testing.T) {
	transient := &ProviderError{Provider: "acme", StatusCode: 529, Message: "overloaded", Recoverable: true}
	require.Equal(t, ErrTypeProviderTransient, ClassifyError(transient).Type)

	fatal := &ProviderError{Provider: "acme", StatusCode: 401, Message: "bad key"}
	require.Equal(t, ErrTypeProviderFatal, ClassifyError(fatal).Type)

	policy := &ContentPolicyError{Provider: "acme", Message: "refused"}
	require.Equal(t, ErrTypeContentPolicy, ClassifyError(policy).Type)

	require.Equal(t, ErrTypeCheckpointNotFound, ClassifyError(ErrCheckpointNotFound).Type)
	require.Equal(t, ErrTypeCheckpointNotRestorable, ClassifyError(ErrCheckpointNotRestorable).Type)
}

func TestErrorMatching(t *testing.T) {
	timeoutErr := NewPipelineError(ErrTypeTimeout, errors.New("timeout"))
	transientErr := NewPipelineError(ErrTypeProviderTransient, errors.New("rate limited"))
	fatalErr := NewPipelineError(ErrTypeFatal, errors.New("fatal error"))

	// Test exact matching
	require.True(t, MatchesErrorType(timeoutErr, ErrTypeTimeout))
	require.False(t, MatchesErrorType(timeoutErr, ErrTypeProviderTransient))

	// Test ErrTypeAll matching
	require.True(t, MatchesErrorType(timeoutErr, ErrTypeAll))
	require.True(t, MatchesErrorType(transientErr, ErrTypeAll))
	require.False(t, MatchesErrorType(fatalErr, ErrTypeAll), "fatal errors should not match ErrTypeAll")

	// Fatal errors only match the fatal pattern
	require.True(t, MatchesErrorType(fatalErr, ErrTypeFatal))
}
