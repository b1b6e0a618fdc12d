package iudex

import (
	"context"
	"fmt"
)

// GenerateRequest is one call to a language model.
type GenerateRequest struct {
	Prompt       string
	SystemPrompt string
	Context      map[string]any
}

// GenerateResponse is the model's reply.
type GenerateResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// ModelClient abstracts one language model. Implementations wrap a provider
// SDK or, in tests and dry runs, return deterministic output.
type ModelClient interface {

	// Name identifies the model for routing decisions and call logs
	Name() string

	// Generate runs one completion. Blocking; honors ctx cancellation.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// ProviderError is a failure returned by a model provider. Recoverable
// provider errors are retried with backoff; others fail the stage.
type ProviderError struct {
	Provider    string
	StatusCode  int
	Message     string
	Recoverable bool
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

// IsRecoverable reports whether the call may succeed on retry. This satisfies
// the retry package's RecoverableError interface.
func (e *ProviderError) IsRecoverable() bool {
	return e.Recoverable
}

// ContentPolicyError indicates the model refused the request on policy
// grounds. It is never retried; the run parks for human review instead.
type ContentPolicyError struct {
	Provider string
	Message  string
}

func (e *ContentPolicyError) Error() string {
	return fmt.Sprintf("provider %s refused request: %s", e.Provider, e.Message)
}

// IsRecoverable always returns false. Policy refusals do not resolve on retry.
func (e *ContentPolicyError) IsRecoverable() bool {
	return false
}
