package iudex

import (
	"context"
	"time"
)

// ModelCallEntry records a single model invocation.
type ModelCallEntry struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	Stage        string    `json:"stage"`
	Section      string    `json:"section,omitempty"`
	Model        string    `json:"model"`
	Role         string    `json:"role"`
	PromptChars  int       `json:"prompt_chars"`
	OutputChars  int       `json:"output_chars"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
	Error        string    `json:"error,omitempty"`
	StartTime    time.Time `json:"start_time"`
	Duration     float64   `json:"duration"`
}

// ModelCallLogger defines a simple model invocation logging interface
type ModelCallLogger interface {
	// LogCall logs a completed model call
	LogCall(ctx context.Context, entry *ModelCallEntry) error

	// GetCallHistory retrieves the model call log for a run
	GetCallHistory(ctx context.Context, runID string) ([]*ModelCallEntry, error)
}
