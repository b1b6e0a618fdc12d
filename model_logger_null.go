package iudex

import "context"

// NullModelCallLogger is a no-op implementation of ModelCallLogger.
type NullModelCallLogger struct{}

func NewNullModelCallLogger() *NullModelCallLogger {
	return &NullModelCallLogger{}
}

func (l *NullModelCallLogger) LogCall(ctx context.Context, entry *ModelCallEntry) error {
	return nil
}

func (l *NullModelCallLogger) GetCallHistory(ctx context.Context, runID string) ([]*ModelCallEntry, error) {
	return nil, nil
}
