package iudex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileModelCallLogger is an implementation of ModelCallLogger that logs to a
// file. A file is created per run, formatted as newline-delimited JSON.
type FileModelCallLogger struct {
	directory string
}

func NewFileModelCallLogger(directory string) *FileModelCallLogger {
	return &FileModelCallLogger{directory: directory}
}

func (l *FileModelCallLogger) runCallLogPath(runID string) string {
	return filepath.Join(l.directory, fmt.Sprintf("%s.jsonl", runID))
}

func (l *FileModelCallLogger) GetCallHistory(ctx context.Context, runID string) ([]*ModelCallEntry, error) {
	filePath := l.runCallLogPath(runID)
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var entries []*ModelCallEntry
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var entry ModelCallEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

func (l *FileModelCallLogger) LogCall(ctx context.Context, entry *ModelCallEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	filePath := l.runCallLogPath(entry.RunID)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write([]byte(string(data) + "\n")); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return nil
}
