package vault

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mrwolf/journeygen/internal/models"
)

// PromptLog appends every rendered prompt to a JSONL file.
// Uses a mutex so concurrent runs never interleave lines.
type PromptLog struct {
	path string
	mu   sync.Mutex
}

func NewPromptLog(path string) *PromptLog {
	return &PromptLog{path: path}
}

// Path returns the log file location
func (l *PromptLog) Path() string {
	return l.path
}

// RecordPromptUsage appends one usage entry
func (l *PromptLog) RecordPromptUsage(entry models.PromptUsage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling prompt usage: %w", err)
	}
	if err := AppendLine(l.path, line); err != nil {
		return fmt.Errorf("appending prompt usage: %w", err)
	}
	return nil
}
