package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mrwolf/journeygen/internal/config"
)

func TestExitCode(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(broken, []byte("start_date: [unclosed"), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	_, missingErr := config.Load(filepath.Join(dir, "missing.yaml"))
	_, brokenErr := config.Load(broken)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"unreadable config file", missingErr, 1},
		{"malformed config file", brokenErr, 2},
		{"wrapped invalid config", errors.Join(errors.New("loading"), config.ErrConfigInvalid), 2},
		{"other failure", errors.New("backend down"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestKnownCommand(t *testing.T) {
	for _, cmd := range []string{"generate", "serve", "validate"} {
		if !knownCommand(cmd) {
			t.Errorf("%s should be known", cmd)
		}
	}
	if knownCommand("deploy") {
		t.Error("deploy should not be known")
	}
}
