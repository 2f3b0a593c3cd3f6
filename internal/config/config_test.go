package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mrwolf/journeygen/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journey.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	start, end, err := cfg.Period()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, 240, int(end.Sub(start).Hours()/24)+1)
	assert.Len(t, cfg.Roster, 4)
	assert.Equal(t, 0.8, cfg.Dedup.Threshold)
	assert.Equal(t, 50, cfg.Dedup.Window)
	assert.Equal(t, 3, cfg.Generation.MaxRegenRetries)
	assert.Equal(t, 2, cfg.Backend.Attempts)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	path := writeConfig(t, `
start_date: "2025-03-01"
end_date: "2025-03-31"
roster:
  - name: Ruby
    category: concierge
  - name: Dr_Warren
    category: medical
events:
  plan_review:
    role: Dr_Warren
    interval: 10
dedup:
  threshold: 0.7
backend:
  kind: offline
  timeout: 5s
`)
	t.Setenv("JOURNEY_DEDUP_WINDOW", "12")
	t.Setenv("JOURNEY_BACKEND_MODEL_PATH", "/models/mistral.gguf")
	t.Setenv("JOURNEY_MEMBER_NAME", "Asha Rao")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "2025-03-01", cfg.StartDate)
	assert.Equal(t, models.CategoryRelationship, cfg.Roster[0].Category)
	assert.Equal(t, models.CategoryClinical, cfg.Roster[1].Category)
	require.NotNil(t, cfg.Events["plan_review"].Interval)
	assert.Equal(t, 10, *cfg.Events["plan_review"].Interval)
	assert.Equal(t, 0.7, cfg.Dedup.Threshold)
	assert.Equal(t, 12, cfg.Dedup.Window)
	assert.Equal(t, 5*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "/models/mistral.gguf", cfg.Backend.ModelPath)
	assert.Equal(t, "Asha Rao", cfg.Member.Name)
	// untouched defaults survive a partial file
	assert.Equal(t, 3, cfg.Generation.MaxRegenRetries)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "inverted dates",
			body: "start_date: \"2025-02-01\"\nend_date: \"2025-01-01\"\n",
			want: "before start_date",
		},
		{
			name: "bad date",
			body: "start_date: \"01/01/2025\"\n",
			want: "start_date",
		},
		{
			name: "unknown role in event mapping",
			body: "events:\n  plan_review:\n    role: Dr_Who\n",
			want: "unknown role",
		},
		{
			name: "unknown event type",
			body: "events:\n  yoga_class:\n    interval: 3\n",
			want: "unknown event type",
		},
		{
			name: "unknown category",
			body: "roster:\n  - name: Ruby\n    category: butler\n",
			want: "unknown category",
		},
		{
			name: "duplicate role",
			body: "roster:\n  - name: Ruby\n    category: relationship\n  - name: Ruby\n    category: coach\n",
			want: "duplicate role",
		},
		{
			name: "empty roster",
			body: "roster: []\n",
			want: "roster is empty",
		},
		{
			name: "bad threshold",
			body: "dedup:\n  threshold: 1.5\n",
			want: "dedup.threshold",
		},
		{
			name: "bad cron",
			body: "serve:\n  regenerate_cron: \"every day\"\n",
			want: "regenerate_cron",
		},
		{
			name: "unknown backend",
			body: "backend:\n  kind: llama_cpp\n",
			want: "unknown backend kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfigInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConfigInvalid)
}

func TestModelName(t *testing.T) {
	b := BackendConfig{ModelPath: "/models/m.gguf"}
	assert.Equal(t, "/models/m.gguf", b.ModelName())
	b.Model = "mistral"
	assert.Equal(t, "mistral", b.ModelName())
}

func TestRoleByName(t *testing.T) {
	cfg := Default()
	r, ok := cfg.RoleByName("Advik")
	assert.True(t, ok)
	assert.Equal(t, models.CategoryCoaching, r.Category)

	_, ok = cfg.RoleByName("Nobody")
	assert.False(t, ok)
}
