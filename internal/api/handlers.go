package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/mrwolf/journeygen/internal/app"
	"github.com/mrwolf/journeygen/internal/config"
	"github.com/mrwolf/journeygen/internal/db"
	"github.com/mrwolf/journeygen/internal/models"
	"github.com/mrwolf/journeygen/internal/observability"
	"github.com/mrwolf/journeygen/internal/scheduler"
	"github.com/mrwolf/journeygen/internal/vault"
	"github.com/rs/zerolog"
)

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// BackendStatus reports the last backend health check
type BackendStatus interface {
	Status() scheduler.Status
}

// Runner starts a generation run
type Runner interface {
	Generate(ctx context.Context) (*app.Report, error)
}

// Deps are the components the HTTP surface reads from. Ledger, Metrics,
// Backend and Runner are optional.
type Deps struct {
	Vault       *vault.Vault
	Ledger      db.Ledger
	Metrics     *observability.Metrics
	Backend     BackendStatus
	BackendName string
	Runner      Runner
	Clock       clockwork.Clock
	Logger      zerolog.Logger
	Version     string
}

type Handlers struct {
	deps Deps
}

func NewHandlers(deps Deps) *Handlers {
	if deps.Version == "" {
		deps.Version = "dev"
	}
	return &Handlers{deps: deps}
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status:   "ok",
		Backend:  h.backendState(),
		Timeline: h.timelineState(),
		Version:  h.deps.Version,
	}
	if strings.HasPrefix(resp.Backend, "unreachable") {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) backendState() string {
	name := h.deps.BackendName
	if name == "" {
		name = "backend"
	}
	if h.deps.Backend == nil {
		return name + ": unchecked"
	}
	st := h.deps.Backend.Status()
	switch {
	case st.CheckedAt.IsZero():
		return name + ": unchecked"
	case st.Healthy:
		return name + ": connected"
	default:
		return "unreachable: " + st.Err
	}
}

func (h *Handlers) timelineState() string {
	if vault.FileExists(filepath.Join(h.deps.Vault.BasePath(), vault.MessagesFile)) {
		return "present"
	}
	return "missing"
}

// timelineResponse is the filtered view of the persisted timeline
type timelineResponse struct {
	Member   models.Member       `json:"member"`
	Period   models.Period       `json:"period"`
	Meta     models.TimelineMeta `json:"meta"`
	Count    int                 `json:"count"`
	Messages []models.Turn       `json:"messages"`
}

// Timeline handles GET /api/v1/timeline?speaker=&tag=&from=&to=
func (h *Handlers) Timeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(config.DateLayout, d); err != nil {
			writeError(w, http.StatusBadRequest, "dates must be YYYY-MM-DD", "INVALID_DATE")
			return
		}
	}

	tl, err := h.deps.Vault.LoadTimeline()
	if errors.Is(err, vault.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no timeline generated yet", "NOT_FOUND")
		return
	}
	if err != nil {
		h.deps.Logger.Error().Err(err).Msg("loading timeline")
		writeError(w, http.StatusInternalServerError, "failed to load timeline", "LOAD_ERROR")
		return
	}

	speaker := q.Get("speaker")
	tag := strings.ToUpper(q.Get("tag"))
	messages := make([]models.Turn, 0, len(tl.Messages))
	for _, t := range tl.Messages {
		if speaker != "" && !strings.EqualFold(t.Speaker, speaker) {
			continue
		}
		if tag != "" && !t.HasTag(tag) {
			continue
		}
		day := t.Timestamp.Format(config.DateLayout)
		if from != "" && day < from {
			continue
		}
		if to != "" && day > to {
			continue
		}
		messages = append(messages, t)
	}

	writeJSON(w, http.StatusOK, timelineResponse{
		Member:   tl.Member,
		Period:   tl.Period,
		Meta:     tl.Meta,
		Count:    len(messages),
		Messages: messages,
	})
}

// Decisions handles GET /api/v1/decisions?category=
func (h *Handlers) Decisions(w http.ResponseWriter, r *http.Request) {
	records, err := h.deps.Vault.ListDecisions()
	if err != nil {
		h.deps.Logger.Error().Err(err).Msg("listing decisions")
		writeError(w, http.StatusInternalServerError, "failed to list decisions", "LOAD_ERROR")
		return
	}

	if category := r.URL.Query().Get("category"); category != "" {
		filtered := records[:0]
		for _, d := range records {
			if strings.EqualFold(string(d.Category), category) {
				filtered = append(filtered, d)
			}
		}
		records = filtered
	}
	if records == nil {
		records = []models.DecisionRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": records,
		"count":     len(records),
	})
}

// Decision handles GET /api/v1/decisions/{id}
func (h *Handlers) Decision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.deps.Vault.LoadDecision(id)
	if errors.Is(err, vault.ErrNotFound) {
		writeError(w, http.StatusNotFound, "decision not found", "NOT_FOUND")
		return
	}
	if err != nil {
		h.deps.Logger.Error().Err(err).Str("decision_id", id).Msg("loading decision")
		writeError(w, http.StatusInternalServerError, "failed to load decision", "LOAD_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Runs handles GET /api/v1/runs?limit=
func (h *Handlers) Runs(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ledger == nil {
		writeJSON(w, http.StatusOK, map[string]any{"runs": []models.RunSummary{}})
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "INVALID_LIMIT")
			return
		}
		limit = n
	}

	runs, err := h.deps.Ledger.RecentRuns(r.Context(), limit)
	if err != nil {
		h.deps.Logger.Error().Err(err).Msg("listing runs")
		writeError(w, http.StatusInternalServerError, "failed to list runs", "DB_ERROR")
		return
	}
	if runs == nil {
		runs = []models.RunSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// RunEvents handles GET /api/v1/runs/{id}/events
func (h *Handlers) RunEvents(w http.ResponseWriter, r *http.Request) {
	events := []models.Degradation{}
	if h.deps.Ledger != nil {
		got, err := h.deps.Ledger.RunEvents(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			h.deps.Logger.Error().Err(err).Msg("listing run events")
			writeError(w, http.StatusInternalServerError, "failed to list events", "DB_ERROR")
			return
		}
		if got != nil {
			events = got
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// runResponse summarizes a finished manual run
type runResponse struct {
	RunID     string `json:"run_id"`
	Seed      int64  `json:"seed"`
	Turns     int    `json:"turns"`
	Decisions int    `json:"decisions"`
	Degraded  int    `json:"degraded"`
	Duration  string `json:"duration"`
}

// StartRun handles POST /api/v1/runs. The run completes before the response.
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Runner.Generate(r.Context())
	if errors.Is(err, app.ErrRunInProgress) {
		writeError(w, http.StatusConflict, "a generation run is already in progress", "RUN_IN_PROGRESS")
		return
	}
	if err != nil {
		h.deps.Logger.Error().Err(err).Msg("manual run failed")
		writeError(w, http.StatusInternalServerError, "generation run failed", "RUN_FAILED")
		return
	}

	writeJSON(w, http.StatusCreated, runResponse{
		RunID:     report.RunID,
		Seed:      report.Seed,
		Turns:     len(report.Timeline.Messages),
		Decisions: len(report.Decisions),
		Degraded:  len(report.Degraded),
		Duration:  report.Duration.String(),
	})
}
