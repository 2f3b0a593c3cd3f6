package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mrwolf/journeygen/internal/app"
	"github.com/mrwolf/journeygen/internal/db"
	"github.com/mrwolf/journeygen/internal/models"
	"github.com/mrwolf/journeygen/internal/observability"
	"github.com/mrwolf/journeygen/internal/scheduler"
	"github.com/mrwolf/journeygen/internal/vault"
	"github.com/rs/zerolog"
)

type stubRunner struct {
	err   error
	calls int
}

func (s *stubRunner) Generate(context.Context) (*app.Report, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &app.Report{
		RunID:    "run-1",
		Seed:     42,
		Timeline: models.Timeline{Messages: make([]models.Turn, 3)},
		Duration: 2 * time.Second,
	}, nil
}

type stubStatus struct{ st scheduler.Status }

func (s stubStatus) Status() scheduler.Status { return s.st }

func seedVault(t *testing.T, v *vault.Vault) {
	t.Helper()
	at := time.Date(2025, 1, 15, 11, 5, 0, 0, time.UTC)
	turns := []models.Turn{
		{ID: 1, Timestamp: at.Add(-24 * time.Hour), Speaker: "Ruby", Role: models.CategoryRelationship,
			Text: "Good morning Rohan.", Tags: []string{models.TagCheckin}, MessageType: models.MessageChat, Event: models.EventCheckIn},
		{ID: 2, Timestamp: at, Speaker: "Dr_Warren", Role: models.CategoryClinical,
			Text: "We'll tighten the evening routine.", Tags: []string{models.TagPlan}, DecisionRef: "decision_plan_0a1b2c3d",
			MessageType: models.MessagePlan, Event: models.EventPlanReview},
		{ID: 3, Timestamp: at.Add(2 * time.Hour), Speaker: "Rohan", Role: models.CategoryMember,
			Text: "Sounds good.", Tags: []string{models.TagReply}, MessageType: models.MessageChat, Event: models.EventQuestion},
	}
	decisions := []models.DecisionRecord{
		{ID: "decision_plan_0a1b2c3d", Category: models.DecisionPlan, Rationale: "LDL trend.", Confidence: "medium",
			NextSteps: []string{"Monitor labs"}, Turn: models.TurnRef{ID: 2, Timestamp: at, Speaker: "Dr_Warren", Tags: []string{models.TagPlan}},
			Source: models.SourceBackend},
	}
	tl := models.Timeline{
		Member:   models.Member{ID: "rohan_patel_001", Name: "Rohan Patel"},
		Period:   models.Period{StartDate: "2025-01-01", EndDate: "2025-01-31", Days: 31},
		Meta:     models.TimelineMeta{TotalMessages: 3, Decisions: 1, Seed: 42, Backend: "offline"},
		Messages: turns,
	}
	if err := v.Persist(tl, decisions); err != nil {
		t.Fatalf("seeding vault: %v", err)
	}
}

func setupTestServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	if deps.Vault == nil {
		deps.Vault = vault.NewVault(t.TempDir())
	}
	deps.Logger = zerolog.Nop()
	if deps.Clock == nil {
		deps.Clock = clockwork.NewFakeClock()
	}
	server := httptest.NewServer(NewRouter(deps))
	t.Cleanup(server.Close)
	return server
}

func getJSON(t *testing.T, url string, wantStatus int, dst any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: expected status %d, got %d", url, wantStatus, resp.StatusCode)
	}
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name         string
		status       BackendStatus
		seed         bool
		wantStatus   string
		wantBackend  string
		wantTimeline string
	}{
		{"unchecked and empty", nil, false, "ok", "ollama: unchecked", "missing"},
		{"connected", stubStatus{scheduler.Status{Healthy: true, CheckedAt: time.Now()}}, true, "ok", "ollama: connected", "present"},
		{"unreachable", stubStatus{scheduler.Status{Err: "refused", CheckedAt: time.Now()}}, false, "degraded", "unreachable: refused", "missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := vault.NewVault(t.TempDir())
			if tt.seed {
				seedVault(t, v)
			}
			server := setupTestServer(t, Deps{Vault: v, Backend: tt.status, BackendName: "ollama", Version: "1.0.0"})

			var body models.HealthResponse
			getJSON(t, server.URL+"/health", http.StatusOK, &body)

			if body.Status != tt.wantStatus {
				t.Errorf("expected status %s, got %s", tt.wantStatus, body.Status)
			}
			if body.Backend != tt.wantBackend {
				t.Errorf("expected backend %q, got %q", tt.wantBackend, body.Backend)
			}
			if body.Timeline != tt.wantTimeline {
				t.Errorf("expected timeline %q, got %q", tt.wantTimeline, body.Timeline)
			}
			if body.Version != "1.0.0" {
				t.Errorf("expected version 1.0.0, got %s", body.Version)
			}
		})
	}
}

func TestTimelineFilters(t *testing.T) {
	v := vault.NewVault(t.TempDir())
	seedVault(t, v)
	server := setupTestServer(t, Deps{Vault: v})

	tests := []struct {
		name    string
		query   string
		wantIDs []int
	}{
		{"all", "", []int{1, 2, 3}},
		{"speaker", "?speaker=dr_warren", []int{2}},
		{"tag lowercase", "?tag=plan", []int{2}},
		{"from", "?from=2025-01-15", []int{2, 3}},
		{"to", "?to=2025-01-14", []int{1}},
		{"range and speaker", "?from=2025-01-14&to=2025-01-15&speaker=Rohan", []int{3}},
		{"no match", "?tag=TRAVEL", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body timelineResponse
			getJSON(t, server.URL+"/api/v1/timeline"+tt.query, http.StatusOK, &body)

			if body.Count != len(tt.wantIDs) || len(body.Messages) != len(tt.wantIDs) {
				t.Fatalf("expected %d messages, got %d", len(tt.wantIDs), len(body.Messages))
			}
			for i, id := range tt.wantIDs {
				if body.Messages[i].ID != id {
					t.Errorf("message %d: expected id %d, got %d", i, id, body.Messages[i].ID)
				}
			}
			if body.Meta.TotalMessages != 3 {
				t.Errorf("meta should describe the whole timeline, got %+v", body.Meta)
			}
		})
	}
}

func TestTimelineErrors(t *testing.T) {
	server := setupTestServer(t, Deps{})

	getJSON(t, server.URL+"/api/v1/timeline", http.StatusNotFound, nil)

	var body ErrorResponse
	getJSON(t, server.URL+"/api/v1/timeline?from=15-01-2025", http.StatusBadRequest, &body)
	if body.Code != "INVALID_DATE" {
		t.Errorf("expected INVALID_DATE, got %s", body.Code)
	}
}

func TestDecisionEndpoints(t *testing.T) {
	v := vault.NewVault(t.TempDir())
	seedVault(t, v)
	server := setupTestServer(t, Deps{Vault: v})

	var list struct {
		Decisions []models.DecisionRecord `json:"decisions"`
		Count     int                     `json:"count"`
	}
	getJSON(t, server.URL+"/api/v1/decisions", http.StatusOK, &list)
	if list.Count != 1 || list.Decisions[0].ID != "decision_plan_0a1b2c3d" {
		t.Errorf("unexpected decisions %+v", list)
	}

	getJSON(t, server.URL+"/api/v1/decisions?category=test", http.StatusOK, &list)
	if list.Count != 0 {
		t.Errorf("expected no test decisions, got %d", list.Count)
	}

	var rec models.DecisionRecord
	getJSON(t, server.URL+"/api/v1/decisions/decision_plan_0a1b2c3d", http.StatusOK, &rec)
	if rec.Turn.ID != 2 || rec.Confidence != "medium" {
		t.Errorf("unexpected record %+v", rec)
	}

	getJSON(t, server.URL+"/api/v1/decisions/decision_plan_ffffffff", http.StatusNotFound, nil)
	getJSON(t, server.URL+"/api/v1/decisions/..%2Fmessages", http.StatusNotFound, nil)
}

func TestRunEndpoints(t *testing.T) {
	ledger := db.NewMemoryLedger()
	ctx := context.Background()
	started := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b"} {
		if err := ledger.StartRun(ctx, models.RunSummary{ID: id, Seed: 1, StartedAt: started.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatalf("start run: %v", err)
		}
	}
	events := []models.Degradation{{Kind: models.DegradedFallback, TurnID: 4, Event: models.EventCheckIn, Speaker: "Ruby", At: started}}
	if err := ledger.RecordEvents(ctx, "run-a", events); err != nil {
		t.Fatalf("record events: %v", err)
	}
	server := setupTestServer(t, Deps{Ledger: ledger})

	var runs struct {
		Runs []models.RunSummary `json:"runs"`
	}
	getJSON(t, server.URL+"/api/v1/runs", http.StatusOK, &runs)
	if len(runs.Runs) != 2 || runs.Runs[0].ID != "run-b" {
		t.Errorf("unexpected runs %+v", runs.Runs)
	}

	getJSON(t, server.URL+"/api/v1/runs?limit=1", http.StatusOK, &runs)
	if len(runs.Runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs.Runs))
	}
	getJSON(t, server.URL+"/api/v1/runs?limit=zero", http.StatusBadRequest, nil)

	var ev struct {
		Events []models.Degradation `json:"events"`
	}
	getJSON(t, server.URL+"/api/v1/runs/run-a/events", http.StatusOK, &ev)
	if len(ev.Events) != 1 || ev.Events[0].TurnID != 4 {
		t.Errorf("unexpected events %+v", ev.Events)
	}
}

func TestStartRun(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"completed", nil, http.StatusCreated},
		{"busy", app.ErrRunInProgress, http.StatusConflict},
		{"failed", errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{err: tt.err}
			server := setupTestServer(t, Deps{Runner: runner})

			resp, err := http.Post(server.URL+"/api/v1/runs", "application/json", nil)
			if err != nil {
				t.Fatalf("POST /runs: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if tt.err == nil {
				var body runResponse
				json.NewDecoder(resp.Body).Decode(&body)
				if body.RunID != "run-1" || body.Turns != 3 {
					t.Errorf("unexpected body %+v", body)
				}
			}
		})
	}
}

func TestStartRunRateLimited(t *testing.T) {
	runner := &stubRunner{}
	server := setupTestServer(t, Deps{Runner: runner})

	var last int
	for i := 0; i <= runsPerMinute; i++ {
		resp, err := http.Post(server.URL+"/api/v1/runs", "application/json", nil)
		if err != nil {
			t.Fatalf("POST /runs: %v", err)
		}
		last = resp.StatusCode
		resp.Body.Close()
	}

	if last != http.StatusTooManyRequests {
		t.Errorf("expected 429 after %d runs, got %d", runsPerMinute, last)
	}
	if runner.calls != runsPerMinute {
		t.Errorf("expected %d runs, got %d", runsPerMinute, runner.calls)
	}
}

func TestRunsWithoutRunnerIsReadOnly(t *testing.T) {
	server := setupTestServer(t, Deps{})

	resp, err := http.Post(server.URL+"/api/v1/runs", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /runs: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}

	var runs struct {
		Runs []models.RunSummary `json:"runs"`
	}
	getJSON(t, server.URL+"/api/v1/runs", http.StatusOK, &runs)
	if len(runs.Runs) != 0 {
		t.Errorf("expected no runs, got %d", len(runs.Runs))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := observability.NewMetrics("journeygen_test")
	m.ObserveTurn("check_in", "generated")
	server := setupTestServer(t, Deps{Metrics: m})

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
