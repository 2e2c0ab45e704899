package http

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"vitalred_worker/core/domain"
	"vitalred_worker/pkg/apperr"
	"vitalred_worker/pkg/metrics"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type fakeSessions struct {
	active   string
	progress map[string]domain.Progress
}

func (f *fakeSessions) ActiveID() (string, bool) { return f.active, f.active != "" }

func (f *fakeSessions) GetProgress(id string) (domain.Progress, error) {
	p, ok := f.progress[id]
	if !ok {
		return domain.Progress{}, apperr.SessionNotFound(id)
	}
	return p, nil
}

type fakeArchive map[string]domain.Progress

func (f fakeArchive) GetProgress(_ context.Context, id string) (*domain.Progress, error) {
	p, ok := f[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

type fakeCounts struct {
	referrals int
	err       error
}

func (f fakeCounts) CountReferrals(context.Context) (int, error) { return f.referrals, f.err }

func (f fakeCounts) CountBySpecialty(_ context.Context, limit int) ([]domain.SpecialtyCount, error) {
	return []domain.SpecialtyCount{{Specialty: "cardiologia", Referrals: int64(limit)}}, nil
}

func get(t *testing.T, h Registrar, path string) (int, map[string]any) {
	t.Helper()
	app := NewApp(h)
	resp, err := app.Test(httptest.NewRequest("GET", path, nil), int((5 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("GET %s: body %q: %v", path, raw, err)
	}
	return resp.StatusCode, body
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		handler    *HealthHandler
		wantStatus int
	}{
		{"all healthy", NewHealthHandler(nil).Check("redis", pinger{}).Check("mongodb", nil), 200},
		{"one down", NewHealthHandler(nil).Check("redis", pinger{}).Check("sql", pinger{errors.New("refused")}), 503},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := get(t, tt.handler, "/ready")
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d (%v)", status, tt.wantStatus, body)
			}
		})
	}

	_, body := get(t, NewHealthHandler(nil).Check("mongodb", nil), "/ready")
	if checks := body["checks"].(map[string]any); checks["mongodb"] != "not configured" {
		t.Errorf("checks = %v", checks)
	}
}

func TestProgressEndpoints(t *testing.T) {
	sessions := &fakeSessions{
		active: "s2",
		progress: map[string]domain.Progress{
			"s2": {SessionID: "s2", Status: domain.SessionRunning, TotalEmails: 20, ProcessedEmails: 10, SuccessfulExtractions: 8, FailedExtractions: 2},
		},
	}
	archive := fakeArchive{"s1": {SessionID: "s1", Status: domain.SessionCompleted, TotalEmails: 5, ProcessedEmails: 5, SuccessfulExtractions: 5}}
	h := NewProgressHandler(sessions, archive, metrics.NewPipelineLatency(10))

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantID     string
		wantCode   string
	}{
		{"current", "/progress", 200, "s2", ""},
		{"by id in memory", "/progress/s2", 200, "s2", ""},
		{"by id from archive", "/progress/s1", 200, "s1", ""},
		{"unknown", "/progress/nope", 404, "", apperr.CodeSessionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := get(t, h, tt.path)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%v)", status, tt.wantStatus, body)
			}
			if tt.wantID != "" && body["session_id"] != tt.wantID {
				t.Errorf("session_id = %v", body["session_id"])
			}
			if tt.wantCode != "" {
				if e := body["error"].(map[string]any); e["code"] != tt.wantCode {
					t.Errorf("error = %v", e)
				}
			}
		})
	}

	_, body := get(t, h, "/progress")
	if body["success_rate"] != 80.0 || body["remaining"] != 10.0 {
		t.Errorf("derived fields = %v / %v", body["success_rate"], body["remaining"])
	}

	idle := NewProgressHandler(&fakeSessions{}, nil, nil)
	if status, _ := get(t, idle, "/progress"); status != 404 {
		t.Errorf("no session: status = %d", status)
	}
}

func TestStats(t *testing.T) {
	status, body := get(t, NewStatsHandler(fakeCounts{referrals: 7}, fakeCounts{}), "/stats?limit=3")
	if status != 200 || body["referrals"] != 7.0 {
		t.Fatalf("status %d body %v", status, body)
	}
	specs := body["specialties"].([]any)
	if len(specs) != 1 || specs[0].(map[string]any)["referrals"] != 3.0 {
		t.Errorf("specialties = %v", specs)
	}

	status, body = get(t, NewStatsHandler(fakeCounts{err: errors.New("locked")}, nil), "/stats")
	if status != 500 || body["error"].(map[string]any)["code"] != apperr.CodeDatabaseError {
		t.Errorf("failing store: status %d body %v", status, body)
	}
}

type fakeBodies struct {
	bodies map[string]*domain.ArchivedBody
	err    error
}

func (f fakeBodies) GetBody(_ context.Context, id string) (*domain.ArchivedBody, error) {
	return f.bodies[id], f.err
}

func TestBodies(t *testing.T) {
	archive := fakeBodies{bodies: map[string]*domain.ArchivedBody{
		"m1": {MessageID: "m1", Text: "Se remite paciente a neurología"},
	}}

	status, body := get(t, NewBodyHandler(archive), "/bodies/m1")
	if status != 200 || body["text"] != "Se remite paciente a neurología" {
		t.Errorf("archived body: status %d body %v", status, body)
	}
	if status, _ := get(t, NewBodyHandler(archive), "/bodies/m2"); status != 404 {
		t.Errorf("missing body: status = %d, want 404", status)
	}

	status, body = get(t, NewBodyHandler(fakeBodies{err: errors.New("no reachable servers")}), "/bodies/m1")
	if status < 500 || body["error"].(map[string]any)["code"] != apperr.CodeExternalError {
		t.Errorf("failing archive: status %d body %v", status, body)
	}
}
