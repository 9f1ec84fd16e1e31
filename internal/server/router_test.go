package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/loykin/reforge/internal/bot"
	"github.com/loykin/reforge/internal/countdown"
	"github.com/loykin/reforge/internal/store"
)

type fakeSource struct{ snap bot.Snapshot }

func (f fakeSource) Snapshot() bot.Snapshot { return f.snap }

type fakeTrigger struct {
	mu   sync.Mutex
	runs []string
	err  error
}

func (f *fakeTrigger) Trigger(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.runs = append(f.runs, name)
	return nil
}

func readySnapshot() bot.Snapshot {
	return bot.Snapshot{
		Cycle:            "2026-03-14 05:00",
		RemainingSeconds: 90,
		Stage:            countdown.Stage2m,
		Ready:            true,
		State:            store.State{StatusMsg: "42", Cycle: "2026-03-14 05:00", Stage: countdown.Stage2m},
	}
}

func setupRouter(t *testing.T, base string, snap bot.Snapshot, trig Trigger) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(fakeSource{snap: snap}, trig, base).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	h := setupRouter(t, "/api", readySnapshot(), nil)
	rec := doReq(t, h, http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["cycle"] != "2026-03-14 05:00" || got["stage"] != "2m" {
		t.Fatalf("unexpected body: %v", got)
	}
	st, ok := got["state"].(map[string]any)
	if !ok || st["status_msg"] != "42" {
		t.Fatalf("unexpected state: %v", got["state"])
	}
}

func TestHealthz(t *testing.T) {
	h := setupRouter(t, "", readySnapshot(), nil)
	if rec := doReq(t, h, http.MethodGet, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	h = setupRouter(t, "", bot.Snapshot{}, nil)
	if rec := doReq(t, h, http.MethodGet, "/healthz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRefresh(t *testing.T) {
	trig := &fakeTrigger{}
	h := setupRouter(t, "/api", readySnapshot(), trig)

	tests := []struct {
		path string
		code int
	}{
		{"/api/refresh", http.StatusAccepted},
		{"/api/refresh?job=countdown", http.StatusAccepted},
		{"/api/refresh?job=reborn", http.StatusBadRequest},
		{"/api/refresh?job=../x", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := doReq(t, h, http.MethodPost, tt.path); rec.Code != tt.code {
			t.Fatalf("%s: expected %d, got %d: %s", tt.path, tt.code, rec.Code, rec.Body.String())
		}
	}
	if len(trig.runs) != 2 || trig.runs[0] != bot.JobStatus || trig.runs[1] != bot.JobCountdown {
		t.Fatalf("unexpected runs: %v", trig.runs)
	}
}

func TestRefreshErrors(t *testing.T) {
	h := setupRouter(t, "", readySnapshot(), nil)
	if rec := doReq(t, h, http.MethodPost, "/refresh"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without scheduler, got %d", rec.Code)
	}
	h = setupRouter(t, "", readySnapshot(), &fakeTrigger{err: errors.New("scheduler not started")})
	rec := doReq(t, h, http.MethodPost, "/refresh")
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), "not started") {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRefreshRequiresPost(t *testing.T) {
	h := setupRouter(t, "", readySnapshot(), &fakeTrigger{})
	if rec := doReq(t, h, http.MethodGet, "/refresh"); rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 404/405, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewRouter(fakeSource{snap: readySnapshot()}, nil, "/api").WithMetrics().Handler()
	if rec := doReq(t, h, http.MethodGet, "/api/metrics"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	h = setupRouter(t, "/api", readySnapshot(), nil)
	if rec := doReq(t, h, http.MethodGet, "/api/metrics"); rec.Code != http.StatusNotFound {
		t.Fatalf("metrics should be off by default, got %d", rec.Code)
	}
}

func TestNewServerRequiresRouter(t *testing.T) {
	if _, err := NewServer("127.0.0.1:0", nil); err == nil {
		t.Fatalf("expected error")
	}
}
