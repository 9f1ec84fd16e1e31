package reforge

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/reforge/internal/chat/memory"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func dryRunConfig(t *testing.T) *Config {
	t.Helper()
	c := DefaultConfig()
	c.Chat.TokenEnv = ""
	c.State.DSN = filepath.Join(t.TempDir(), "bot_state.json")
	c.Schedule.CheckInterval = 50 * time.Millisecond
	c.EnvFiles = nil
	return c
}

func TestDaemonDryRun(t *testing.T) {
	c := dryRunConfig(t)
	d, err := NewDaemon(c, Options{DryRun: true, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	defer func() { _ = d.Close() }()

	mc, ok := d.Chat().(*memory.Client)
	if !ok {
		t.Fatalf("dry run should use the memory backend, got %T", d.Chat())
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(mc.Messages(DryRunStatusChannel)) == 0 || len(mc.Messages(DryRunCountdownChannel)) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("loops did not post: calls=%v", mc.Calls())
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err := d.Trigger("status"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if err := d.Trigger("nope"); err == nil {
		t.Fatalf("unknown job should fail")
	}

	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	st, err := LoadState(context.Background(), c.State.DSN)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if st.StatusMsg == "" || st.Cycle == "" {
		t.Fatalf("state not persisted: %+v", st)
	}
}

func TestDaemonRejectsInvalidConfig(t *testing.T) {
	c := dryRunConfig(t)
	c.Chat.Backend = "discord"
	c.Chat.TokenEnv = "REFORGE_TEST_NO_SUCH_TOKEN"
	if _, err := NewDaemon(c, Options{Logger: quietLogger()}); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := NewDaemon(nil, Options{}); err == nil {
		t.Fatalf("expected error for nil config")
	}
	c = dryRunConfig(t)
	c.Messages = map[string]string{"bogus": "x"}
	if _, err := NewDaemon(c, Options{DryRun: true, Logger: quietLogger()}); err == nil {
		t.Fatalf("expected error for unknown message name")
	}
}

func TestDaemonHandler(t *testing.T) {
	c := dryRunConfig(t)
	mc := memory.New(DryRunStatusChannel, DryRunCountdownChannel)
	d, err := NewDaemon(c, Options{DryRun: true, Chat: mc, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	defer func() { _ = d.Close() }()
	if err := d.Bot().Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	rec := httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d: %s", rec.Code, rec.Body.String())
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !snap.Ready || snap.Cycle == "" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestNextRestarts(t *testing.T) {
	c := DefaultConfig()
	loc, _ := time.LoadLocation("Asia/Kolkata")
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, loc)
	got, err := NextRestarts(c, now, 3)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	want := []time.Time{
		time.Date(2026, 3, 14, 17, 0, 0, 0, loc),
		time.Date(2026, 3, 15, 5, 0, 0, 0, loc),
		time.Date(2026, 3, 15, 17, 0, 0, 0, loc),
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("restart %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestLoadStateEmpty(t *testing.T) {
	st, err := LoadState(context.Background(), filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if st != (State{}) {
		t.Fatalf("expected empty state, got %+v", st)
	}
}

func TestMetricsHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("RegisterMetrics: %v", err)
	}
	if err := RegisterMetricsDefault(); err != nil {
		t.Fatalf("RegisterMetricsDefault: %v", err)
	}
	rec := httptest.NewRecorder()
	newMetricsServer(":0").Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func TestDaemonServesHTTPS(t *testing.T) {
	c := dryRunConfig(t)
	c.Server.Enabled = true
	c.Server.Listen = freeAddr(t)
	c.Server.TLS.Enabled = true
	c.Server.TLS.Dir = filepath.Join(t.TempDir(), "certs")
	c.Server.TLS.AutoGenerate = true

	d, err := NewDaemon(c, Options{DryRun: true, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	defer func() { _ = d.Close() }()
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	client := &http.Client{
		Timeout:   2 * time.Second,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}, //nolint:gosec // self-signed test cert
	}
	url := "https://" + c.Server.Listen + "/api/healthz"
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				if resp.TLS == nil {
					t.Fatalf("expected a TLS connection")
				}
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("https healthz not ready: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
