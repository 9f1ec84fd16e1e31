package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/reforge/internal/bot"
	"github.com/loykin/reforge/internal/metrics"
)

// Router provides embeddable HTTP handlers for inspecting the bot.
// Endpoints:
//   GET  {basePath}/status                 schedule and persisted state
//   GET  {basePath}/healthz                200 once state is loaded, else 503
//   POST {basePath}/refresh?job=status     run a loop now (status or countdown)
//   GET  {basePath}/metrics                when metrics are enabled
// basePath may be empty or start with '/'; no trailing slash.

// Source exposes the state served by /status. *bot.Bot implements it.
type Source interface {
	Snapshot() bot.Snapshot
}

// Trigger requests an immediate job run. *cron.Scheduler implements it.
type Trigger interface {
	Trigger(name string) error
}

type Router struct {
	src      Source
	trig     Trigger
	basePath string
	metrics  bool
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/status, /api/refresh.
// trig may be nil, in which case /refresh answers 503.
func NewRouter(src Source, trig Trigger, basePath string) *Router {
	return &Router{src: src, trig: trig, basePath: sanitizeBase(basePath)}
}

// WithMetrics also serves the prometheus handler under {basePath}/metrics.
func (r *Router) WithMetrics() *Router {
	r.metrics = true
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealth)
	group.POST("/refresh", r.handleRefresh)
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using router.
// Shut it down with the returned server's Shutdown or Close.
func NewServer(addr string, router *Router) (*http.Server, error) {
	if router == nil {
		return nil, errors.New("server requires a router")
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK  bool   `json:"ok"`
	Job string `json:"job,omitempty"`
}

type healthResp struct {
	Ready bool   `json:"ready"`
	Cycle string `json:"cycle"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.src.Snapshot())
}

func (r *Router) handleHealth(c *gin.Context) {
	s := r.src.Snapshot()
	code := http.StatusOK
	if !s.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(c, code, healthResp{Ready: s.Ready, Cycle: s.Cycle})
}

func (r *Router) handleRefresh(c *gin.Context) {
	job := c.DefaultQuery("job", bot.JobStatus)
	if !isSafeName(job) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid job: allowed [A-Za-z0-9._-]"})
		return
	}
	if job != bot.JobStatus && job != bot.JobCountdown {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "job must be status or countdown"})
		return
	}
	if r.trig == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "scheduler not running"})
		return
	}
	if err := r.trig.Trigger(job); err != nil {
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusAccepted, okResp{OK: true, Job: job})
}
