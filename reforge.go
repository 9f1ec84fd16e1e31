// Package reforge wires configuration, chat backend, state store, scheduler
// and HTTP surfaces into a runnable restart announcer. It is the stable API for
// embedding; everything else lives under internal/.
package reforge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/reforge/internal/bot"
	"github.com/loykin/reforge/internal/chat"
	chatfactory "github.com/loykin/reforge/internal/chat/factory"
	cfg "github.com/loykin/reforge/internal/config"
	"github.com/loykin/reforge/internal/cron"
	"github.com/loykin/reforge/internal/history"
	histfactory "github.com/loykin/reforge/internal/history/factory"
	"github.com/loykin/reforge/internal/metrics"
	"github.com/loykin/reforge/internal/schedule"
	iapi "github.com/loykin/reforge/internal/server"
	"github.com/loykin/reforge/internal/store"
	storefactory "github.com/loykin/reforge/internal/store/factory"
	itls "github.com/loykin/reforge/internal/tls"
	"github.com/loykin/reforge/pkg/template"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Snapshot = bot.Snapshot

type State = store.State

type ChatClient = chat.Client

type HistorySink = history.Sink

// Channel names used when a dry run has none configured.
const (
	DryRunStatusChannel    = "status"
	DryRunCountdownChannel = "countdown"
)

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

func DefaultConfig() *Config { return cfg.Default() }

// Options adjust how a Daemon is assembled.
type Options struct {
	// DryRun swaps the configured chat backend for the in-memory one.
	DryRun bool
	// Chat replaces the backend built from config.
	Chat ChatClient
	// History replaces the sink built from config.
	History HistorySink
	Logger  *slog.Logger
	Now     func() time.Time
}

// Daemon owns every long-lived component of a running bot.
type Daemon struct {
	cfg   *Config
	log   *slog.Logger
	chat  chat.Client
	state store.Store
	hist  history.Sink
	bot   *bot.Bot
	sched *cron.Scheduler

	httpSrv    *http.Server
	metricsSrv *http.Server
	closeOnce  sync.Once
	closeErr   error
}

// NewDaemon validates c and builds the components. Nothing touches the
// network until Run.
func NewDaemon(c *Config, o Options) (*Daemon, error) {
	if c == nil {
		return nil, errors.New("nil config")
	}
	if o.DryRun || strings.EqualFold(c.Chat.Backend, "memory") {
		cc := *c
		cc.Chat.Backend = "memory"
		if cc.Chat.StatusChannel == "" {
			cc.Chat.StatusChannel = DryRunStatusChannel
		}
		if cc.Chat.CountdownChannel == "" {
			cc.Chat.CountdownChannel = DryRunCountdownChannel
		}
		c = &cc
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := o.Logger
	if log == nil {
		log = c.Log.NewSlogger()
	}

	sch, err := c.BuildSchedule()
	if err != nil {
		return nil, err
	}
	tpl, err := template.New(c.Messages)
	if err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}

	d := &Daemon{cfg: c, log: log, sched: cron.NewScheduler(log.With("component", "scheduler"))}

	d.chat = o.Chat
	if d.chat == nil {
		d.chat, err = chatfactory.New(c.Chat.Backend, chatfactory.Options{
			Token:       c.ResolveToken(),
			OpenTimeout: c.Chat.OpenTimeout,
			Channels:    []string{c.Chat.StatusChannel, c.Chat.CountdownChannel},
			Logger:      log.With("component", "chat"),
		})
		if err != nil {
			return nil, err
		}
	}

	d.state, err = storefactory.NewFromDSN(c.State.DSN)
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}

	d.hist = o.History
	if d.hist == nil && c.History.Enabled {
		d.hist, err = histfactory.NewSinkFromDSN(c.History.DSN)
		if err != nil {
			_ = d.state.Close()
			return nil, fmt.Errorf("history sink: %w", err)
		}
	}

	d.bot, err = bot.New(bot.Options{
		StatusChannel:     c.Chat.StatusChannel,
		CountdownChannel:  c.Chat.CountdownChannel,
		Schedule:          sch,
		MaintenanceWindow: c.Schedule.MaintenanceWindow,
		RebornOffset:      c.Schedule.RebornOffset,
		CheckInterval:     c.Schedule.CheckInterval,
		Templates:         tpl,
		Store:             d.state,
		Chat:              d.chat,
		History:           d.hist,
		Logger:            log.With("component", "bot"),
		Now:               o.Now,
		Deferrer:          d.sched,
	})
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// Bot exposes the announcer, mainly for tests and embedding.
func (d *Daemon) Bot() *bot.Bot { return d.bot }

// Chat returns the chat client in use.
func (d *Daemon) Chat() ChatClient { return d.chat }

// Trigger requests an immediate run of the status or countdown loop.
func (d *Daemon) Trigger(job string) error { return d.sched.Trigger(job) }

// Handler returns the HTTP API for mounting in another server.
func (d *Daemon) Handler() http.Handler {
	r := iapi.NewRouter(d.bot, d.sched, d.cfg.Server.BasePath)
	if d.cfg.Metrics.Enabled {
		r.WithMetrics()
	}
	return r.Handler()
}

// Start connects to the chat platform, loads state and launches the loops and
// the configured HTTP listeners. It returns once everything is running.
func (d *Daemon) Start(ctx context.Context) error {
	openCtx, cancel := context.WithTimeout(ctx, max(d.cfg.Chat.OpenTimeout, time.Second))
	defer cancel()
	if err := d.chat.Open(openCtx); err != nil {
		return fmt.Errorf("open chat: %w", err)
	}
	if err := d.bot.Init(ctx); err != nil {
		return err
	}
	for _, j := range d.bot.Jobs(d.cfg.Schedule.CheckInterval) {
		if err := d.sched.Add(j); err != nil {
			return err
		}
	}
	if d.cfg.Metrics.Enabled {
		if err := RegisterMetricsDefault(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		if !d.cfg.Server.Enabled || d.cfg.Metrics.Listen != d.cfg.Server.Listen {
			srv := newMetricsServer(d.cfg.Metrics.Listen)
			d.metricsSrv = srv
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					d.log.Error("metrics server stopped", "listen", d.cfg.Metrics.Listen, "error", err)
				}
			}()
		}
	}
	if d.cfg.Server.Enabled {
		tc, err := itls.Setup(d.cfg.Server.TLS)
		if err != nil {
			return fmt.Errorf("server tls: %w", err)
		}
		srv := &http.Server{
			Addr:              d.cfg.Server.Listen,
			Handler:           d.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			TLSConfig:         tc,
		}
		d.httpSrv = srv
		go func() {
			var err error
			if srv.TLSConfig != nil {
				err = srv.ListenAndServeTLS("", "")
			} else {
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.log.Error("api server stopped", "listen", d.cfg.Server.Listen, "error", err)
			}
		}()
	}
	if err := d.sched.Start(ctx); err != nil {
		return err
	}
	sch, _ := d.cfg.BuildSchedule()
	d.log.Info("reforge started",
		"backend", d.cfg.Chat.Backend,
		"restarts", sch.Describe(time.Now()),
		"interval", d.cfg.Schedule.CheckInterval.String(),
		"tls", d.cfg.Server.Enabled && d.cfg.Server.TLS.Enabled,
		"state", d.cfg.State.DSN)
	return nil
}

// Run starts the daemon and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		_ = d.Close()
		return err
	}
	<-ctx.Done()
	d.log.Info("shutting down")
	return d.Close()
}

// Close stops the loops and releases every resource. Safe to call twice.
func (d *Daemon) Close() error {
	d.closeOnce.Do(func() { d.closeErr = d.close() })
	return d.closeErr
}

func (d *Daemon) close() error {
	d.sched.Stop()
	var errs []error
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range []*http.Server{d.httpSrv, d.metricsSrv} {
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	d.httpSrv, d.metricsSrv = nil, nil
	if d.chat != nil {
		if err := d.chat.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chat: %w", err))
		}
	}
	if c, ok := d.hist.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close history: %w", err))
		}
	}
	if d.state != nil {
		if err := d.state.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close state: %w", err))
		}
	}
	return errors.Join(errs...)
}

// NextRestarts lists the next n restart instants after now.
func NextRestarts(c *Config, now time.Time, n int) ([]time.Time, error) {
	sch, err := c.BuildSchedule()
	if err != nil {
		return nil, err
	}
	return nextN(sch, now, n), nil
}

func nextN(sch *schedule.Schedule, now time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		now = sch.Next(now)
		out = append(out, now)
	}
	return out
}

// OpenChat builds and connects the configured chat backend. The caller closes it.
func OpenChat(ctx context.Context, c *Config) (ChatClient, error) {
	cl, err := chatfactory.New(c.Chat.Backend, chatfactory.Options{
		Token:       c.ResolveToken(),
		OpenTimeout: c.Chat.OpenTimeout,
		Channels:    []string{c.Chat.StatusChannel, c.Chat.CountdownChannel},
	})
	if err != nil {
		return nil, err
	}
	if err := cl.Open(ctx); err != nil {
		return nil, fmt.Errorf("open chat: %w", err)
	}
	return cl, nil
}

// LoadState reads the persisted state from dsn.
func LoadState(ctx context.Context, dsn string) (State, error) {
	st, err := storefactory.NewFromDSN(dsn)
	if err != nil {
		return State{}, err
	}
	defer func() { _ = st.Close() }()
	if err := st.EnsureSchema(ctx); err != nil {
		return State{}, err
	}
	return st.Load(ctx)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	return newMetricsServer(addr).ListenAndServe()
}
