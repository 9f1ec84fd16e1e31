// Package bot keeps the status message and the countdown announcements in
// step with the restart schedule.
//
// All mutation happens from scheduler callbacks (StatusTick, CountdownTick and
// the reborn follow-up). A mutex still guards the state so that Snapshot can be
// read from other goroutines.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/reforge/internal/chat"
	"github.com/loykin/reforge/internal/countdown"
	"github.com/loykin/reforge/internal/cron"
	"github.com/loykin/reforge/internal/history"
	"github.com/loykin/reforge/internal/metrics"
	"github.com/loykin/reforge/internal/schedule"
	"github.com/loykin/reforge/internal/store"
	"github.com/loykin/reforge/pkg/template"
)

// Job names registered on the scheduler.
const (
	JobStatus    = "status"
	JobCountdown = "countdown"
	JobReborn    = "reborn"
)

// Deferrer runs fn once at the given instant. *cron.Scheduler implements it.
type Deferrer interface {
	After(at time.Time, name string, fn cron.Func)
}

type Options struct {
	StatusChannel    string
	CountdownChannel string

	Schedule          *schedule.Schedule
	MaintenanceWindow time.Duration
	// RebornOffset is how long after the restart instant the restarting
	// message is edited to the reborn text.
	RebornOffset time.Duration
	// CheckInterval is the polling period of the loops. It bounds the cycle
	// cooldown from below.
	CheckInterval time.Duration

	Templates *template.Set
	Store     store.Store
	Chat      chat.Client
	// History is optional.
	History history.Sink
	Logger  *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// Deferrer schedules the reborn follow-up. Without one the follow-up runs
	// on the first countdown tick at or after it is due.
	Deferrer Deferrer
}

type Bot struct {
	opts     Options
	log      *slog.Logger
	cooldown time.Duration

	mu    sync.Mutex
	st    store.State
	ready bool
	// cycle key whose reborn follow-up is queued on the deferrer
	rebornQueued string
	// last status text written, for backends that cannot read content back
	statusContent string
}

func New(o Options) (*Bot, error) {
	switch {
	case o.Schedule == nil:
		return nil, errors.New("bot requires a schedule")
	case o.Store == nil:
		return nil, errors.New("bot requires a state store")
	case o.Chat == nil:
		return nil, errors.New("bot requires a chat client")
	case o.StatusChannel == "" || o.CountdownChannel == "":
		return nil, errors.New("bot requires status and countdown channels")
	case o.MaintenanceWindow < 0 || o.RebornOffset < 0 || o.CheckInterval < 0:
		return nil, errors.New("maintenance window, reborn offset and check interval must not be negative")
	}
	if o.Templates == nil {
		o.Templates = template.MustDefault()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Bot{
		opts:     o,
		log:      log,
		cooldown: schedule.Cooldown(o.MaintenanceWindow, o.RebornOffset, o.CheckInterval),
	}, nil
}

// Init prepares the store and loads the persisted state. A reborn follow-up
// left pending by a previous process is queued again.
func (b *Bot) Init(ctx context.Context) error {
	if err := b.opts.Store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("prepare state store: %w", err)
	}
	st, err := b.opts.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.st = st
	b.ready = true
	b.log.Info("state loaded",
		"status_msg", st.StatusMsg,
		"last_restart", st.LastRestart,
		"cycle", st.Cycle,
		"stage", st.Stage.String())
	metrics.SetStage(int(st.Stage))
	if b.rebornPending() {
		if err := b.queueReborn(st.Cycle); err != nil {
			b.log.Warn("pending reborn has a bad cycle key", "cycle", st.Cycle, "error", err)
		}
	}
	return nil
}

// Jobs returns the two periodic loops, both firing once on start.
func (b *Bot) Jobs(interval time.Duration) []*cron.Job {
	return []*cron.Job{
		{Name: JobStatus, Schedule: cron.Every(interval), Run: b.StatusTick, RunOnStart: true},
		{Name: JobCountdown, Schedule: cron.Every(interval), Run: b.CountdownTick, RunOnStart: true},
	}
}

func (b *Bot) ensureReady() error {
	if !b.ready {
		return errors.New("bot state not loaded; call Init first")
	}
	return nil
}

func (b *Bot) save(ctx context.Context) error {
	b.st.UpdatedAt = b.opts.Now().UTC()
	if err := b.opts.Store.Save(ctx, b.st); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (b *Bot) record(ctx context.Context, e history.Event) {
	if b.opts.History == nil {
		return
	}
	e.OccurredAt = b.opts.Now().UTC()
	if err := b.opts.History.Send(ctx, e); err != nil {
		b.log.Warn("history send failed", "event", string(e.Type), "error", err)
	}
}

func (b *Bot) data(now, restart time.Time, stage countdown.Stage) template.Data {
	sch := b.opts.Schedule
	return template.Data{
		Restart:   restart,
		Next:      sch.Next(now),
		Remaining: restart.Sub(now),
		Times:     sch.Describe(now),
		Zone:      restart.In(sch.Location()).Format("MST"),
		Stage:     stage.String(),
	}
}

func (b *Bot) render(name template.Name, d template.Data) (string, error) {
	return b.opts.Templates.Render(name, d)
}
