package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loykin/reforge/internal/metrics"
)

// Func is the body of a job or follow-up.
type Func func(ctx context.Context) error

// Job defines a periodic callback.
// Schedule supports only the form "@every <duration>" (e.g., "@every 20s").
// Name must be unique inside the same Scheduler.
type Job struct {
	Name       string
	Schedule   string
	Run        Func
	RunOnStart bool // fire once immediately when the scheduler starts

	period time.Duration
	next   time.Time
}

// parseEvery parses schedules of the form "@every <duration>".
func parseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("unsupported schedule: %s (only @every <duration> supported)", expr)
	}
	durStr := strings.TrimSpace(strings.TrimPrefix(expr, "@every "))
	d, err := time.ParseDuration(durStr)
	if err != nil {
		return 0, fmt.Errorf("invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("@every duration must be > 0")
	}
	return d, nil
}

// Every builds an "@every" expression for d.
func Every(d time.Duration) string { return "@every " + d.String() }

func (j *Job) validate() error {
	if j.Name == "" {
		return errors.New("job requires a name")
	}
	if j.Run == nil {
		return fmt.Errorf("job %s requires a run func", j.Name)
	}
	d, err := parseEvery(j.Schedule)
	if err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	j.period = d
	return nil
}

type followup struct {
	name string
	at   time.Time
	fn   Func
}

// Scheduler runs every job and follow-up on a single goroutine, so callbacks
// never overlap each other. Other goroutines interact only through Trigger.
type Scheduler struct {
	log *slog.Logger

	mu        sync.Mutex
	jobs      []*Job
	byName    map[string]*Job
	followups []followup
	triggered []string
	started   bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

func NewScheduler(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		log:    log,
		byName: make(map[string]*Job),
		wake:   make(chan struct{}, 1),
	}
}

func (s *Scheduler) Add(job *Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	if _, dup := s.byName[job.Name]; dup {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	s.jobs = append(s.jobs, job)
	s.byName[job.Name] = job
	return nil
}

// After schedules fn to run once at the given instant on the scheduler goroutine.
// It is safe to call from inside a running job.
func (s *Scheduler) After(at time.Time, name string, fn Func) {
	s.mu.Lock()
	s.followups = append(s.followups, followup{name: name, at: at, fn: fn})
	s.mu.Unlock()
	s.signal()
}

// Pending returns the number of follow-ups not yet run.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.followups)
}

// Trigger requests an out-of-band run of the named job.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	if _, ok := s.byName[name]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown job %q", name)
	}
	s.triggered = append(s.triggered, name)
	s.mu.Unlock()
	s.signal()
	return nil
}

// Jobs returns the registered job names in sorted order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Name)
	}
	sort.Strings(out)
	return out
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start launches the scheduler loop. Call Stop (or cancel ctx) to end it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.started = true
	now := time.Now()
	for _, j := range s.jobs {
		if j.RunOnStart {
			j.next = now
		} else {
			j.next = now.Add(j.period)
		}
	}
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		s.runDue(ctx, time.Now())
		timer.Reset(s.untilNext(time.Now()))
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// runDue executes triggered jobs, due jobs and due follow-ups, in that order.
func (s *Scheduler) runDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	triggered := s.triggered
	s.triggered = nil
	var due []*Job
	for _, j := range s.jobs {
		if !now.Before(j.next) {
			due = append(due, j)
			j.next = now.Add(j.period)
		}
	}
	var ready []followup
	kept := s.followups[:0]
	for _, f := range s.followups {
		if !now.Before(f.at) {
			ready = append(ready, f)
		} else {
			kept = append(kept, f)
		}
	}
	s.followups = kept
	s.mu.Unlock()

	for _, name := range triggered {
		s.mu.Lock()
		j := s.byName[name]
		s.mu.Unlock()
		s.run(ctx, j.Name, j.Run)
	}
	for _, j := range due {
		s.run(ctx, j.Name, j.Run)
	}
	sort.SliceStable(ready, func(a, b int) bool { return ready[a].at.Before(ready[b].at) })
	for _, f := range ready {
		s.run(ctx, f.name, f.fn)
	}
}

func (s *Scheduler) run(ctx context.Context, name string, fn Func) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := fn(ctx)
	metrics.ObserveTick(name, time.Since(start).Seconds())
	if err != nil {
		metrics.IncTickError(name)
		s.log.Warn("job run failed", "job", name, "error", err)
	}
}

func (s *Scheduler) untilNext(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.triggered) > 0 {
		return 0
	}
	var next time.Time
	for _, j := range s.jobs {
		if next.IsZero() || j.next.Before(next) {
			next = j.next
		}
	}
	for _, f := range s.followups {
		if next.IsZero() || f.at.Before(next) {
			next = f.at
		}
	}
	if next.IsZero() {
		return time.Hour
	}
	d := next.Sub(now)
	if d < 0 {
		d = 0
	}
	return d
}

// Stop cancels the loop and waits for the in-flight callback to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	quit, done := s.quit, s.done
	if quit == nil {
		s.mu.Unlock()
		return
	}
	select {
	case <-quit:
		// already closed
	default:
		close(quit)
	}
	s.mu.Unlock()
	<-done
}
