package bot

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/reforge/internal/chat/memory"
	"github.com/loykin/reforge/internal/countdown"
	"github.com/loykin/reforge/internal/cron"
	"github.com/loykin/reforge/internal/history"
	"github.com/loykin/reforge/internal/schedule"
	"github.com/loykin/reforge/internal/store"
	"github.com/loykin/reforge/internal/store/jsonfile"
	"github.com/loykin/reforge/pkg/template"
)

const (
	statusCh    = "status"
	countdownCh = "countdown"
)

var kolkata = mustLoc("Asia/Kolkata")

func mustLoc(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func at(hh, mm, ss int) time.Time {
	return time.Date(2026, 3, 14, hh, mm, ss, 0, kolkata)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type deferred struct {
	at   time.Time
	name string
	fn   cron.Func
}

type fakeDeferrer struct {
	mu    sync.Mutex
	tasks []deferred
}

func (d *fakeDeferrer) After(t time.Time, name string, fn cron.Func) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, deferred{at: t, name: name, fn: fn})
}

func (d *fakeDeferrer) Tasks() []deferred {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]deferred(nil), d.tasks...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (r *recordingSink) Send(_ context.Context, e history.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) count(typ history.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type harness struct {
	bot   *Bot
	chat  *memory.Client
	store *jsonfile.File
	clock *clock
}

type option func(*Options)

func withTimes(times ...string) option {
	return func(o *Options) {
		s, err := schedule.New("Asia/Kolkata", times)
		if err != nil {
			panic(err)
		}
		o.Schedule = s
	}
}

func withDeferrer(d Deferrer) option { return func(o *Options) { o.Deferrer = d } }

func withTiming(window, offset, interval time.Duration) option {
	return func(o *Options) {
		o.MaintenanceWindow = window
		o.RebornOffset = offset
		o.CheckInterval = interval
	}
}

func withHistory(s history.Sink) option { return func(o *Options) { o.History = s } }

func newHarness(t *testing.T, start time.Time, opts ...option) *harness {
	t.Helper()
	st, err := jsonfile.New(filepath.Join(t.TempDir(), "bot_state.json"))
	require.NoError(t, err)
	return newHarnessWith(t, start, memory.New(statusCh, countdownCh), st, opts...)
}

func newHarnessWith(t *testing.T, start time.Time, c *memory.Client, st *jsonfile.File, opts ...option) *harness {
	t.Helper()
	clk := &clock{t: start}
	sch, err := schedule.New("Asia/Kolkata", []string{"05:00", "17:00"})
	require.NoError(t, err)
	o := Options{
		StatusChannel:     statusCh,
		CountdownChannel:  countdownCh,
		Schedule:          sch,
		MaintenanceWindow: 2 * time.Minute,
		RebornOffset:      2 * time.Minute,
		Store:             st,
		Chat:              c,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:               clk.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	b, err := New(o)
	require.NoError(t, err)
	require.NoError(t, b.Init(context.Background()))
	return &harness{bot: b, chat: c, store: st, clock: clk}
}

func (h *harness) status(t *testing.T, now time.Time) string {
	t.Helper()
	h.clock.Set(now)
	require.NoError(t, h.bot.StatusTick(context.Background()))
	msgs := h.chat.Messages(statusCh)
	require.Len(t, msgs, 1)
	return msgs[0].Content
}

func (h *harness) countdown(t *testing.T, now time.Time) {
	t.Helper()
	h.clock.Set(now)
	require.NoError(t, h.bot.CountdownTick(context.Background()))
}

func (h *harness) state(t *testing.T) store.State {
	t.Helper()
	st, err := h.store.Load(context.Background())
	require.NoError(t, err)
	return st
}

func text(t *testing.T, name template.Name) string {
	t.Helper()
	s, err := template.MustDefault().Render(name, template.Data{Times: "5:00 AM & 5:00 PM IST"})
	require.NoError(t, err)
	return s
}

func countOps(calls []memory.Call, op memory.Op, ch string) int {
	n := 0
	for _, c := range calls {
		if c.Op == op && c.ChannelID == ch {
			n++
		}
	}
	return n
}

func TestNewValidates(t *testing.T) {
	sch, err := schedule.New("UTC", []string{"05:00"})
	require.NoError(t, err)
	st, err := jsonfile.New(filepath.Join(t.TempDir(), "s.json"))
	require.NoError(t, err)
	c := memory.New()

	_, err = New(Options{Store: st, Chat: c, StatusChannel: "a", CountdownChannel: "b"})
	assert.Error(t, err)
	_, err = New(Options{Schedule: sch, Chat: c, StatusChannel: "a", CountdownChannel: "b"})
	assert.Error(t, err)
	_, err = New(Options{Schedule: sch, Store: st, StatusChannel: "a", CountdownChannel: "b"})
	assert.Error(t, err)
	_, err = New(Options{Schedule: sch, Store: st, Chat: c, StatusChannel: "a"})
	assert.Error(t, err)
	_, err = New(Options{Schedule: sch, Store: st, Chat: c, StatusChannel: "a", CountdownChannel: "b", RebornOffset: -time.Second})
	assert.Error(t, err)
	_, err = New(Options{Schedule: sch, Store: st, Chat: c, StatusChannel: "a", CountdownChannel: "b", CheckInterval: -time.Second})
	assert.Error(t, err)

	b, err := New(Options{Schedule: sch, Store: st, Chat: c, StatusChannel: "a", CountdownChannel: "b"})
	require.NoError(t, err)
	assert.Error(t, b.StatusTick(context.Background()), "ticks before Init must fail")
}

func TestStatusOnlineOffline(t *testing.T) {
	h := newHarness(t, at(4, 59, 59))
	online, offline := text(t, template.NameOnline), text(t, template.NameOffline)

	cases := []struct {
		now  time.Time
		want string
	}{
		{at(4, 59, 59), online},
		{at(5, 0, 0), offline},
		{at(5, 0, 30), offline},
		{at(5, 1, 59), offline},
		{at(5, 2, 0), online},
		{at(16, 59, 0), online},
		{at(17, 1, 0), offline},
		{at(17, 2, 1), online},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, h.status(t, tc.now), "status at %s", tc.now.Format("15:04:05"))
	}
	assert.Equal(t, 1, countOps(h.chat.Calls(), memory.OpSend, statusCh), "status message is sent once")
}

func TestStatusFirstTickPostsWaitingThenEdits(t *testing.T) {
	h := newHarness(t, at(10, 0, 0))
	h.status(t, at(10, 0, 0))

	sent := h.chat.Sent(statusCh)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "The Exiled Lands await their fate")
	assert.Equal(t, 1, countOps(h.chat.Calls(), memory.OpEdit, statusCh))

	id := h.chat.Messages(statusCh)[0].ID
	assert.Equal(t, id, h.state(t).StatusMsg)

	// unchanged content is not edited again
	h.status(t, at(10, 0, 20))
	assert.Equal(t, 1, countOps(h.chat.Calls(), memory.OpEdit, statusCh))
}

func TestStatusRecreatedAfterDelete(t *testing.T) {
	sink := &recordingSink{}
	h := newHarness(t, at(10, 0, 0), withHistory(sink))
	h.status(t, at(10, 0, 0))
	old := h.state(t).StatusMsg
	require.NotEmpty(t, old)

	require.True(t, h.chat.Remove(statusCh, old))
	content := h.status(t, at(10, 0, 20))

	assert.Equal(t, text(t, template.NameOnline), content)
	fresh := h.state(t).StatusMsg
	assert.NotEmpty(t, fresh)
	assert.NotEqual(t, old, fresh)
	assert.Equal(t, h.chat.Messages(statusCh)[0].ID, fresh)
	assert.Equal(t, 1, sink.count(history.EventStatusCreated))
	assert.Equal(t, 1, sink.count(history.EventStatusRecreated))
}

func TestStatusSkipsUnavailableChannel(t *testing.T) {
	st, err := jsonfile.New(filepath.Join(t.TempDir(), "bot_state.json"))
	require.NoError(t, err)
	h := newHarnessWith(t, at(10, 0, 0), memory.New(countdownCh), st)

	require.NoError(t, h.bot.StatusTick(context.Background()))
	assert.Empty(t, h.chat.Calls())
	assert.Empty(t, h.state(t).StatusMsg)
}

func TestCountdownFullCycle(t *testing.T) {
	sink := &recordingSink{}
	h := newHarness(t, at(4, 49, 0), withHistory(sink))

	var key string
	prev := countdown.StageNone
	for now := at(4, 49, 0); !now.After(at(5, 5, 0)); now = now.Add(20 * time.Second) {
		h.countdown(t, now)
		st := h.state(t)
		if key == "" {
			key = st.Cycle
		}
		if st.Cycle == key {
			assert.False(t, prev.After(st.Stage), "stage went back at %s", now.Format("15:04:05"))
			prev = st.Stage
		}
	}
	assert.Equal(t, "2026-03-14 05:00", key)

	want := []template.Name{
		template.NamePlaceholder,
		template.NameStage10m,
		template.NameStage5m,
		template.NameStage3m,
		template.NameStage2m,
		template.NameStage1m,
		template.NameRestarting,
		template.NamePlaceholder,
	}
	sent := h.chat.Sent(countdownCh)
	require.Len(t, sent, len(want))
	for i, name := range want {
		assert.Equal(t, text(t, name), sent[i], "message %d", i)
	}

	var reborn []memory.Call
	for _, c := range h.chat.Calls() {
		if c.Op == memory.OpEdit && c.ChannelID == countdownCh {
			reborn = append(reborn, c)
		}
	}
	require.Len(t, reborn, 1)
	assert.Equal(t, text(t, template.NameReborn), reborn[0].Content)
	assert.Equal(t, 1, countOps(h.chat.Calls(), memory.OpDelete, countdownCh), "placeholder removed once")

	st := h.state(t)
	assert.Equal(t, key, st.LastRestart)
	assert.Equal(t, "2026-03-14 17:00", st.Cycle)
	assert.Equal(t, countdown.StageNone, st.Stage)
	assert.Empty(t, st.RestartingMsg)
	assert.NotEmpty(t, st.PlaceholderMsg)

	assert.Equal(t, 6, sink.count(history.EventCountdownSent))
	assert.Equal(t, 1, sink.count(history.EventReborn))
	assert.Equal(t, 2, sink.count(history.EventPlaceholderPosted))
	assert.Equal(t, 1, sink.count(history.EventPlaceholderRemoved))
}

func TestCountdownShortCooldownStillAnnouncesRestart(t *testing.T) {
	cases := []struct {
		name   string
		window time.Duration
		offset time.Duration
		start  time.Time
	}{
		{"zero window and offset", 0, 0, at(4, 58, 0)},
		{"window shorter than interval", 10 * time.Second, 0, at(4, 58, 15)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.start, withTiming(tc.window, tc.offset, 20*time.Second))
			for now := tc.start; !now.After(at(5, 3, 0)); now = now.Add(20 * time.Second) {
				h.countdown(t, now)
			}
			assert.Contains(t, h.chat.Sent(countdownCh), text(t, template.NameRestarting))
			var reborn int
			for _, c := range h.chat.Calls() {
				if c.ChannelID == countdownCh && c.Content == text(t, template.NameReborn) {
					reborn++
				}
			}
			assert.Equal(t, 1, reborn, "reborn announced once")
			st := h.state(t)
			assert.Equal(t, "2026-03-14 05:00", st.LastRestart)
			assert.Equal(t, "2026-03-14 17:00", st.Cycle)
		})
	}
}

func TestCountdownLateStartSendsTenMinutesOnce(t *testing.T) {
	h := newHarness(t, at(4, 59, 50), withTimes("05:10"))

	h.countdown(t, at(4, 59, 50))
	for _, s := range h.chat.Sent(countdownCh) {
		assert.NotContains(t, s, "10 minutes")
	}
	h.countdown(t, at(5, 0, 10))
	h.countdown(t, at(5, 0, 30))
	h.countdown(t, at(5, 0, 50))

	n := 0
	for _, s := range h.chat.Sent(countdownCh) {
		if strings.Contains(s, "10 minutes") {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestCountdownSkippedStagesSendLatestOnly(t *testing.T) {
	h := newHarness(t, at(4, 40, 0))
	h.countdown(t, at(4, 40, 0))
	h.countdown(t, at(4, 57, 30))

	sent := h.chat.Sent(countdownCh)
	require.Len(t, sent, 2)
	assert.Equal(t, text(t, template.NameStage3m), sent[1])
	assert.Equal(t, countdown.Stage3m, h.state(t).Stage)
}

func TestCountdownDeferredReborn(t *testing.T) {
	d := &fakeDeferrer{}
	h := newHarness(t, at(4, 59, 40), withDeferrer(d))
	h.countdown(t, at(4, 59, 40))
	h.countdown(t, at(5, 0, 0))
	h.countdown(t, at(5, 0, 20))

	tasks := d.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, JobReborn, tasks[0].name)
	assert.True(t, tasks[0].at.Equal(at(5, 2, 0)), "due at %s", tasks[0].at)

	restartingID := h.state(t).RestartingMsg
	require.NotEmpty(t, restartingID)

	h.clock.Set(at(5, 2, 0))
	require.NoError(t, tasks[0].fn(context.Background()))
	calls := len(h.chat.Calls())
	require.NoError(t, tasks[0].fn(context.Background()))
	assert.Len(t, h.chat.Calls(), calls, "second run must not touch the chat")

	var edited bool
	for _, m := range h.chat.Messages(countdownCh) {
		if m.ID == restartingID {
			edited = m.Content == text(t, template.NameReborn)
		}
	}
	assert.True(t, edited)
	st := h.state(t)
	assert.Equal(t, "2026-03-14 05:00", st.LastRestart)
	assert.NotEmpty(t, st.PlaceholderMsg)
}

func TestRebornSendsWhenRestartingMessageGone(t *testing.T) {
	h := newHarness(t, at(5, 0, 0))
	h.countdown(t, at(5, 0, 0))
	id := h.state(t).RestartingMsg
	require.NotEmpty(t, id)
	require.True(t, h.chat.Remove(countdownCh, id))

	h.countdown(t, at(5, 2, 0))
	sent := h.chat.Sent(countdownCh)
	require.GreaterOrEqual(t, len(sent), 2)
	assert.Contains(t, sent, text(t, template.NameReborn))
	assert.Equal(t, "2026-03-14 05:00", h.state(t).LastRestart)
}

func TestCountdownSurvivesProcessRestart(t *testing.T) {
	c := memory.New(statusCh, countdownCh)
	st, err := jsonfile.New(filepath.Join(t.TempDir(), "bot_state.json"))
	require.NoError(t, err)

	first := newHarnessWith(t, at(4, 54, 0), c, st)
	first.countdown(t, at(4, 54, 0))
	first.countdown(t, at(4, 55, 0))
	before := len(c.Sent(countdownCh))

	second := newHarnessWith(t, at(4, 55, 20), c, st)
	second.countdown(t, at(4, 55, 20))
	assert.Len(t, c.Sent(countdownCh), before, "nothing is resent after a restart")

	second.countdown(t, at(4, 57, 0))
	sent := c.Sent(countdownCh)
	require.Len(t, sent, before+1)
	assert.Equal(t, text(t, template.NameStage3m), sent[len(sent)-1])
}

func TestOverdueRebornAfterProcessRestart(t *testing.T) {
	c := memory.New(statusCh, countdownCh)
	st, err := jsonfile.New(filepath.Join(t.TempDir(), "bot_state.json"))
	require.NoError(t, err)

	first := newHarnessWith(t, at(5, 0, 0), c, st)
	first.countdown(t, at(5, 0, 0))
	restartingID := first.state(t).RestartingMsg
	require.NotEmpty(t, restartingID)

	d := &fakeDeferrer{}
	second := newHarnessWith(t, at(5, 1, 0), c, st, withDeferrer(d))
	require.Len(t, d.Tasks(), 1, "pending follow-up is queued again on Init")

	// the follow-up never ran; the tick after its due time completes it
	second.countdown(t, at(5, 3, 0))
	got := second.state(t)
	assert.Equal(t, "2026-03-14 05:00", got.LastRestart)
	assert.Equal(t, "2026-03-14 17:00", got.Cycle)

	var reborn bool
	for _, call := range c.Calls() {
		if call.Op == memory.OpEdit && call.MessageID == restartingID {
			reborn = call.Content == text(t, template.NameReborn)
		}
	}
	assert.True(t, reborn)

	calls := len(c.Calls())
	require.NoError(t, d.Tasks()[0].fn(context.Background()))
	assert.Len(t, c.Calls(), calls)
}

func TestCountdownSkipsUnavailableChannel(t *testing.T) {
	st, err := jsonfile.New(filepath.Join(t.TempDir(), "bot_state.json"))
	require.NoError(t, err)
	h := newHarnessWith(t, at(4, 55, 0), memory.New(statusCh), st)

	h.countdown(t, at(4, 55, 0))
	assert.Empty(t, h.chat.Calls())
	assert.Equal(t, countdown.StageNone, h.state(t).Stage)
}

func TestPlaceholderRecreated(t *testing.T) {
	h := newHarness(t, at(4, 0, 0))
	h.countdown(t, at(4, 0, 0))
	old := h.state(t).PlaceholderMsg
	require.NotEmpty(t, old)

	h.countdown(t, at(4, 0, 20))
	assert.Len(t, h.chat.Sent(countdownCh), 1)

	require.True(t, h.chat.Remove(countdownCh, old))
	h.countdown(t, at(4, 0, 40))
	fresh := h.state(t).PlaceholderMsg
	assert.NotEqual(t, old, fresh)
	assert.Len(t, h.chat.Messages(countdownCh), 1)
	assert.Equal(t, text(t, template.NamePlaceholder), h.chat.Messages(countdownCh)[0].Content)
}

func TestSnapshot(t *testing.T) {
	h := newHarness(t, at(4, 59, 30))
	h.countdown(t, at(4, 59, 30))

	s := h.bot.Snapshot()
	assert.Equal(t, "2026-03-14 05:00", s.Cycle)
	assert.Equal(t, int64(30), s.RemainingSeconds)
	assert.Equal(t, countdown.Stage1m, s.Stage)
	assert.False(t, s.Maintenance)
	assert.True(t, s.Ready)

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"stage":"1m"`)

	h.clock.Set(at(5, 0, 30))
	s = h.bot.Snapshot()
	assert.True(t, s.Maintenance)
	assert.Equal(t, int64(-30), s.RemainingSeconds)
}

func TestJobs(t *testing.T) {
	h := newHarness(t, at(10, 0, 0))
	jobs := h.bot.Jobs(20 * time.Second)
	require.Len(t, jobs, 2)
	assert.Equal(t, JobStatus, jobs[0].Name)
	assert.Equal(t, JobCountdown, jobs[1].Name)
	for _, j := range jobs {
		assert.True(t, j.RunOnStart)
		assert.Equal(t, "@every 20s", j.Schedule)
	}
}
