package bot

import (
	"time"

	"github.com/loykin/reforge/internal/countdown"
	"github.com/loykin/reforge/internal/store"
)

// Snapshot is a point-in-time view of the schedule and the persisted state.
type Snapshot struct {
	Now              time.Time       `json:"now"`
	NextRestart      time.Time       `json:"next_restart"`
	Cycle            string          `json:"cycle"`
	CycleRestart     time.Time       `json:"cycle_restart"`
	RemainingSeconds int64           `json:"remaining_seconds"`
	Maintenance      bool            `json:"maintenance"`
	Stage            countdown.Stage `json:"stage"`
	Ready            bool            `json:"ready"`
	State            store.State     `json:"state"`
}

func (b *Bot) Snapshot() Snapshot {
	now := b.opts.Now()
	sch := b.opts.Schedule
	restart := sch.Current(now, b.cooldown)
	key := sch.Key(restart)

	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Now:              now,
		NextRestart:      sch.Next(now),
		Cycle:            key,
		CycleRestart:     restart,
		RemainingSeconds: int64(restart.Sub(now) / time.Second),
		Maintenance:      sch.InMaintenance(now, b.opts.MaintenanceWindow),
		Stage:            b.stageOrNone(key),
		Ready:            b.ready,
		State:            b.st,
	}
}
