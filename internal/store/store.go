package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/reforge/internal/countdown"
)

// ErrEmptyDSN is returned when no state location is configured.
var ErrEmptyDSN = errors.New("empty DSN")

// State is everything the bot needs to survive a process restart without
// re-sending announcements. It is always written wholesale.
type State struct {
	StatusMsg   string `json:"status_msg"`
	LastRestart string `json:"last_restart"`
	// Cycle is the key of the restart whose countdown Stage belongs to.
	Cycle          string          `json:"cycle"`
	Stage          countdown.Stage `json:"stage"`
	PlaceholderMsg string          `json:"placeholder_msg"`
	RestartingMsg  string          `json:"restarting_msg"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Store keys. The first two match the layout older state files used.
const (
	KeyStatusMsg      = "status_msg"
	KeyLastRestart    = "last_restart"
	KeyCycle          = "cycle"
	KeyStage          = "stage"
	KeyPlaceholderMsg = "placeholder_msg"
	KeyRestartingMsg  = "restarting_msg"
	KeyUpdatedAt      = "updated_at"
)

// Pairs flattens the state into key/value strings.
func (s State) Pairs() map[string]string {
	updated := ""
	if !s.UpdatedAt.IsZero() {
		updated = s.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return map[string]string{
		KeyStatusMsg:      s.StatusMsg,
		KeyLastRestart:    s.LastRestart,
		KeyCycle:          s.Cycle,
		KeyStage:          s.Stage.String(),
		KeyPlaceholderMsg: s.PlaceholderMsg,
		KeyRestartingMsg:  s.RestartingMsg,
		KeyUpdatedAt:      updated,
	}
}

// FromPairs rebuilds a State. Missing keys stay zero and unknown keys are
// ignored.
func FromPairs(p map[string]string) (State, error) {
	var s State
	s.StatusMsg = strings.TrimSpace(p[KeyStatusMsg])
	s.LastRestart = strings.TrimSpace(p[KeyLastRestart])
	s.Cycle = strings.TrimSpace(p[KeyCycle])
	s.PlaceholderMsg = strings.TrimSpace(p[KeyPlaceholderMsg])
	s.RestartingMsg = strings.TrimSpace(p[KeyRestartingMsg])
	st, err := countdown.ParseStage(p[KeyStage])
	if err != nil {
		return State{}, err
	}
	s.Stage = st
	if v := strings.TrimSpace(p[KeyUpdatedAt]); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return State{}, fmt.Errorf("parse %s: %w", KeyUpdatedAt, err)
		}
		s.UpdatedAt = t
	}
	return s, nil
}

// Store persists State. Load returns the zero State when nothing was saved.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
	Close() error
}
