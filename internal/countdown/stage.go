// Package countdown models the threshold announcements sent before a restart.
package countdown

import (
	"fmt"
	"strings"
	"time"
)

// Stage records which countdown announcement has already been sent for the
// current restart cycle. Stages are ordered; a cycle only ever moves forward.
type Stage int

const (
	StageNone Stage = iota
	Stage10m
	Stage5m
	Stage3m
	Stage2m
	Stage1m
	StageRestarting
)

var stageNames = [...]string{
	StageNone:       "none",
	Stage10m:        "10m",
	Stage5m:         "5m",
	Stage3m:         "3m",
	Stage2m:         "2m",
	Stage1m:         "1m",
	StageRestarting: "restarting",
}

// thresholds in descending order. A stage's window is (next lower, threshold].
var thresholds = []struct {
	stage Stage
	at    time.Duration
}{
	{Stage10m, 10 * time.Minute},
	{Stage5m, 5 * time.Minute},
	{Stage3m, 3 * time.Minute},
	{Stage2m, 2 * time.Minute},
	{Stage1m, time.Minute},
	{StageRestarting, 0},
}

func (s Stage) String() string {
	if s < StageNone || s > StageRestarting {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// Threshold is the remaining time at which the stage fires.
func (s Stage) Threshold() time.Duration {
	for _, th := range thresholds {
		if th.stage == s {
			return th.at
		}
	}
	return -1
}

// After reports whether s comes later in the countdown than other.
func (s Stage) After(other Stage) bool { return s > other }

// MarshalText stores the stage by name.
func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText accepts the names produced by String.
func (s *Stage) UnmarshalText(b []byte) error {
	v, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStage converts a stored stage name. Empty input is StageNone.
func ParseStage(v string) (Stage, error) {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return StageNone, nil
	}
	for i, name := range stageNames {
		if name == v {
			return Stage(i), nil
		}
	}
	return StageNone, fmt.Errorf("unknown countdown stage %q", v)
}

// StageFor maps signed time remaining until restart to the stage whose window
// contains it. More than ten minutes out is StageNone; at or past the restart
// instant is StageRestarting.
func StageFor(remaining time.Duration) Stage {
	if remaining <= 0 {
		return StageRestarting
	}
	stage := StageNone
	for _, th := range thresholds {
		if remaining <= th.at {
			stage = th.stage
			continue
		}
		break
	}
	return stage
}

// Stages lists every announcing stage in firing order.
func Stages() []Stage {
	out := make([]Stage, 0, len(thresholds))
	for _, th := range thresholds {
		out = append(out, th.stage)
	}
	return out
}
