// Package template renders the announcement texts posted by the bot.
//
// Every message is a text/template string evaluated against Data. The
// defaults can be replaced per message name from configuration.
package template

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/loykin/reforge/internal/countdown"
)

// Name identifies one announcement.
type Name string

const (
	NameWaiting     Name = "waiting"
	NameOnline      Name = "online"
	NameOffline     Name = "offline"
	NamePlaceholder Name = "placeholder"
	NameStage10m    Name = "stage_10m"
	NameStage5m     Name = "stage_5m"
	NameStage3m     Name = "stage_3m"
	NameStage2m     Name = "stage_2m"
	NameStage1m     Name = "stage_1m"
	NameRestarting  Name = "restarting"
	NameReborn      Name = "reborn"
)

// Data is what a template can refer to.
type Data struct {
	// Restart is the restart instant that owns the current cycle.
	Restart time.Time
	// Next is the first restart strictly after now.
	Next      time.Time
	Remaining time.Duration
	// Times is the human schedule, e.g. "5:00 AM & 5:00 PM IST".
	Times string
	Zone  string
	Stage string
}

// Minutes is Remaining rounded up to whole minutes.
func (d Data) Minutes() int {
	if d.Remaining <= 0 {
		return 0
	}
	return int((d.Remaining + time.Minute - 1) / time.Minute)
}

var defaults = map[Name]string{
	NameWaiting: "🌑 The Exiled Lands await their fate…",
	NameOnline: "☀️ **THE EXILED LANDS STAND STRONG** ☀️\n\n" +
		"Steel is sharp.\n" +
		"The gods are watching.\n\n" +
		"🟢 **World Status:** ONLINE\n\n" +
		"Sharpen your blade.\n" +
		"Survival favors the prepared.",
	NameOffline: "🌑 **THE EXILED LANDS ARE BEING REFORGED** 🌑\n\n" +
		"The gods reshape the world.\n" +
		"Steel rests. Time stands still.\n\n" +
		"🔴 **World Status:** OFFLINE\n\n" +
		"Return shortly, exile.",
	NamePlaceholder: "☀️ **THE EXILED LANDS STAND STRONG** ☀️\n\n" +
		"The world is stable.\n" +
		"Steel is sharp.\n" +
		"The gods are watching.\n\n" +
		"🟢 **World Status:** ONLINE\n\n" +
		"Next scheduled reforging:\n" +
		"🕔 {{.Times}}",
	NameStage10m:   "⚔️ **THE GODS CALL FOR REST** ⚔️\n\nRestart in **10 minutes**.",
	NameStage5m:    "⚔️ **THE GODS GROW IMPATIENT** ⚔️\n\nRestart in **5 minutes**.",
	NameStage3m:    "🔥 **THE WORLD SHUDDERS** 🔥\n\nRestart in **3 minutes**.",
	NameStage2m:    "🔥 **THE WORLD TREMBLES** 🔥\n\nRestart in **2 minutes**.",
	NameStage1m:    "🌑 **THE END DRAWS NEAR** 🌑\n\nRestart in **1 minute**.",
	NameRestarting: "🌑 **THE WORLD FALLS SILENT** 🌑\n\nRestarting now.\nDo not attempt to join.",
	NameReborn:     "☀️ **THE WORLD IS REBORN** ☀️\n\nYou may return, exile.",
}

var stageNames = map[countdown.Stage]Name{
	countdown.Stage10m:        NameStage10m,
	countdown.Stage5m:         NameStage5m,
	countdown.Stage3m:         NameStage3m,
	countdown.Stage2m:         NameStage2m,
	countdown.Stage1m:         NameStage1m,
	countdown.StageRestarting: NameRestarting,
}

// ForStage returns the announcement sent when stage fires.
func ForStage(stage countdown.Stage) (Name, bool) {
	n, ok := stageNames[stage]
	return n, ok
}

// Names lists every known message name in sorted order.
func Names() []Name {
	out := make([]Name, 0, len(defaults))
	for n := range defaults {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Defaults returns a copy of the built-in message texts.
func Defaults() map[Name]string {
	out := make(map[Name]string, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	return out
}

// Set is a parsed collection of message templates.
type Set struct {
	src   map[Name]string
	tmpls map[Name]*template.Template
}

// New parses the defaults with overrides applied. Unknown override names are
// rejected so a typo in configuration does not silently fall back.
func New(overrides map[string]string) (*Set, error) {
	src := Defaults()
	for k, v := range overrides {
		name := Name(strings.ToLower(strings.TrimSpace(k)))
		if _, ok := defaults[name]; !ok {
			return nil, fmt.Errorf("unknown message template %q (known: %v)", k, Names())
		}
		if strings.TrimSpace(v) == "" {
			continue
		}
		src[name] = v
	}
	s := &Set{src: src, tmpls: make(map[Name]*template.Template, len(src))}
	for name, text := range src {
		t, err := template.New(string(name)).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse message template %s: %w", name, err)
		}
		s.tmpls[name] = t
	}
	return s, nil
}

// MustDefault returns the built-in set. It panics only if a default is broken.
func MustDefault() *Set {
	s, err := New(nil)
	if err != nil {
		panic(err)
	}
	return s
}

// Source returns the unparsed text for name.
func (s *Set) Source(name Name) string { return s.src[name] }

// Render executes the named template.
func (s *Set) Render(name Name, d Data) (string, error) {
	t, ok := s.tmpls[name]
	if !ok {
		return "", fmt.Errorf("unknown message template %q", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render message %s: %w", name, err)
	}
	return buf.String(), nil
}
