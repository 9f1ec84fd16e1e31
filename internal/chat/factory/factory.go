// Package factory builds a chat.Client for a configured backend name.
package factory

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loykin/reforge/internal/chat"
	"github.com/loykin/reforge/internal/chat/discord"
	"github.com/loykin/reforge/internal/chat/memory"
	"github.com/loykin/reforge/internal/chat/telegram"
)

type Options struct {
	Token       string
	OpenTimeout time.Duration
	// Channels are pre-created on the memory backend.
	Channels []string
	Logger   *slog.Logger
}

// Builder creates a client from options.
type Builder func(opts Options) (chat.Client, error)

var (
	mu       sync.RWMutex
	builders = map[string]Builder{}
)

func init() {
	Register("discord", func(o Options) (chat.Client, error) {
		return discord.New(o.Token, o.OpenTimeout, o.Logger)
	})
	Register("telegram", func(o Options) (chat.Client, error) {
		return telegram.New(o.Token, o.Logger)
	})
	Register("memory", func(o Options) (chat.Client, error) {
		c := memory.New(o.Channels...)
		c.AutoCreate = true
		c.Log = o.Logger
		return c, nil
	})
}

// Register adds or replaces a backend.
func Register(name string, b Builder) {
	mu.Lock()
	defer mu.Unlock()
	builders[strings.ToLower(name)] = b
}

// Supported lists registered backends in sorted order.
func Supported() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(builders))
	for name := range builders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// New creates the client registered as backend. An empty name means discord.
func New(backend string, opts Options) (chat.Client, error) {
	name := strings.ToLower(strings.TrimSpace(backend))
	if name == "" {
		name = "discord"
	}
	mu.RLock()
	b, ok := builders[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported chat backend: %s (supported: %v)", backend, Supported())
	}
	return b(opts)
}
