package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loykin/reforge"
	"github.com/loykin/reforge/pkg/template"
)

type command struct {
	out io.Writer
	now func() time.Time
}

func newCommand(out io.Writer) command {
	return command{out: out, now: time.Now}
}

func configPathFrom(flag string, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return flag
}

// Serve runs the daemon until SIGINT/SIGTERM.
func (c command) Serve(f ServeFlags, args []string) error {
	cfg, err := reforge.LoadConfig(configPathFrom(f.ConfigPath, args))
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	d, err := reforge.NewDaemon(cfg, reforge.Options{DryRun: f.DryRun})
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if f.NonBlocking {
		if err := d.Start(ctx); err != nil {
			_ = d.Close()
			return err
		}
		return d.Close()
	}
	return d.Run(ctx)
}

// Next prints the upcoming restart instants.
func (c command) Next(f NextFlags) error {
	cfg, err := reforge.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if f.Count <= 0 {
		return errors.New("--count must be positive")
	}
	now := c.now()
	times, err := reforge.NextRestarts(cfg, now, f.Count)
	if err != nil {
		return err
	}
	for _, t := range times {
		_, _ = fmt.Fprintf(c.out, "%s  (in %s)\n", t.Format("Mon 2006-01-02 15:04 MST"), t.Sub(now).Truncate(time.Second))
	}
	return nil
}

// State prints the persisted bot state.
func (c command) State(f StateFlags) error {
	dsn := f.DSN
	if dsn == "" {
		cfg, err := reforge.LoadConfig(f.ConfigPath)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		dsn = cfg.State.DSN
	}
	st, err := reforge.LoadState(context.Background(), dsn)
	if err != nil {
		return err
	}
	printJSON(c.out, st)
	return nil
}

// Purge deletes recent messages from a channel.
func (c command) Purge(f PurgeFlags) error {
	if strings.TrimSpace(f.Channel) == "" {
		return errors.New("--channel is required")
	}
	cfg, err := reforge.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), max(cfg.Chat.OpenTimeout, time.Second)+time.Minute)
	defer cancel()
	cl, err := reforge.OpenChat(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = cl.Close() }()
	n, err := cl.Purge(ctx, f.Channel, f.Limit)
	if err != nil {
		return fmt.Errorf("purge %s: %w", f.Channel, err)
	}
	_, _ = fmt.Fprintf(c.out, "purged %d messages from %s\n", n, f.Channel)
	return nil
}

// Templates prints the effective message templates.
func (c command) Templates(f TemplateFlags) error {
	cfg, err := reforge.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	set, err := template.New(cfg.Messages)
	if err != nil {
		return err
	}
	if f.Name != "" {
		src := set.Source(template.Name(strings.ToLower(f.Name)))
		if src == "" {
			return fmt.Errorf("unknown message %q (known: %v)", f.Name, template.Names())
		}
		_, _ = fmt.Fprintln(c.out, src)
		return nil
	}
	for _, name := range template.Names() {
		_, _ = fmt.Fprintf(c.out, "== %s ==\n%s\n\n", name, set.Source(name))
	}
	return nil
}

// Status prints the snapshot of a running daemon.
func (c command) Status(f APIFlags) error {
	api := NewAPIClient(f.APIUrl, f.APITimeout)
	res, err := api.GetStatus()
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

// Refresh asks a running daemon to run a loop now.
func (c command) Refresh(f APIFlags) error {
	api := NewAPIClient(f.APIUrl, f.APITimeout)
	if err := api.Refresh(f.Job); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "triggered %s\n", f.Job)
	return nil
}
