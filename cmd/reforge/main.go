package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(newCommand(os.Stdout))
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and all subcommands.
func buildRoot(c command) *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags, c.out)
	root.AddCommand(
		createServeCommand(c, globalFlags),
		createNextCommand(c, globalFlags),
		createStateCommand(c, globalFlags),
		createPurgeCommand(c, globalFlags),
		createTemplatesCommand(c, globalFlags),
		createStatusCommand(c),
		createRefreshCommand(c),
	)
	return root
}

func createRootCommand(flags *GlobalFlags, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "reforge",
		Short: "Server restart announcer for chat channels",
		Long: `Reforge keeps a status message and a restart countdown up to date in
chat channels, following a fixed daily restart schedule.

Examples:
  reforge serve reforge.toml          # Run the bot
  reforge serve --dry-run             # Run against the in-memory chat backend
  reforge next --count=4              # Show upcoming restarts
  reforge state                       # Print persisted state
  reforge purge --channel=123456789   # Remove recent messages`,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func createServeCommand(c command, globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [reforge.toml]",
		Short: "Run the announcer",
		Long: `Run the status and countdown loops until interrupted.
Configuration comes from the optional TOML file and REFORGE_* environment variables.

Examples:
  reforge serve
  reforge serve reforge.toml
  reforge serve --dry-run`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return c.Serve(*serveFlags, args)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.DryRun, "dry-run", false, "use the in-memory chat backend")
	cmd.Flags().BoolVar(&serveFlags.NonBlocking, "non-blocking", false, "start, then exit immediately")
	_ = cmd.Flags().MarkHidden("non-blocking")
	return cmd
}

func createNextCommand(c command, globalFlags *GlobalFlags) *cobra.Command {
	nextFlags := &NextFlags{}
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Print upcoming restart times",
		RunE: func(cmd *cobra.Command, args []string) error {
			nextFlags.ConfigPath = globalFlags.ConfigPath
			return c.Next(*nextFlags)
		},
	}
	cmd.Flags().IntVar(&nextFlags.Count, "count", 2, "number of restarts to list")
	return cmd
}

func createStateCommand(c command, globalFlags *GlobalFlags) *cobra.Command {
	stateFlags := &StateFlags{}
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print the persisted bot state",
		RunE: func(cmd *cobra.Command, args []string) error {
			stateFlags.ConfigPath = globalFlags.ConfigPath
			return c.State(*stateFlags)
		},
	}
	cmd.Flags().StringVar(&stateFlags.DSN, "dsn", "", "state location (defaults to state.dsn from config)")
	return cmd
}

func createPurgeCommand(c command, globalFlags *GlobalFlags) *cobra.Command {
	purgeFlags := &PurgeFlags{}
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete recent messages from a channel",
		Long: `Delete up to --limit recent messages from a channel using the configured bot.

Examples:
  reforge purge --channel=123456789
  reforge purge --channel=123456789 --limit=50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			purgeFlags.ConfigPath = globalFlags.ConfigPath
			return c.Purge(*purgeFlags)
		},
	}
	cmd.Flags().StringVar(&purgeFlags.Channel, "channel", "", "channel id (required)")
	cmd.Flags().IntVar(&purgeFlags.Limit, "limit", 100, "maximum messages to delete")
	if err := cmd.MarkFlagRequired("channel"); err != nil {
		panic(err)
	}
	return cmd
}

func createTemplatesCommand(c command, globalFlags *GlobalFlags) *cobra.Command {
	tplFlags := &TemplateFlags{}
	cmd := &cobra.Command{
		Use:   "templates [name]",
		Short: "Print the effective message templates",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tplFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				tplFlags.Name = args[0]
			}
			return c.Templates(*tplFlags)
		},
	}
	return cmd
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (e.g. http://127.0.0.1:8080/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}

func createStatusCommand(c command) *cobra.Command {
	apiFlags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(*apiFlags)
		},
	}
	addAPIFlags(cmd, apiFlags)
	return cmd
}

func createRefreshCommand(c command) *cobra.Command {
	apiFlags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Ask a running daemon to run a loop now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Refresh(*apiFlags)
		},
	}
	addAPIFlags(cmd, apiFlags)
	cmd.Flags().StringVar(&apiFlags.Job, "job", "status", "loop to run: status or countdown")
	return cmd
}
