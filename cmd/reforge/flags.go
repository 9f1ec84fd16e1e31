package main

import "time"

// Flag structs to decouple cobra from logic for testing.

type GlobalFlags struct {
	ConfigPath string
}

type ServeFlags struct {
	ConfigPath string
	DryRun     bool
	// NonBlocking starts everything, then shuts down at once. Used by tests.
	NonBlocking bool
}

type NextFlags struct {
	ConfigPath string
	Count      int
}

type StateFlags struct {
	ConfigPath string
	DSN        string
}

type PurgeFlags struct {
	ConfigPath string
	Channel    string
	Limit      int
}

type TemplateFlags struct {
	ConfigPath string
	Name       string
}

type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Job        string
}
