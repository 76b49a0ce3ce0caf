package main

import "time"

// GlobalFlags are the persistent flags of every command.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

// RunFlags override config values for one run.
type RunFlags struct {
	Browsers     []string
	Reporters    []string
	Adapter      string
	Target       string
	ClientPort   int
	ProxyPort    int
	Once         bool
	ReadyTimeout time.Duration
	HistoryDSN   string
	Metrics      bool
}

// StatusFlags select the run to query.
type StatusFlags struct {
	URL      string
	Wait     bool
	Timeout  time.Duration
	Interval time.Duration
}
