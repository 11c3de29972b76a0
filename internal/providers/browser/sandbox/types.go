package sandbox

import (
	"time"
)

// Config defines sandbox limits
type Config struct {
	Timeout       time.Duration // Per-run execution budget
	MaxCallStack  int           // Maximum call stack depth
	EnableConsole bool          // Capture console output
}

// Result holds the outcome of one run
type Result struct {
	Errors   []ScriptError // Uncaught exceptions, one per failing script
	Console  []LogEntry    // Console output
	Duration time.Duration // Execution time
}

// Failed reports whether any script threw.
func (r *Result) Failed() bool {
	return len(r.Errors) > 0
}

// FirstError returns the first failure message, or "".
func (r *Result) FirstError() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Message
}

// ScriptError is an uncaught exception from one script
type ScriptError struct {
	Index   int    // Position of the script in the run
	Message string // Exception text
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    // log, warn, error, info
	Message string    // Log message
	Time    time.Time // Timestamp
}

// DefaultConfig returns the probe defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       2 * time.Second,
		MaxCallStack:  1024,
		EnableConsole: true,
	}
}
