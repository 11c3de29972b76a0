package supervisor

import (
	"errors"
	"time"
)

// Status is the supervisor state.
type Status string

const (
	StatusIdle        Status = "IDLE"
	StatusListening   Status = "LISTENING"
	StatusUpdating    Status = "UPDATING"
	StatusReplicating Status = "REPLICATING"
)

var (
	// ErrBusy is returned when an operation needs a state the supervisor is
	// not in.
	ErrBusy = errors.New("supervisor busy")
	// ErrUnsafeCode rejects generations that fail the runnability gate.
	ErrUnsafeCode = errors.New(UnsafeCodeReason)
)

// Failure reasons.
const (
	TimeoutReason    = "link timeout: subsystem unresponsive"
	CrashReason      = "subsystem crash"
	UnsafeCodeReason = "security violation: unsafe code"
)

// Integrity bookkeeping.
const (
	MaxIntegrity   = 100
	MinIntegrity   = 10
	FailurePenalty = 30
	MaxFailures    = 50
)

// Snapshot is the observable supervisor state.
type Snapshot struct {
	Status    Status `json:"status"`
	Integrity int    `json:"integrity"`
	Error     string `json:"error,omitempty"`
	HeadID    string `json:"headId"`
	Versions  int    `json:"versions"`
}

// EventKind names what changed.
type EventKind string

const (
	EventStatus  EventKind = "status"
	EventVersion EventKind = "version"
)

// Event is delivered to subscribers after every change.
type Event struct {
	Kind     EventKind `json:"kind"`
	Snapshot Snapshot  `json:"snapshot"`
	Summary  string    `json:"summary,omitempty"`
}

// Failure is one entry of the diagnostics failure log.
type Failure struct {
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}

// DiagnosticsSnapshot is the supervisor's diagnostics view.
type DiagnosticsSnapshot struct {
	Integrity int       `json:"integrity"`
	Status    Status    `json:"status"`
	Failures  []Failure `json:"failures"`
}

// Config holds the supervisor timings.
type Config struct {
	RecoveryTimeout time.Duration // wait for a health signal
	RollbackDelay   time.Duration // error shown before the head is popped
	RestoreDelay    time.Duration // popped head to integrity restore
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		RecoveryTimeout: 2 * time.Second,
		RollbackDelay:   800 * time.Millisecond,
		RestoreDelay:    2000 * time.Millisecond,
	}
}

// MetricsSink receives supervisor measurements.
type MetricsSink interface {
	RecordTransition(from, to string)
	RecordRollback(reason string)
	RecordConfirmation()
	RecordGeneration(kind string, d time.Duration, err error)
	SetIntegrity(v int)
}

type nopMetrics struct{}

func (nopMetrics) RecordTransition(string, string)               {}
func (nopMetrics) RecordRollback(string)                         {}
func (nopMetrics) RecordConfirmation()                           {}
func (nopMetrics) RecordGeneration(string, time.Duration, error) {}
func (nopMetrics) SetIntegrity(int)                              {}
