// Package supervisor drives the update lifecycle of the running document:
// request a generation, stage the result as an unconfirmed head, wait for the
// rendered document to report health, then confirm it or roll it back.
//
//	IDLE -> LISTENING -> UPDATING -> REPLICATING -> IDLE
//	                        |             |
//	                        +-> IDLE      +-> rollback -> IDLE
//
// Only one update is in flight at a time; every entry point checks the state
// first. Only one recovery timer exists at a time, and timer callbacks carry
// the token they were armed with so a superseded timer is a no-op.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/runtime"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/sentinel"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/settings"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/version"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/genai"
)

// SettingsSource supplies the settings passed to the generator.
type SettingsSource interface {
	Get() settings.AppSettings
}

type staticSettings settings.AppSettings

func (s staticSettings) Get() settings.AppSettings { return settings.AppSettings(s) }

// Supervisor owns the version store on behalf of the update lifecycle.
type Supervisor struct {
	cfg      Config
	versions *version.Store
	gen      genai.Generator
	settings SettingsSource
	logger   *zap.Logger
	metrics  MetricsSink
	now      func() time.Time

	mu          sync.Mutex
	status      Status
	integrity   int
	errMsg      string
	staged      string
	token       uint64
	timer       *time.Timer
	rollingBack bool
	exclusive   bool
	restore     *time.Timer
	diag        diagnostics

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int

	unsubscribe func()
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithConfig overrides the timings. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(s *Supervisor) {
		if cfg.RecoveryTimeout > 0 {
			s.cfg.RecoveryTimeout = cfg.RecoveryTimeout
		}
		if cfg.RollbackDelay > 0 {
			s.cfg.RollbackDelay = cfg.RollbackDelay
		}
		if cfg.RestoreDelay > 0 {
			s.cfg.RestoreDelay = cfg.RestoreDelay
		}
	}
}

// WithSettings sets the settings source.
func WithSettings(src SettingsSource) Option {
	return func(s *Supervisor) {
		if src != nil {
			s.settings = src
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m MetricsSink) Option {
	return func(s *Supervisor) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock replaces time.Now for failure timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an idle supervisor at full integrity.
func New(versions *version.Store, gen genai.Generator, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:       DefaultConfig(),
		versions:  versions,
		gen:       gen,
		settings:  staticSettings(settings.Defaults()),
		logger:    zap.NewNop(),
		metrics:   nopMetrics{},
		now:       time.Now,
		status:    StatusIdle,
		integrity: MaxIntegrity,
		subs:      make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics.SetIntegrity(s.integrity)

	s.unsubscribe = versions.Subscribe(func(version.Change) {
		s.emit(EventVersion, "")
	})
	return s
}

// Close stops pending timers and detaches from the version store.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.token++
	s.stopTimersLocked()
	s.mu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Snapshot returns the current state.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Status: s.status, Integrity: s.integrity, Error: s.errMsg}
	s.mu.Unlock()

	head := s.versions.Current()
	snap.HeadID = head.ID
	snap.Versions = s.versions.Len()
	return snap
}

// Diagnostics returns integrity, status and the failure log.
func (s *Supervisor) Diagnostics() DiagnosticsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return DiagnosticsSnapshot{
		Integrity: s.integrity,
		Status:    s.status,
		Failures:  s.diag.list(),
	}
}

// Subscribe registers fn for supervisor events.
func (s *Supervisor) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.subMu.Lock()
	key := s.nextSub
	s.nextSub++
	s.subs[key] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, key)
		s.subMu.Unlock()
	}
}

func (s *Supervisor) emit(kind EventKind, summary string) {
	ev := Event{Kind: kind, Snapshot: s.Snapshot(), Summary: summary}

	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// setStatusLocked moves to next and records the transition.
func (s *Supervisor) setStatusLocked(next Status) {
	if s.status == next {
		return
	}
	s.metrics.RecordTransition(string(s.status), string(next))
	s.logger.Debug("supervisor transition",
		zap.String("from", string(s.status)),
		zap.String("to", string(next)))
	s.status = next
}

func (s *Supervisor) setIntegrityLocked(v int) {
	s.integrity = v
	s.metrics.SetIntegrity(v)
}

func (s *Supervisor) stopTimersLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.restore != nil {
		s.restore.Stop()
		s.restore = nil
	}
}

// BeginCapture moves IDLE to LISTENING.
func (s *Supervisor) BeginCapture() error {
	s.mu.Lock()
	if s.status != StatusIdle {
		status := s.status
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBusy, status)
	}
	s.setStatusLocked(StatusListening)
	s.mu.Unlock()

	s.emit(EventStatus, "")
	return nil
}

// AbortCapture returns LISTENING to IDLE and reports whether it did.
func (s *Supervisor) AbortCapture() bool {
	s.mu.Lock()
	if s.status != StatusListening {
		s.mu.Unlock()
		return false
	}
	s.setStatusLocked(StatusIdle)
	s.mu.Unlock()

	s.emit(EventStatus, "")
	return true
}

// SubmitCapture ends a capture and asks the generator to evolve the current
// head. A typed instruction may be submitted straight from IDLE.
func (s *Supervisor) SubmitCapture(ctx context.Context, in genai.Instruction) error {
	s.mu.Lock()
	if s.status != StatusListening && s.status != StatusIdle {
		status := s.status
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBusy, status)
	}
	s.setStatusLocked(StatusUpdating)
	in.Experience = s.diag.messages()
	s.mu.Unlock()
	s.emit(EventStatus, "")

	code := s.versions.Current().Code
	start := time.Now()
	res, err := s.gen.Evolve(ctx, code, in, s.settings.Get())
	s.metrics.RecordGeneration("evolve", time.Since(start), err)

	return s.stage(ctx, res, err)
}

// ImproveElement asks the generator to rework one element of the current
// head and stages the result like a capture.
func (s *Supervisor) ImproveElement(ctx context.Context, el runtime.ElementSelection, instruction string) error {
	s.mu.Lock()
	if s.status != StatusIdle {
		status := s.status
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBusy, status)
	}
	s.setStatusLocked(StatusUpdating)
	s.mu.Unlock()
	s.emit(EventStatus, "")

	if instruction == "" {
		instruction = genai.DefaultImproveInstruction
	}
	code := s.versions.Current().Code
	start := time.Now()
	res, err := s.gen.ImproveElement(ctx, code, el.Normalize(), instruction, s.settings.Get())
	s.metrics.RecordGeneration("improve", time.Since(start), err)

	return s.stage(ctx, res, err)
}

// stage gates, sanitizes and appends a generation, then waits for health.
// REPLICATING is entered before the append is visible, so a verdict on the
// new document can never arrive while the supervisor is still UPDATING.
func (s *Supervisor) stage(ctx context.Context, res genai.Result, err error) error {
	if err == nil && !sentinel.IsRunnable(res.Code) {
		err = ErrUnsafeCode
	}
	if err != nil {
		return s.evolutionFailed(err)
	}

	v := s.versions.New(sentinel.Sanitize(res.Code), sentinel.CleanSummary(res.Summary), false)
	s.mu.Lock()
	s.staged = v.ID
	s.setStatusLocked(StatusReplicating)
	s.armLocked()
	s.mu.Unlock()

	if err := s.versions.Append(ctx, v); err != nil {
		s.mu.Lock()
		s.token++
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.staged = ""
		s.mu.Unlock()
		return s.evolutionFailed(err)
	}

	s.logger.Info("version staged",
		zap.String("version", v.ID),
		zap.String("summary", v.Description))
	s.emit(EventStatus, v.Description)
	return nil
}

func (s *Supervisor) evolutionFailed(err error) error {
	s.logger.Warn("evolution failed", zap.Error(err))
	s.mu.Lock()
	s.errMsg = "EVOLUTION FAILED: " + err.Error()
	s.setStatusLocked(StatusIdle)
	s.mu.Unlock()
	s.emit(EventStatus, "")
	return fmt.Errorf("evolve: %w", err)
}

// armLocked replaces the recovery timer.
func (s *Supervisor) armLocked() {
	s.token++
	tok := s.token
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.cfg.RecoveryTimeout, func() { s.onTimeout(tok) })
}

func (s *Supervisor) onTimeout(tok uint64) {
	s.mu.Lock()
	if tok != s.token || s.status != StatusReplicating || s.rollingBack {
		s.mu.Unlock()
		return
	}
	s.beginRollbackLocked(TimeoutReason)
	s.mu.Unlock()
	s.emit(EventStatus, "")
}

// HandleHealth applies a health signal. Signals only count while a staged
// version is waiting for confirmation; it reports whether s acted on it.
func (s *Supervisor) HandleHealth(sig runtime.HealthSignal) bool {
	s.mu.Lock()
	if s.status != StatusReplicating || s.rollingBack {
		s.mu.Unlock()
		return false
	}
	// A verdict on the previous head may land before the append is visible.
	if s.versions.Current().ID != s.staged {
		s.mu.Unlock()
		return false
	}

	if sig.Status == runtime.HealthOK {
		s.token++
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		staged := s.staged
		s.staged = ""
		s.errMsg = ""
		s.setIntegrityLocked(MaxIntegrity)
		s.setStatusLocked(StatusIdle)
		s.metrics.RecordConfirmation()
		s.mu.Unlock()

		s.logger.Info("version confirmed", zap.String("version", staged))
		s.emit(EventStatus, "")
		return true
	}

	reason := sig.Error
	if reason == "" {
		reason = CrashReason
	}
	s.beginRollbackLocked(reason)
	s.mu.Unlock()
	s.emit(EventStatus, "")
	return true
}

// beginRollbackLocked penalises integrity and schedules the head pop.
func (s *Supervisor) beginRollbackLocked(reason string) {
	s.token++
	tok := s.token
	if s.timer != nil {
		s.timer.Stop()
	}
	s.rollingBack = true
	s.setIntegrityLocked(max(MinIntegrity, s.integrity-FailurePenalty))
	s.errMsg = fmt.Sprintf("CRITICAL ERROR: %s. ROLLING BACK...", reason)
	s.diag.record(reason, s.now().UnixMilli())
	s.metrics.RecordRollback(reason)

	s.logger.Warn("rolling back",
		zap.String("version", s.staged),
		zap.String("reason", reason),
		zap.Int("integrity", s.integrity))

	staged := s.staged
	s.timer = time.AfterFunc(s.cfg.RollbackDelay, func() { s.completeRollback(tok, staged) })
}

func (s *Supervisor) completeRollback(tok uint64, staged string) {
	s.mu.Lock()
	if tok != s.token {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	// Only the staged version is popped. A hard reset may have replaced
	// the history in the meantime.
	if s.versions.Current().ID == staged {
		if _, err := s.versions.Rollback(context.Background()); err != nil {
			s.logger.Error("rollback failed", zap.String("version", staged), zap.Error(err))
		}
	}

	s.mu.Lock()
	if tok != s.token {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.rollingBack = false
	s.staged = ""
	s.setStatusLocked(StatusIdle)
	msg := s.errMsg
	if s.restore != nil {
		s.restore.Stop()
	}
	s.restore = time.AfterFunc(s.cfg.RestoreDelay, func() { s.restoreIntegrity(msg) })
	s.mu.Unlock()

	s.emit(EventStatus, "")
}

// restoreIntegrity ends the rollback sequence. The error is cleared only if
// nothing replaced it since.
func (s *Supervisor) restoreIntegrity(msg string) {
	s.mu.Lock()
	s.restore = nil
	s.setIntegrityLocked(MaxIntegrity)
	if s.errMsg == msg {
		s.errMsg = ""
	}
	s.mu.Unlock()
	s.emit(EventStatus, "")
}

// Rollback pops the head on request. It is refused while an update is in
// flight and never removes the last version.
func (s *Supervisor) Rollback(ctx context.Context) (*version.Version, error) {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	if status != StatusIdle {
		return nil, fmt.Errorf("%w: %s", ErrBusy, status)
	}
	// Store subscribers re-enter Snapshot, so the lock is not held here.
	return s.versions.Rollback(ctx)
}

// Exclusive runs fn as the one update in flight. It is refused with ErrBusy
// unless the supervisor is IDLE; the status reads UPDATING until fn returns.
func (s *Supervisor) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	if s.status != StatusIdle {
		status := s.status
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBusy, status)
	}
	s.setStatusLocked(StatusUpdating)
	s.exclusive = true
	s.mu.Unlock()
	s.emit(EventStatus, "")

	err := fn(ctx)

	s.mu.Lock()
	// Reset may have cleared the flag while fn ran.
	if s.exclusive {
		s.exclusive = false
		s.setStatusLocked(StatusIdle)
	}
	s.mu.Unlock()
	s.emit(EventStatus, "")
	return err
}

// Import replaces the history with an archive while no update is in flight.
func (s *Supervisor) Import(ctx context.Context, data []byte) error {
	return s.Exclusive(ctx, func(ctx context.Context) error {
		return s.versions.Import(ctx, data)
	})
}

// AppendStable sanitizes code and appends it as a confirmed version. It is
// allowed from IDLE or from inside Exclusive.
func (s *Supervisor) AppendStable(ctx context.Context, code, summary string) (version.Version, error) {
	s.mu.Lock()
	if s.status != StatusIdle && !s.exclusive {
		status := s.status
		s.mu.Unlock()
		return version.Version{}, fmt.Errorf("%w: %s", ErrBusy, status)
	}
	s.mu.Unlock()

	v := s.versions.New(sentinel.Sanitize(code), sentinel.CleanSummary(summary), true)
	if err := s.versions.Append(ctx, v); err != nil {
		return version.Version{}, fmt.Errorf("append stable: %w", err)
	}
	return v, nil
}

// Report asks the generator to describe the current head.
func (s *Supervisor) Report(ctx context.Context) (string, error) {
	code := s.versions.Current().Code
	start := time.Now()
	report, err := s.gen.GenerateReport(ctx, code, s.settings.Get())
	s.metrics.RecordGeneration("report", time.Since(start), err)
	if err != nil {
		if errors.Is(err, genai.ErrEmptyResponse) {
			return genai.EmptyReport, nil
		}
		return "", fmt.Errorf("report: %w", err)
	}
	report = sentinel.CleanReport(report)
	if report == "" {
		return genai.EmptyReport, nil
	}
	return report, nil
}

// Reset returns the supervisor to IDLE at full integrity and forgets the
// failure log.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	s.token++
	s.stopTimersLocked()
	s.rollingBack = false
	s.exclusive = false
	s.staged = ""
	s.errMsg = ""
	s.setIntegrityLocked(MaxIntegrity)
	s.setStatusLocked(StatusIdle)
	s.diag.reset()
	s.mu.Unlock()

	s.emit(EventStatus, "")
}
