package repair

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/version"
	"github.com/GriffinCanCode/NexusCore/backend/internal/shared/validation"
)

// ErrNotFailed is returned by Repair when there is no failure to repair.
var ErrNotFailed = errors.New("boundary is healthy")

// Kind is the boundary condition.
type Kind string

const (
	Healthy Kind = "HEALTHY"
	Failed  Kind = "FAILED"
)

// State is the boundary state.
type State struct {
	Kind      Kind
	Err       string
	Repairing bool
}

// View is the rendered boundary.
type View struct {
	Kind      Kind     `json:"kind"`
	Error     string   `json:"error,omitempty"`
	Repairing bool     `json:"repairing"`
	Actions   []string `json:"actions"`
}

// Render returns what the shell shows for s.
func (s State) Render() View {
	v := View{Kind: s.Kind, Error: s.Err, Repairing: s.Repairing, Actions: []string{}}
	if s.Kind == Failed && !s.Repairing {
		v.Actions = []string{"retry", "repair", "reset"}
	}
	return v
}

// ResetStep clears one piece of durable state during a hard reset.
type ResetStep struct {
	Name string
	Run  func(ctx context.Context) error
}

// Boundary tracks failures of the outer shell.
type Boundary struct {
	ctrl   *Controller
	steps  []ResetStep
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	observer func(State)
}

// NewBoundary creates a healthy boundary. steps run in order on HardReset.
func NewBoundary(ctrl *Controller, logger *zap.Logger, steps ...ResetStep) *Boundary {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Boundary{
		ctrl:   ctrl,
		steps:  steps,
		logger: logger,
		state:  State{Kind: Healthy},
	}
}

// Observe sets a callback invoked after every change.
func (b *Boundary) Observe(fn func(State)) {
	b.mu.Lock()
	b.observer = fn
	b.mu.Unlock()
}

// State returns the current state.
func (b *Boundary) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Boundary) set(s State) State {
	b.mu.Lock()
	b.state = s
	fn := b.observer
	b.mu.Unlock()
	if fn != nil {
		fn(s)
	}
	return s
}

// Fail records a shell failure.
func (b *Boundary) Fail(err error) State {
	msg := "unknown error"
	if err != nil {
		msg = validation.Truncate(err.Error(), validation.MaxErrorLength)
	}
	b.logger.Error("shell failure", zap.String("error", msg))

	b.mu.Lock()
	repairing := b.state.Repairing
	b.mu.Unlock()
	return b.set(State{Kind: Failed, Err: msg, Repairing: repairing})
}

// Retry clears the failure and lets the shell render again.
func (b *Boundary) Retry() State {
	return b.set(State{Kind: Healthy})
}

// Repair runs the repair controller against the recorded failure.
func (b *Boundary) Repair(ctx context.Context) (version.Version, error) {
	b.mu.Lock()
	cur := b.state
	if cur.Kind != Failed {
		b.mu.Unlock()
		return version.Version{}, ErrNotFailed
	}
	if cur.Repairing {
		b.mu.Unlock()
		return version.Version{}, ErrRepairInProgress
	}
	b.state.Repairing = true
	fn := b.observer
	b.mu.Unlock()
	if fn != nil {
		fn(State{Kind: Failed, Err: cur.Err, Repairing: true})
	}

	v, err := b.ctrl.Repair(ctx, cur.Err)
	if err != nil {
		b.set(State{Kind: Failed, Err: validation.Truncate(err.Error(), validation.MaxErrorLength)})
		return version.Version{}, err
	}
	b.set(State{Kind: Healthy})
	return v, nil
}

// HardReset clears every piece of durable state and returns the boundary to
// healthy. All steps run even if one fails.
func (b *Boundary) HardReset(ctx context.Context) error {
	var errs []error
	for _, step := range b.steps {
		if err := step.Run(ctx); err != nil {
			b.logger.Error("reset step failed", zap.String("step", step.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
		}
	}
	b.logger.Warn("hard reset", zap.Int("steps", len(b.steps)), zap.Int("failed", len(errs)))
	b.set(State{Kind: Healthy})
	return errors.Join(errs...)
}
