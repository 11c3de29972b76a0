// Package repair recovers the outer shell.
//
// The supervisor's rollback handles a broken generated document. When the
// shell itself fails, the Boundary records the failure and offers three ways
// out: retry as-is, ask the generator to repair the current head (Controller),
// or wipe all durable state.
package repair

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/version"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/genai"
)

// ErrRepairInProgress is returned when a repair is requested while another
// one is running.
var ErrRepairInProgress = errors.New("repair already in progress")

// HeadSource exposes the last good code. *version.Store implements it; the
// head is confirmed whenever no update is in flight.
type HeadSource interface {
	Current() version.Version
}

// Stager serialises the repair with other updates and appends the result.
// *supervisor.Supervisor implements it.
type Stager interface {
	Exclusive(ctx context.Context, fn func(ctx context.Context) error) error
	AppendStable(ctx context.Context, code, summary string) (version.Version, error)
}

// Repairer is the generator call used for repairs.
type Repairer interface {
	Repair(ctx context.Context, code, errorMessage string) (genai.Result, error)
}

// Controller asks the generator to patch the current head after a crash.
type Controller struct {
	head    HeadSource
	stager  Stager
	gen     Repairer
	logger  *zap.Logger
	running atomic.Bool
}

// NewController creates a Controller.
func NewController(head HeadSource, stager Stager, gen Repairer, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{head: head, stager: stager, gen: gen, logger: logger}
}

// Running reports whether a repair is in flight.
func (c *Controller) Running() bool {
	return c.running.Load()
}

// Repair sends the confirmed head and errorMessage to the generator
// and appends the result as a stable version. It runs only while no other
// update is in flight. Failures are returned to the caller; nothing is
// retried.
func (c *Controller) Repair(ctx context.Context, errorMessage string) (version.Version, error) {
	if !c.running.CompareAndSwap(false, true) {
		return version.Version{}, ErrRepairInProgress
	}
	defer c.running.Store(false)

	var v version.Version
	err := c.stager.Exclusive(ctx, func(ctx context.Context) error {
		good := c.head.Current()
		c.logger.Info("repair requested",
			zap.String("base", good.ID),
			zap.String("error", errorMessage))

		start := time.Now()
		res, err := c.gen.Repair(ctx, good.Code, errorMessage)
		if err != nil {
			c.logger.Error("repair failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
			return err
		}
		if v, err = c.stager.AppendStable(ctx, res.Code, res.Summary); err != nil {
			return err
		}
		c.logger.Info("repair applied",
			zap.String("version", v.ID),
			zap.Duration("duration", time.Since(start)))
		return nil
	})
	if err != nil {
		return version.Version{}, fmt.Errorf("repair: %w", err)
	}
	return v, nil
}
