package repair

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/sentinel"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/supervisor"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/version"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/genai"
	"github.com/GriffinCanCode/NexusCore/backend/internal/shared/testutil"
)

type fixture struct {
	versions *version.Store
	gen      *testutil.MockGenerator
	sup      *supervisor.Supervisor
	ctrl     *Controller
}

func newFixture(t *testing.T, opts ...supervisor.Option) *fixture {
	t.Helper()
	versions := testutil.NewVersionStore(t)
	gen := testutil.NewMockGenerator(t)
	sup := supervisor.New(versions, gen, opts...)
	t.Cleanup(sup.Close)
	return &fixture{versions: versions, gen: gen, sup: sup, ctrl: NewController(versions, sup, gen, nil)}
}

func TestRepairAppendsStableVersion(t *testing.T) {
	f := newFixture(t)
	head := f.versions.Current()

	f.gen.On("Repair", mock.Anything, head.Code, "render exploded").
		Return(testutil.GeneratedResult("repaired"), nil).Once()

	v, err := f.ctrl.Repair(context.Background(), "render exploded")
	require.NoError(t, err)

	assert.True(t, v.IsStable)
	assert.True(t, sentinel.HasPrologue(v.Code))
	assert.Equal(t, v.ID, f.versions.Current().ID)
	assert.Equal(t, 2, f.versions.Len())
	assert.False(t, f.ctrl.Running())
}

func TestRepairFailureIsReturned(t *testing.T) {
	f := newFixture(t)

	f.gen.On("Repair", mock.Anything, mock.Anything, mock.Anything).
		Return(genai.Result{}, genai.ErrInvalidResponse).Once()

	_, err := f.ctrl.Repair(context.Background(), "boom")
	assert.ErrorIs(t, err, genai.ErrInvalidResponse)
	assert.Equal(t, 1, f.versions.Len())
}

func TestRepairInProgress(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	started := make(chan struct{})

	f.gen.On("Repair", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(testutil.GeneratedResult("slow"), nil).Once()

	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Repair(context.Background(), "boom")
		done <- err
	}()
	<-started

	_, err := f.ctrl.Repair(context.Background(), "boom")
	assert.ErrorIs(t, err, ErrRepairInProgress)

	close(release)
	assert.NoError(t, <-done)
}

func TestRepairRefusedWhileVersionIsStaged(t *testing.T) {
	f := newFixture(t, supervisor.WithConfig(supervisor.Config{
		RecoveryTimeout: 20 * time.Millisecond,
		RollbackDelay:   time.Millisecond,
		RestoreDelay:    time.Hour,
	}))
	genesis := f.versions.Current()

	f.gen.On("Evolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(testutil.GeneratedResult("staged"), nil).Once()
	require.NoError(t, f.sup.SubmitCapture(context.Background(), genai.Instruction{Text: "add a clock"}))
	staged := f.versions.Current()
	require.Equal(t, supervisor.StatusReplicating, f.sup.Snapshot().Status)

	_, err := f.ctrl.Repair(context.Background(), "shell crashed")
	assert.ErrorIs(t, err, supervisor.ErrBusy)
	assert.False(t, f.ctrl.Running())

	require.Eventually(t, func() bool {
		return f.sup.Snapshot().Status == supervisor.StatusIdle
	}, 2*time.Second, 5*time.Millisecond)

	_, stillThere := f.versions.Get(staged.ID)
	assert.False(t, stillThere)
	assert.Equal(t, genesis.ID, f.versions.Current().ID)
	assert.Equal(t, 1, f.versions.Len())
}

func TestRepairHoldsTheSupervisor(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	started := make(chan struct{})

	f.gen.On("Repair", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(testutil.GeneratedResult("slow"), nil).Once()

	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Repair(context.Background(), "boom")
		done <- err
	}()
	<-started

	assert.Equal(t, supervisor.StatusUpdating, f.sup.Snapshot().Status)
	assert.ErrorIs(t, f.sup.BeginCapture(), supervisor.ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, supervisor.StatusIdle, f.sup.Snapshot().Status)
}

func TestBoundaryRetry(t *testing.T) {
	b := NewBoundary(newFixture(t).ctrl, nil)

	s := b.Fail(errors.New("cannot read property map of undefined"))
	assert.Equal(t, Failed, s.Kind)
	assert.Equal(t, []string{"retry", "repair", "reset"}, s.Render().Actions)

	s = b.Retry()
	assert.Equal(t, Healthy, s.Kind)
	assert.Empty(t, s.Render().Actions)
}

func TestBoundaryRepair(t *testing.T) {
	f := newFixture(t)
	b := NewBoundary(f.ctrl, nil)

	_, err := b.Repair(context.Background())
	assert.ErrorIs(t, err, ErrNotFailed)

	var seen []State
	b.Observe(func(s State) { seen = append(seen, s) })

	b.Fail(errors.New("shell crashed"))
	f.gen.On("Repair", mock.Anything, mock.Anything, "shell crashed").
		Return(testutil.GeneratedResult("repaired"), nil).Once()

	v, err := b.Repair(context.Background())
	require.NoError(t, err)
	assert.Equal(t, v.ID, f.versions.Current().ID)
	assert.Equal(t, Healthy, b.State().Kind)

	require.Len(t, seen, 3)
	assert.True(t, seen[1].Repairing)
	assert.Equal(t, Healthy, seen[2].Kind)
}

func TestBoundaryRepairFailureStaysFailed(t *testing.T) {
	f := newFixture(t)
	b := NewBoundary(f.ctrl, nil)

	b.Fail(errors.New("shell crashed"))
	f.gen.On("Repair", mock.Anything, mock.Anything, mock.Anything).
		Return(genai.Result{}, errors.New("quota exceeded")).Once()

	_, err := b.Repair(context.Background())
	require.Error(t, err)

	s := b.State()
	assert.Equal(t, Failed, s.Kind)
	assert.False(t, s.Repairing)
	assert.Contains(t, s.Err, "quota exceeded")
}

func TestHardResetRunsEveryStep(t *testing.T) {
	var ran []string
	step := func(name string, err error) ResetStep {
		return ResetStep{Name: name, Run: func(context.Context) error {
			ran = append(ran, name)
			return err
		}}
	}
	b := NewBoundary(nil, nil,
		step("versions", nil),
		step("conduit", errors.New("disk full")),
		step("settings", nil),
	)
	b.Fail(errors.New("boom"))

	err := b.HardReset(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conduit: disk full")
	assert.Equal(t, []string{"versions", "conduit", "settings"}, ran)
	assert.Equal(t, Healthy, b.State().Kind)
}
