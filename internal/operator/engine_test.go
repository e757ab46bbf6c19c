package operator

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/pipez/internal/parameter"
	"github.com/alexisbeaulieu97/pipez/internal/port"
	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

// scriptedHandler records every callback and follows configurable behavior.
type scriptedHandler struct {
	mu    sync.Mutex
	calls []string

	initResults []bool
	steps       []Signal
	stepErrAt   int
	stepPanicAt int
	shutdownErr error
	errorPanics bool

	running    atomic.Int32
	errors     atomic.Int32
	interrupts atomic.Int32
}

func (h *scriptedHandler) record(call string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call)
}

func (h *scriptedHandler) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *scriptedHandler) OnInit(context.Context) (bool, error) {
	h.record("init")
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.initResults) == 0 {
		return true, nil
	}
	ready := h.initResults[0]
	h.initResults = h.initResults[1:]
	return ready, nil
}

func (h *scriptedHandler) OnRunning(context.Context) (Signal, error) {
	h.record("running")
	n := int(h.running.Add(1))
	if h.stepErrAt > 0 && n == h.stepErrAt {
		return SignalContinue, errors.New("broken pipe")
	}
	if h.stepPanicAt > 0 && n == h.stepPanicAt {
		panic("step exploded")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.steps) == 0 {
		return SignalDone, nil
	}
	s := h.steps[0]
	h.steps = h.steps[1:]
	return s, nil
}

func (h *scriptedHandler) OnShutdown(context.Context) (bool, error) {
	h.record("shutdown")
	return h.shutdownErr == nil, h.shutdownErr
}

func (h *scriptedHandler) OnInterrupt(os.Signal) {
	h.interrupts.Add(1)
}

func (h *scriptedHandler) OnError(error) {
	h.errors.Add(1)
	if h.errorPanics {
		panic("error handler exploded")
	}
}

type fakeInput struct {
	pending atomic.Bool
}

func (f *fakeInput) Name() string { return "input" }
func (f *fakeInput) Retrieve(context.Context) ([]port.Record, error) {
	return nil, nil
}
func (f *fakeInput) CanRetrieve() bool { return f.pending.Load() }

func newTestOperator(t *testing.T, h Handler, declare func(op *Operator) error) *Operator {
	t.Helper()
	op, err := New("worker", "test.worker", func(op *Operator) (Handler, error) {
		if declare != nil {
			if err := declare(op); err != nil {
				return nil, err
			}
		}
		return h, nil
	})
	require.NoError(t, err)
	require.NoError(t, op.AttachTo("demo"))
	return op
}

func runEngine(t *testing.T, engine *Engine) ([]State, error) {
	t.Helper()
	var mu sync.Mutex
	var states []State
	engine.OnTransition(func(tr Transition) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, tr.To)
	})
	err := engine.Run(context.Background())
	mu.Lock()
	defer mu.Unlock()
	return states, err
}

func fastOptions() Options {
	return Options{Idle: time.Millisecond, MaxInitAttempts: 5, MaxShutdownAttempts: 5, DrainTimeout: 50 * time.Millisecond}
}

func TestEngineHappyPath(t *testing.T) {
	t.Parallel()

	h := &scriptedHandler{steps: []Signal{SignalContinue, SignalContinue, SignalDone}}
	engine := NewEngine(newTestOperator(t, h, nil), fastOptions())

	states, err := runEngine(t, engine)
	require.NoError(t, err)
	assert.Equal(t, []State{StateInit, StateRunning, StateShuttingDown, StateTerminated}, states)
	assert.Equal(t, []string{"init", "running", "running", "running", "shutdown"}, h.Calls())
	assert.Equal(t, StateTerminated, engine.State())
	assert.Zero(t, h.errors.Load())
}

func TestEngineRetriesInit(t *testing.T) {
	t.Parallel()

	h := &scriptedHandler{initResults: []bool{false, false, true}}
	engine := NewEngine(newTestOperator(t, h, nil), fastOptions())

	_, err := runEngine(t, engine)
	require.NoError(t, err)
	assert.Equal(t, []string{"init", "init", "init", "running", "shutdown"}, h.Calls())
}

func TestEngineInitExhaustion(t *testing.T) {
	t.Parallel()

	h := &scriptedHandler{initResults: []bool{false, false, false, false, false, false}}
	engine := NewEngine(newTestOperator(t, h, nil), fastOptions())

	states, err := runEngine(t, engine)
	require.ErrorIs(t, err, pipezerrors.ErrInitExhausted)
	assert.Equal(t, []State{StateInit, StateErrored}, states)
	assert.Equal(t, int32(1), h.errors.Load())
}

func TestEngineStepErrorEndsErrored(t *testing.T) {
	t.Parallel()

	h := &scriptedHandler{steps: []Signal{SignalContinue, SignalContinue, SignalContinue}, stepErrAt: 3}
	engine := NewEngine(newTestOperator(t, h, nil), fastOptions())

	states, err := runEngine(t, engine)
	require.Error(t, err)

	var execErr *pipezerrors.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "running", execErr.Phase)
	assert.Equal(t, "demo.worker", execErr.Operator)
	assert.Equal(t, []State{StateInit, StateRunning, StateErrored}, states)
	assert.Equal(t, int32(1), h.errors.Load())
	assert.NotContains(t, h.Calls(), "shutdown")
	assert.Equal(t, err, engine.Err())
}

func TestEnginePanicIsAFault(t *testing.T) {
	t.Parallel()

	h := &scriptedHandler{stepPanicAt: 1, errorPanics: true}
	engine := NewEngine(newTestOperator(t, h, nil), fastOptions())

	states, err := runEngine(t, engine)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step exploded")
	assert.Equal(t, StateErrored, states[len(states)-1])
	assert.Equal(t, int32(1), h.errors.Load(), "a panicking error handler is swallowed")
}

func TestEngineShutdownFailure(t *testing.T) {
	t.Parallel()

	h := &scriptedHandler{shutdownErr: errors.New("flush failed")}
	engine := NewEngine(newTestOperator(t, h, nil), fastOptions())

	states, err := runEngine(t, engine)
	require.Error(t, err)
	assert.Equal(t, []State{StateInit, StateRunning, StateShuttingDown, StateErrored}, states)
}

func TestEnginePrepareConfigErrorBeforeAnyStep(t *testing.T) {
	t.Parallel()

	h := &scriptedHandler{}
	op := newTestOperator(t, h, func(op *Operator) error {
		return op.Declare(parameter.Parameter{Name: "count", AltName: "recordCount", Kind: parameter.Required, Type: parameter.TypeInt})
	})

	opts := fastOptions()
	opts.Prepare = func(context.Context) error {
		_, err := op.Resolve(nil)
		return err
	}
	engine := NewEngine(op, opts)

	states, err := runEngine(t, engine)
	require.ErrorIs(t, err, pipezerrors.ErrMissingRequired)

	var configErr *pipezerrors.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, []State{StateInit, StateErrored}, states)
	assert.Empty(t, h.Calls(), "no phase callback may run")
	assert.Equal(t, int32(1), h.errors.Load())
}

func TestEngineUndeterminedConsultsInputs(t *testing.T) {
	t.Parallel()

	in := &fakeInput{}
	in.pending.Store(true)

	steps := make([]Signal, 100)
	for i := range steps {
		steps[i] = SignalUndetermined
	}
	h := &scriptedHandler{steps: steps}
	op := newTestOperator(t, h, nil)
	op.BindInput("input", in)
	engine := NewEngine(op, fastOptions())

	go func() {
		time.Sleep(20 * time.Millisecond)
		in.pending.Store(false)
	}()

	_, err := runEngine(t, engine)
	require.NoError(t, err)
	assert.Greater(t, int(h.running.Load()), 1)
	assert.Less(t, int(h.running.Load()), 100)
}

func TestEngineInterruptIsCooperative(t *testing.T) {
	t.Parallel()

	steps := make([]Signal, 10000)
	for i := range steps {
		steps[i] = SignalContinue
	}
	h := &scriptedHandler{steps: steps}
	op := newTestOperator(t, h, nil)
	engine := NewEngine(op, fastOptions())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	require.Eventually(t, func() bool { return h.running.Load() > 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after interrupt")
	}
	assert.Equal(t, StateTerminated, engine.State())
	assert.True(t, engine.Interrupted())
	assert.Equal(t, int32(1), h.interrupts.Load())
	assert.Equal(t, "shutdown", h.Calls()[len(h.Calls())-1])
}

func TestEngineInterruptDuringInitSkipsRunning(t *testing.T) {
	t.Parallel()

	h := &scriptedHandler{}
	op := newTestOperator(t, h, nil)
	engine := NewEngine(op, fastOptions())
	engine.Interrupt(os.Interrupt)

	states, err := runEngine(t, engine)
	require.NoError(t, err)
	assert.Equal(t, []State{StateInit, StateShuttingDown, StateTerminated}, states)
	assert.Equal(t, []string{"shutdown"}, h.Calls())
}

func TestEngineRunsOnce(t *testing.T) {
	t.Parallel()

	engine := NewEngine(newTestOperator(t, &scriptedHandler{}, nil), fastOptions())
	require.NoError(t, engine.Run(context.Background()))
	require.Error(t, engine.Run(context.Background()))

	// Interrupts after termination are ignored.
	engine.Interrupt(os.Interrupt)
	<-engine.Done()
}

func TestEngineReleasesPortsOnEveryOutcome(t *testing.T) {
	t.Parallel()

	for _, h := range []*scriptedHandler{{}, {stepErrAt: 1}} {
		released := 0
		opts := fastOptions()
		opts.Release = func(context.Context) error {
			released++
			return nil
		}
		engine := NewEngine(newTestOperator(t, h, nil), opts)
		_ = engine.Run(context.Background())
		assert.Equal(t, 1, released)
	}
}

func TestCanTransitionIsMonotonic(t *testing.T) {
	t.Parallel()

	assert.True(t, CanTransition(StateNone, StateInit))
	assert.True(t, CanTransition(StateInit, StateErrored))
	assert.True(t, CanTransition(StateRunning, StateShuttingDown))
	assert.False(t, CanTransition(StateRunning, StateInit))
	assert.False(t, CanTransition(StateTerminated, StateRunning))
	assert.False(t, CanTransition(StateErrored, StateInit))
	assert.True(t, StateErrored.Terminal())
	assert.False(t, StateShuttingDown.Terminal())
}

func TestStateDisplayName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Terminated", StateTerminated.DisplayName())
	assert.Equal(t, "Errored", StateErrored.DisplayName())
	assert.Equal(t, "ShuttingDown", StateShuttingDown.DisplayName())
	assert.Equal(t, "odd", State("odd").DisplayName())
}
