package operator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alexisbeaulieu97/pipez/internal/logger"
	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

const (
	DefaultMaxInitAttempts     = 600
	DefaultMaxShutdownAttempts = 600
	DefaultIdle                = 100 * time.Millisecond
	DefaultDrainTimeout        = 30 * time.Second
)

// Options tunes the engine's retry policy and hooks.
type Options struct {
	MaxInitAttempts     int
	MaxShutdownAttempts int
	// Idle is the pause between repeated OnInit/OnShutdown calls and after
	// an undetermined step that decided to continue.
	Idle time.Duration
	// DrainTimeout bounds how long an interrupted operator keeps running
	// while its inputs still report pending data.
	DrainTimeout time.Duration
	Logger       *logger.Logger

	// Prepare runs at the start of Init, before OnInit. Its failure is a
	// configuration error.
	Prepare func(ctx context.Context) error
	// Release runs once the engine reached a terminal state.
	Release func(ctx context.Context) error
}

func (o Options) withDefaults() Options {
	if o.MaxInitAttempts <= 0 {
		o.MaxInitAttempts = DefaultMaxInitAttempts
	}
	if o.MaxShutdownAttempts <= 0 {
		o.MaxShutdownAttempts = DefaultMaxShutdownAttempts
	}
	if o.Idle <= 0 {
		o.Idle = DefaultIdle
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	return o
}

// Engine drives one operator instance through its lifecycle. Exactly one
// phase callback runs at a time; only OnInterrupt may overlap.
type Engine struct {
	op      *Operator
	handler Handler
	opts    Options
	log     *logger.Logger

	mu        sync.Mutex
	state     State
	cause     error
	started   bool
	listeners []func(Transition)

	interrupted   atomic.Bool
	interruptedAt atomic.Int64
	interruptOnce sync.Once
	interruptCh   chan struct{}
	done          chan struct{}
}

// NewEngine prepares an engine for op.
func NewEngine(op *Operator, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		op:          op,
		handler:     op.Handler(),
		opts:        opts,
		log:         opts.Logger.With("operator", op.FullName()),
		interruptCh: make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// OnTransition registers a listener called synchronously, in order, on
// every state change.
func (e *Engine) OnTransition(fn func(Transition)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the fault that moved the engine to Errored.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cause
}

// Interrupted reports whether an interrupt was received.
func (e *Engine) Interrupted() bool {
	return e.interrupted.Load()
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Interrupt records an external termination request and runs OnInterrupt
// on the caller's goroutine. It never forces a transition; the running
// loop observes the flag.
func (e *Engine) Interrupt(sig os.Signal) {
	if e.State().Terminal() {
		return
	}
	if e.interrupted.CompareAndSwap(false, true) {
		e.interruptedAt.Store(time.Now().UnixNano())
	}
	e.interruptOnce.Do(func() { close(e.interruptCh) })

	defer func() {
		if r := recover(); r != nil {
			e.log.Warn(fmt.Sprintf("interrupt handler panicked: %v", r))
		}
	}()
	e.handler.OnInterrupt(sig)
}

// Run executes the lifecycle to completion. It returns nil when the
// operator terminated and the recorded fault when it errored. Cancelling
// ctx interrupts the operator; phase callbacks then receive a context that
// is no longer cancelled so shutdown can complete.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("operator %s: engine already started", e.op.FullName())
	}
	e.started = true
	e.mu.Unlock()
	defer close(e.done)

	stop := context.AfterFunc(ctx, func() { e.Interrupt(os.Interrupt) })
	defer stop()

	cbCtx := context.WithoutCancel(ctx)
	defer e.release(cbCtx)

	e.transition(StateInit)

	if e.opts.Prepare != nil {
		if err := e.opts.Prepare(cbCtx); err != nil {
			return e.fail("prepare", err)
		}
	}

	if err := e.runInit(cbCtx); err != nil {
		return err
	}
	if e.State() == StateRunning {
		if err := e.runRunning(cbCtx); err != nil {
			return err
		}
	}
	return e.runShutdown(cbCtx)
}

func (e *Engine) runInit(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		if e.interrupted.Load() {
			e.log.Info("interrupted during init")
			return nil
		}

		var ready bool
		err := e.call(func() error {
			var err error
			ready, err = e.handler.OnInit(ctx)
			return err
		})
		if err != nil {
			return e.fail("init", err)
		}
		if ready {
			e.transition(StateRunning)
			return nil
		}
		if attempt >= e.opts.MaxInitAttempts {
			return e.fail("init", pipezerrors.ErrInitExhausted)
		}
		e.pause()
	}
}

func (e *Engine) runRunning(ctx context.Context) error {
	for {
		if e.interrupted.Load() && e.drained() {
			return nil
		}

		var signal Signal
		err := e.call(func() error {
			var err error
			signal, err = e.handler.OnRunning(ctx)
			return err
		})
		if err != nil {
			return e.fail("running", err)
		}

		switch signal {
		case SignalDone:
			return nil
		case SignalUndetermined:
			if !e.inputsPending() {
				return nil
			}
			e.pause()
		default:
			runtime.Gosched()
		}
	}
}

func (e *Engine) runShutdown(ctx context.Context) error {
	if !e.transition(StateShuttingDown) {
		return e.Err()
	}
	if e.interrupted.Load() {
		e.log.Debug("shutting down after interrupt")
	}

	for attempt := 1; ; attempt++ {
		var finished bool
		err := e.call(func() error {
			var err error
			finished, err = e.handler.OnShutdown(ctx)
			return err
		})
		if err != nil {
			return e.fail("shutdown", err)
		}
		if finished {
			e.transition(StateTerminated)
			return nil
		}
		if attempt >= e.opts.MaxShutdownAttempts {
			return e.fail("shutdown", pipezerrors.ErrShutdownExhausted)
		}
		e.pause()
	}
}

// drained reports whether an interrupted operator may stop running.
func (e *Engine) drained() bool {
	if !e.inputsPending() {
		return true
	}
	since := time.Since(time.Unix(0, e.interruptedAt.Load()))
	return since >= e.opts.DrainTimeout
}

func (e *Engine) inputsPending() bool {
	for _, in := range e.op.BoundInputs() {
		if in.CanRetrieve() {
			return true
		}
	}
	return false
}

// pause waits Idle, or until an interrupt arrives. Once interrupted it waits
// the full Idle so draining does not spin.
func (e *Engine) pause() {
	timer := time.NewTimer(e.opts.Idle)
	defer timer.Stop()
	interrupt := e.interruptCh
	if e.interrupted.Load() {
		interrupt = nil
	}
	select {
	case <-timer.C:
	case <-interrupt:
	}
}

// call runs one phase callback, converting a panic into an error.
func (e *Engine) call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// fail records the fault, gives the handler its best-effort OnError and
// moves to Errored.
func (e *Engine) fail(phase string, err error) error {
	var configErr *pipezerrors.ConfigError
	if phase != "prepare" || !errors.As(err, &configErr) {
		err = pipezerrors.NewExecutionError(e.op.FullName(), phase, err)
	}

	e.mu.Lock()
	e.cause = err
	e.mu.Unlock()

	e.log.Error(err, "operator failed")
	e.notifyError(err)
	e.transition(StateErrored)
	return err
}

func (e *Engine) notifyError(err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn(fmt.Sprintf("error handler panicked: %v", r))
		}
	}()
	e.handler.OnError(err)
}

func (e *Engine) release(ctx context.Context) {
	if e.opts.Release == nil {
		return
	}
	if err := e.opts.Release(ctx); err != nil {
		e.log.Error(err, "release ports")
	}
}

// transition applies a forward state change and notifies listeners. An
// illegal change is refused and reported as false.
func (e *Engine) transition(to State) bool {
	e.mu.Lock()
	from := e.state
	if !CanTransition(from, to) {
		e.mu.Unlock()
		e.log.Warn(fmt.Sprintf("refused transition %s -> %s", from, to))
		return false
	}
	e.state = to
	listeners := slices.Clone(e.listeners)
	t := Transition{
		Operator:    e.op.FullName(),
		From:        from,
		To:          to,
		At:          time.Now(),
		Interrupted: e.interrupted.Load(),
		Cause:       e.cause,
	}
	e.mu.Unlock()

	e.log.Debug(fmt.Sprintf("state %s -> %s", from, to))
	for _, fn := range listeners {
		fn(t)
	}
	return true
}
