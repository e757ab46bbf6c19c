// Package executor runs every replica of a pipeline in-process and reports
// how each one ended.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/alexisbeaulieu97/pipez/internal/logger"
	"github.com/alexisbeaulieu97/pipez/internal/operator"
	"github.com/alexisbeaulieu97/pipez/internal/parameter"
	"github.com/alexisbeaulieu97/pipez/internal/pipeline"
	"github.com/alexisbeaulieu97/pipez/internal/port"
	"github.com/alexisbeaulieu97/pipez/internal/runtime"
	"github.com/alexisbeaulieu97/pipez/internal/transport"
)

// Executor runs pipelines locally, one goroutine per replica.
type Executor struct {
	registry        *operator.Registry
	dialer          *transport.Dialer
	logger          *logger.Logger
	observer        port.Observer
	engine          operator.Options
	defaultLocation string
	lookup          parameter.Lookup
}

// Option configures an executor instance.
type Option func(*Executor)

// WithLogger injects a logger into the executor.
func WithLogger(log *logger.Logger) Option {
	return func(e *Executor) {
		e.logger = log
	}
}

// WithDialer shares a transport dialer. The executor does not close it.
func WithDialer(d *transport.Dialer) Option {
	return func(e *Executor) {
		e.dialer = d
	}
}

// WithObserver injects a record flow observer.
func WithObserver(o port.Observer) Option {
	return func(e *Executor) {
		e.observer = o
	}
}

// WithEngineOptions overrides lifecycle retry settings.
func WithEngineOptions(opts operator.Options) Option {
	return func(e *Executor) {
		e.engine = opts
	}
}

// WithDefaultLocation sets the channel location of ports that have none.
func WithDefaultLocation(location string) Option {
	return func(e *Executor) {
		e.defaultLocation = location
	}
}

// WithLookup replaces the process environment for runtime templates.
func WithLookup(lookup parameter.Lookup) Option {
	return func(e *Executor) {
		e.lookup = lookup
	}
}

// New constructs an executor resolving operator types through registry.
func New(registry *operator.Registry, opts ...Option) *Executor {
	exec := &Executor{
		registry: registry,
	}
	for _, opt := range opts {
		opt(exec)
	}
	return exec
}

// InstanceResult describes how one replica ended.
type InstanceResult struct {
	Name        string
	State       operator.State
	Interrupted bool
	Err         error
	Logs        string
	Handler     operator.Handler
	Transitions []operator.Transition
}

// Report collects the outcome of every replica, in expansion order.
type Report struct {
	Pipeline  string
	Instances []InstanceResult
	Duration  time.Duration
}

// Instance returns the result of the named replica.
func (r *Report) Instance(fullName string) (InstanceResult, bool) {
	for _, inst := range r.Instances {
		if inst.Name == fullName {
			return inst, true
		}
	}
	return InstanceResult{}, false
}

// Failed returns the replicas that ended in Errored.
func (r *Report) Failed() []InstanceResult {
	var out []InstanceResult
	for _, inst := range r.Instances {
		if inst.State == operator.StateErrored {
			out = append(out, inst)
		}
	}
	return out
}

// Err combines the faults of every errored replica.
func (r *Report) Err() error {
	var err error
	for _, inst := range r.Failed() {
		err = multierr.Append(err, inst.Err)
	}
	return err
}

// Run executes every replica of p until all are terminal. Replica faults are
// reported, not returned; a failing replica never stops its siblings.
// Cancelling ctx interrupts every replica.
func (e *Executor) Run(ctx context.Context, p *pipeline.Pipeline) (*Report, error) {
	specs, err := p.Expand()
	if err != nil {
		return nil, err
	}

	log := e.logger
	if log == nil {
		log = logger.Nop()
	}

	dialer := e.dialer
	if dialer == nil {
		dialer = transport.NewDialer(transport.WithLogger(log))
		defer func() {
			if cerr := dialer.Close(); cerr != nil {
				log.Error(cerr, "close transports")
			}
		}()
	}

	opts := runtime.Options{
		Registry:        e.registry,
		Dialer:          dialer,
		DefaultLocation: e.defaultLocation,
		Engine:          e.engine,
		Logger:          e.logger,
		Observer:        e.observer,
		Lookup:          e.lookup,
	}

	units := make([]*runtime.Unit, len(specs))
	transitions := make([][]operator.Transition, len(specs))
	var mu sync.Mutex
	for i, spec := range specs {
		unit, err := runtime.New(spec, opts)
		if err != nil {
			return nil, fmt.Errorf("instance %s: %w", spec.FullName(), err)
		}
		unit.OnTransition(func(t operator.Transition) {
			mu.Lock()
			defer mu.Unlock()
			transitions[i] = append(transitions[i], t)
		})
		units[i] = unit
	}

	log.WithFields(map[string]any{"pipeline": p.Name(), "instances": len(units)}).Info("running pipeline")
	start := time.Now()

	var g errgroup.Group
	for _, unit := range units {
		g.Go(func() error {
			// The fault is kept on the unit and reported below.
			_ = unit.Run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{Pipeline: p.Name(), Duration: time.Since(start)}
	for i, unit := range units {
		mu.Lock()
		history := append([]operator.Transition(nil), transitions[i]...)
		mu.Unlock()
		report.Instances = append(report.Instances, InstanceResult{
			Name:        unit.FullName(),
			State:       unit.State(),
			Interrupted: unit.Interrupted(),
			Err:         unit.Err(),
			Logs:        unit.Logs(),
			Handler:     unit.Operator().Handler(),
			Transitions: history,
		})
	}
	return report, nil
}
