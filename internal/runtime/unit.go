// Package runtime materializes one operator replica from its instance spec:
// parameters are resolved, ports bound through the transport dialer and the
// lifecycle engine driven to a terminal state.
package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/multierr"

	"github.com/alexisbeaulieu97/pipez/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/pipez/internal/logger"
	"github.com/alexisbeaulieu97/pipez/internal/operator"
	"github.com/alexisbeaulieu97/pipez/internal/parameter"
	"github.com/alexisbeaulieu97/pipez/internal/pipeline"
	"github.com/alexisbeaulieu97/pipez/internal/port"
	"github.com/alexisbeaulieu97/pipez/internal/transport"
	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

// DefaultLocation is used by ports without a channelLocation.
const DefaultLocation = "memory://local"

// Options carries the collaborators shared by every unit of a run.
type Options struct {
	Registry *operator.Registry
	Dialer   *transport.Dialer
	// DefaultLocation replaces an empty channelLocation.
	DefaultLocation string
	Engine          operator.Options
	Logger          *logger.Logger
	Observer        port.Observer
	// Lookup is the base environment for runtime templates.
	Lookup parameter.Lookup
	// LogLines bounds the captured log of each unit.
	LogLines int
}

// Unit is one running replica.
type Unit struct {
	spec    pipeline.InstanceSpec
	opts    Options
	op      *operator.Operator
	engine  *operator.Engine
	logs    *logging.LogBuffer
	setErr  error
	outputs []*port.BoundOutput
	inputs  []*port.BoundInput
	bound   map[string]bool
}

// New builds a unit. Only an unknown operator type fails here; parameter
// problems surface when the unit runs, moving it to Errored.
func New(spec pipeline.InstanceSpec, opts Options) (*Unit, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("runtime: operator registry is required")
	}
	if opts.Dialer == nil {
		opts.Dialer = transport.NewDialer()
	}
	if opts.DefaultLocation == "" {
		opts.DefaultLocation = DefaultLocation
	}
	if opts.Logger == nil {
		// Captured logs still need an enabled logger.
		opts.Logger, _ = logger.New(logger.Options{Writer: io.Discard})
	}
	if opts.Observer == nil {
		opts.Observer = port.NopObserver()
	}
	if opts.Lookup == nil {
		opts.Lookup = parameter.EnvLookup()
	}

	op, err := opts.Registry.New(spec.Kind, spec.Name)
	if err != nil {
		return nil, err
	}
	if err := op.AttachTo(spec.Pipeline); err != nil {
		return nil, err
	}

	u := &Unit{
		spec:  spec,
		opts:  opts,
		op:    op,
		logs:  logging.NewLogBuffer(opts.LogLines),
		bound: make(map[string]bool),
	}
	u.setErr = u.configure()

	log := opts.Logger.With("operator", spec.FullName()).Tee(u.logs)
	op.SetLogger(log)

	engineOpts := opts.Engine
	engineOpts.Logger = log
	engineOpts.Prepare = u.prepare
	engineOpts.Release = u.release
	u.engine = operator.NewEngine(op, engineOpts)
	return u, nil
}

// configure applies the merged, unresolved values of the instance spec.
func (u *Unit) configure() error {
	var err error
	for name, value := range u.spec.Parameters {
		err = multierr.Append(err, u.op.Parameters().Set(name, value))
	}
	if u.spec.Orchestrator != nil {
		err = multierr.Append(err, u.op.Parameters().Set(parameter.OrchestratorKey, u.spec.Orchestrator))
	}
	for _, ps := range u.spec.Ports {
		pt, ok := u.op.Port(ps.Name)
		if !ok {
			err = multierr.Append(err, pipezerrors.NewConfigError(u.spec.FullName(), ps.Name, fmt.Errorf("operator type %s has no port %q", u.spec.Kind, ps.Name)))
			continue
		}
		for name, value := range ps.Parameters {
			err = multierr.Append(err, pt.Parameters().Set(name, value))
		}
	}
	return err
}

// Spec returns the instance spec the unit was built from.
func (u *Unit) Spec() pipeline.InstanceSpec { return u.spec }

// FullName returns <pipeline>.<instance>.
func (u *Unit) FullName() string { return u.spec.FullName() }

// Operator returns the materialized operator.
func (u *Unit) Operator() *operator.Operator { return u.op }

// State returns the lifecycle state of the engine.
func (u *Unit) State() operator.State { return u.engine.State() }

// Err returns the fault of an errored unit.
func (u *Unit) Err() error { return u.engine.Err() }

// Interrupted reports whether the unit was asked to stop.
func (u *Unit) Interrupted() bool { return u.engine.Interrupted() }

// Done is closed once Run returned.
func (u *Unit) Done() <-chan struct{} { return u.engine.Done() }

// Logs returns the captured log output.
func (u *Unit) Logs() string { return u.logs.String() }

// OnTransition registers a listener for engine transitions.
func (u *Unit) OnTransition(fn func(operator.Transition)) {
	u.engine.OnTransition(fn)
}

// Interrupt asks the unit to stop at its next opportunity.
func (u *Unit) Interrupt() {
	u.engine.Interrupt(os.Interrupt)
}

// Run drives the lifecycle to a terminal state.
func (u *Unit) Run(ctx context.Context) error {
	return u.engine.Run(ctx)
}

func (u *Unit) prepare(ctx context.Context) error {
	if u.setErr != nil {
		return u.setErr
	}

	lookup, err := u.lookup()
	if err != nil {
		return err
	}
	portValues, err := u.op.Resolve(lookup)
	if err != nil {
		return err
	}

	for _, ps := range u.spec.Ports {
		values := portValues[ps.Name]
		if err := u.bind(ctx, ps, values); err != nil {
			return err
		}
	}
	return nil
}

// lookup overlays the orchestrator's env entries on the base environment.
func (u *Unit) lookup() (parameter.Lookup, error) {
	vars, err := OrchestratorEnv(u.spec.Orchestrator)
	if err != nil {
		return nil, pipezerrors.NewConfigError(u.spec.FullName(), parameter.OrchestratorKey, err)
	}
	return parameter.Overlay(u.opts.Lookup, vars), nil
}

func (u *Unit) bind(ctx context.Context, ps pipeline.PortSpec, values parameter.Values) error {
	if !ps.Connected {
		if ps.Role == port.RoleInput {
			u.op.BindInput(ps.Name, idleInput{name: ps.Name})
		} else {
			u.op.BindOutput(ps.Name, discardOutput{name: ps.Name})
		}
		return nil
	}

	location := values.String(port.ParamChannelLocation)
	if location == "" {
		location = u.opts.DefaultLocation
	}
	t, err := u.opts.Dialer.Dial(location)
	if err != nil {
		return pipezerrors.NewConfigError(u.spec.FullName(), ps.Name+"."+port.ParamChannelLocation, err)
	}

	channel := port.ChannelSpec{
		Channel:   ps.Channel,
		Group:     ps.Group,
		Producer:  ps.Producer,
		Producers: ps.Producers,
		Groups:    ps.Groups,
		Timeout:   time.Duration(values.Float(port.ParamSendTimeout) * float64(time.Second)),
		Config:    values.Map(port.ParamChannelConfig),
	}

	switch ps.Role {
	case port.RoleOutput:
		w, err := t.OpenWriter(ctx, channel)
		if err != nil {
			return err
		}
		out := port.NewBoundOutput(ps.Name, ps.Channel, w, u.opts.Observer)
		u.outputs = append(u.outputs, out)
		u.bound[ps.Name] = true
		u.op.BindOutput(ps.Name, out)
	case port.RoleInput:
		r, err := t.OpenReader(ctx, channel)
		if err != nil {
			return err
		}
		in := port.NewBoundInput(ps.Name, ps.Channel, r, u.opts.Observer)
		u.inputs = append(u.inputs, in)
		u.op.BindInput(ps.Name, in)
	}
	return nil
}

// release closes outputs first so downstream readers learn this producer
// finished, then inputs. Connected outputs that never got bound, because the
// unit failed early, still announce their end.
func (u *Unit) release(ctx context.Context) error {
	var err error
	for _, out := range u.outputs {
		err = multierr.Append(err, out.Close(ctx))
	}
	for _, ps := range u.spec.Ports {
		if ps.Role == port.RoleOutput && ps.Connected && !u.bound[ps.Name] {
			err = multierr.Append(err, u.announceEnd(ctx, ps))
		}
	}
	for _, in := range u.inputs {
		err = multierr.Append(err, in.Close(ctx))
	}
	return err
}

func (u *Unit) announceEnd(ctx context.Context, ps pipeline.PortSpec) error {
	location := u.opts.DefaultLocation
	if raw, ok := ps.Parameters[port.ParamChannelLocation].(string); ok && raw != "" && !parameter.IsTemplate(raw) {
		location = raw
	}
	t, err := u.opts.Dialer.Dial(location)
	if err != nil {
		return err
	}
	w, err := t.OpenWriter(ctx, port.ChannelSpec{
		Channel:  ps.Channel,
		Producer: ps.Producer,
		Groups:   ps.Groups,
	})
	if err != nil {
		return err
	}
	return w.Close(ctx)
}

type idleInput struct{ name string }

func (i idleInput) Name() string                                    { return i.name }
func (i idleInput) Retrieve(context.Context) ([]port.Record, error) { return nil, nil }
func (i idleInput) CanRetrieve() bool                               { return false }

type discardOutput struct{ name string }

func (o discardOutput) Name() string                              { return o.name }
func (o discardOutput) Send(context.Context, []port.Record) error { return nil }
