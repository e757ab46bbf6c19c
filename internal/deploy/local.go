package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/alexisbeaulieu97/pipez/internal/logger"
	"github.com/alexisbeaulieu97/pipez/internal/operator"
	"github.com/alexisbeaulieu97/pipez/internal/parameter"
	"github.com/alexisbeaulieu97/pipez/internal/pipeline"
	"github.com/alexisbeaulieu97/pipez/internal/pipelineconv"
	"github.com/alexisbeaulieu97/pipez/internal/port"
	"github.com/alexisbeaulieu97/pipez/internal/ports"
	"github.com/alexisbeaulieu97/pipez/internal/runtime"
	"github.com/alexisbeaulieu97/pipez/internal/store"
	"github.com/alexisbeaulieu97/pipez/internal/transport"
	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

// Local deploys pipelines in-process, one goroutine per instance. Each
// deployment gets its own transports, closed on Destroy.
type Local struct {
	registry        *operator.Registry
	store           store.Store
	logger          *logger.Logger
	unitLogger      *logger.Logger
	publisher       ports.EventPublisher
	metrics         ports.MetricsCollector
	observer        port.Observer
	engine          operator.Options
	defaultLocation string
	lookup          parameter.Lookup
	dialerOpts      []transport.Option

	mu          sync.Mutex
	deployments map[string]*deployment
}

var _ Deployer = (*Local)(nil)

// Option configures a Local deployer.
type Option func(*Local)

// WithStore replaces the in-memory record store.
func WithStore(s store.Store) Option {
	return func(l *Local) {
		l.store = s
	}
}

// WithLogger injects a logger.
func WithLogger(log *logger.Logger) Option {
	return func(l *Local) {
		l.logger = log
	}
}

// WithPublisher publishes deployment events.
func WithPublisher(p ports.EventPublisher) Option {
	return func(l *Local) {
		l.publisher = p
	}
}

// WithMetrics records deployment metrics.
func WithMetrics(m ports.MetricsCollector) Option {
	return func(l *Local) {
		l.metrics = m
	}
}

// WithObserver counts records flowing through bound ports.
func WithObserver(o port.Observer) Option {
	return func(l *Local) {
		l.observer = o
	}
}

// WithEngineOptions overrides lifecycle retry settings.
func WithEngineOptions(opts operator.Options) Option {
	return func(l *Local) {
		l.engine = opts
	}
}

// WithDefaultLocation sets the channel location of ports that have none.
func WithDefaultLocation(location string) Option {
	return func(l *Local) {
		l.defaultLocation = location
	}
}

// WithLookup replaces the process environment for runtime templates.
func WithLookup(lookup parameter.Lookup) Option {
	return func(l *Local) {
		l.lookup = lookup
	}
}

// WithDialerOptions configures the transports of every deployment.
func WithDialerOptions(opts ...transport.Option) Option {
	return func(l *Local) {
		l.dialerOpts = append(l.dialerOpts, opts...)
	}
}

// NewLocal constructs a deployer resolving operator types through registry.
func NewLocal(registry *operator.Registry, opts ...Option) *Local {
	l := &Local{
		registry:    registry,
		deployments: make(map[string]*deployment),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.store == nil {
		l.store = store.NewMemory()
	}
	// A nil unit logger lets every unit build its own capturing logger.
	l.unitLogger = l.logger
	if l.logger == nil {
		l.logger = logger.Nop()
	}
	return l
}

type deployment struct {
	record  store.Record
	journal *journal
	dialer  *transport.Dialer
	opts    runtime.Options
	ctx     context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	instances map[string]*instance
	closing   bool
	wg        sync.WaitGroup
}

type instance struct {
	spec pipeline.InstanceSpec
	unit *runtime.Unit
}

func (d *deployment) instance(name string) (*instance, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	inst, ok := d.instances[name]
	return inst, ok
}

func (l *Local) IsDeployed(ctx context.Context, name string) (bool, error) {
	_, err := l.store.Get(ctx, name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, pipezerrors.NewDeploymentError(name, "", "is_deployed", err)
	}
}

func (l *Local) Deploy(ctx context.Context, p *pipeline.Pipeline) error {
	if p == nil {
		return fmt.Errorf("deploy: pipeline is nil")
	}
	name := p.Name()

	dep, err := l.register(ctx, p)
	if err != nil {
		return err
	}

	l.logger.WithFields(map[string]any{"pipeline": name, "deployment": dep.record.ID, "instances": len(dep.record.Instances)}).Info("pipeline deployed")
	l.publish(ctx, ports.EventPipelineDeployed, map[string]interface{}{
		"pipeline":   name,
		"deployment": dep.record.ID,
		"instances":  len(dep.record.Instances),
	})
	if l.metrics != nil {
		l.metrics.AddGauge(ctx, "pipez_pipelines_deployed", 1, nil)
	}

	for _, spec := range dep.record.Instances {
		inst, _ := dep.instance(spec.FullName())
		if err := l.start(dep, inst); err != nil {
			// Destroyed while starting.
			break
		}
	}
	return nil
}

// register builds every unit, stores the record and makes the deployment
// visible. Nothing runs yet.
func (l *Local) register(ctx context.Context, p *pipeline.Pipeline) (*deployment, error) {
	name := p.Name()

	l.mu.Lock()
	defer l.mu.Unlock()

	deployed, err := l.IsDeployed(ctx, name)
	if err != nil {
		return nil, err
	}
	if _, live := l.deployments[name]; deployed || live {
		return nil, pipezerrors.NewDeploymentError(name, "", "deploy", pipezerrors.ErrAlreadyDeployed)
	}

	specs, err := p.Expand()
	if err != nil {
		return nil, err
	}
	document, err := pipelineconv.Marshal(p)
	if err != nil {
		return nil, pipezerrors.NewDeploymentError(name, "", "deploy", err)
	}

	dialer := transport.NewDialer(append([]transport.Option{transport.WithLogger(l.logger)}, l.dialerOpts...)...)
	depCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	dep := &deployment{
		record: store.Record{
			ID:        uuid.NewString(),
			Pipeline:  name,
			Document:  document,
			Instances: specs,
			CreatedAt: time.Now().UTC(),
		},
		dialer: dialer,
		opts: runtime.Options{
			Registry:        l.registry,
			Dialer:          dialer,
			DefaultLocation: l.defaultLocation,
			Engine:          l.engine,
			Logger:          l.unitLogger,
			Observer:        l.observer,
			Lookup:          l.lookup,
		},
		ctx:       depCtx,
		cancel:    cancel,
		instances: make(map[string]*instance, len(specs)),
	}

	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		unit, err := runtime.New(spec, dep.opts)
		if err != nil {
			cancel()
			_ = dialer.Close()
			return nil, pipezerrors.NewDeploymentError(name, spec.FullName(), "deploy", err)
		}
		dep.instances[spec.FullName()] = &instance{spec: spec, unit: unit}
		names = append(names, spec.FullName())
	}
	dep.journal = newJournal(name, names)

	if err := l.store.Put(ctx, dep.record); err != nil {
		cancel()
		_ = dialer.Close()
		return nil, pipezerrors.NewDeploymentError(name, "", "deploy", err)
	}
	l.deployments[name] = dep
	return dep, nil
}

// start journals Pending and runs the instance's unit in the background. It
// refuses once Destroy has begun waiting for the deployment's units.
func (l *Local) start(dep *deployment, inst *instance) error {
	name := inst.spec.FullName()

	dep.mu.Lock()
	if dep.closing {
		dep.mu.Unlock()
		return pipezerrors.ErrNotDeployed
	}
	unit := inst.unit
	dep.wg.Add(1)
	dep.mu.Unlock()

	l.recordState(dep, name, StatePending)
	unit.OnTransition(func(t operator.Transition) {
		l.recordState(dep, name, FromTransition(t))
	})

	go func() {
		defer dep.wg.Done()
		if err := unit.Run(dep.ctx); err != nil {
			l.logger.With("operator", name).Debug(fmt.Sprintf("instance ended with error: %v", err))
		}
	}()
	return nil
}

func (l *Local) recordState(dep *deployment, instance string, to State) {
	change, ok := dep.journal.record(instance, to)
	if !ok {
		return
	}

	ctx := context.Background()
	l.publish(ctx, ports.EventOperatorStateChanged, map[string]interface{}{
		"pipeline": change.Pipeline,
		"operator": change.Operator,
		"from":     change.From.String(),
		"to":       change.To.String(),
		"seq":      change.Seq,
	})
	if l.metrics == nil {
		return
	}
	labels := map[string]string{"pipeline": change.Pipeline}
	l.metrics.IncCounter(ctx, "pipez_operator_state_changes_total", map[string]string{"pipeline": change.Pipeline, "state": change.To.String()})
	switch {
	case change.To == StateRunning:
		l.metrics.AddGauge(ctx, "pipez_operators_running", 1, labels)
	case change.From == StateRunning:
		l.metrics.AddGauge(ctx, "pipez_operators_running", -1, labels)
	}
}

func (l *Local) Attach(ctx context.Context, name string, fn OnStateChange) error {
	dep, ok := l.deployment(name)
	if !ok {
		return pipezerrors.NewDeploymentError(name, "", "attach", pipezerrors.ErrNotDeployed)
	}

	offset := 0
	for {
		changes, wait, settled := dep.journal.since(offset)
		for _, change := range changes {
			l.deliver(fn, change)
		}
		offset += len(changes)

		if len(changes) > 0 {
			// The callback may have restarted an instance.
			continue
		}
		if settled {
			return nil
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Local) deliver(fn OnStateChange, change StateChange) {
	if fn == nil {
		return
	}
	log := l.logger.WithFields(map[string]any{"operator": change.Operator, "state": change.To.String()})
	defer func() {
		if r := recover(); r != nil {
			log.Warn(fmt.Sprintf("state change callback panicked: %v", r))
		}
	}()
	if err := fn(change); err != nil {
		log.Error(err, "state change callback failed")
	}
}

func (l *Local) RetrieveOperatorLogs(_ context.Context, name string) (string, error) {
	dep, inst, ok := l.lookupInstance(name)
	if !ok || inst.unit == nil {
		return "", pipezerrors.NewDeploymentError(pipelineOf(name), name, "retrieve_logs", pipezerrors.ErrLogsUnavailable)
	}
	dep.mu.Lock()
	unit := inst.unit
	dep.mu.Unlock()
	return unit.Logs(), nil
}

func (l *Local) RestartOperator(ctx context.Context, name string) error {
	dep, inst, ok := l.lookupInstance(name)
	if !ok {
		return pipezerrors.NewDeploymentError(pipelineOf(name), name, "restart", pipezerrors.ErrOperatorNotFound)
	}

	dep.journal.hold()
	defer dep.journal.release()

	dep.mu.Lock()
	old, closing := inst.unit, dep.closing
	dep.mu.Unlock()
	if closing {
		return pipezerrors.NewDeploymentError(dep.record.Pipeline, name, "restart", pipezerrors.ErrNotDeployed)
	}

	old.Interrupt()
	select {
	case <-old.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	unit, err := runtime.New(inst.spec, dep.opts)
	if err != nil {
		return pipezerrors.NewDeploymentError(dep.record.Pipeline, name, "restart", err)
	}
	dep.mu.Lock()
	inst.unit = unit
	dep.mu.Unlock()

	if err := l.start(dep, inst); err != nil {
		return pipezerrors.NewDeploymentError(dep.record.Pipeline, name, "restart", err)
	}

	l.logger.With("operator", name).Info("operator restarted")
	l.publish(ctx, ports.EventOperatorRestarted, map[string]interface{}{
		"pipeline": dep.record.Pipeline,
		"operator": name,
	})
	if l.metrics != nil {
		l.metrics.IncCounter(ctx, "pipez_operator_restarts_total", map[string]string{"pipeline": dep.record.Pipeline})
	}
	return nil
}

func (l *Local) Destroy(ctx context.Context, name string) error {
	l.mu.Lock()
	dep, live := l.deployments[name]
	l.mu.Unlock()

	var err error
	if live {
		dep.mu.Lock()
		dep.closing = true
		for _, inst := range dep.instances {
			inst.unit.Interrupt()
		}
		dep.mu.Unlock()

		done := make(chan struct{})
		go func() {
			dep.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			return pipezerrors.NewDeploymentError(name, "", "destroy", ctx.Err())
		}

		dep.cancel()
		err = multierr.Append(err, dep.dialer.Close())
	}

	existed, ierr := l.IsDeployed(ctx, name)
	err = multierr.Append(err, ierr)
	if existed {
		err = multierr.Append(err, l.store.Delete(ctx, name))
	}

	l.mu.Lock()
	delete(l.deployments, name)
	l.mu.Unlock()

	if !live && !existed {
		return err
	}

	l.logger.With("pipeline", name).Info("pipeline destroyed")
	l.publish(ctx, ports.EventPipelineDestroyed, map[string]interface{}{"pipeline": name})
	if l.metrics != nil && existed {
		l.metrics.AddGauge(ctx, "pipez_pipelines_deployed", -1, nil)
	}
	if err != nil {
		return pipezerrors.NewDeploymentError(name, "", "destroy", err)
	}
	return nil
}

func (l *Local) RetrieveDeployedPipeline(ctx context.Context, name string) (*pipeline.Pipeline, error) {
	record, err := l.store.Get(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, pipezerrors.NewDeploymentError(name, "", "retrieve", pipezerrors.ErrNotDeployed)
	}
	if err != nil {
		return nil, pipezerrors.NewDeploymentError(name, "", "retrieve", err)
	}
	return pipelineconv.Unmarshal(record.Document, l.registry)
}

// States returns the latest state of every instance of a live deployment.
func (l *Local) States(name string) ([]InstanceState, bool) {
	dep, ok := l.deployment(name)
	if !ok {
		return nil, false
	}
	return dep.journal.states(), true
}

// History returns every journaled change of a live deployment.
func (l *Local) History(name string) ([]StateChange, bool) {
	dep, ok := l.deployment(name)
	if !ok {
		return nil, false
	}
	return dep.journal.history(), true
}

// Deployments returns the names of the live deployments.
func (l *Local) Deployments() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, 0, len(l.deployments))
	for name := range l.deployments {
		out = append(out, name)
	}
	return out
}

func (l *Local) deployment(name string) (*deployment, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dep, ok := l.deployments[name]
	return dep, ok
}

func (l *Local) lookupInstance(name string) (*deployment, *instance, bool) {
	dep, ok := l.deployment(pipelineOf(name))
	if !ok {
		return nil, nil, false
	}
	inst, ok := dep.instance(name)
	if !ok {
		return nil, nil, false
	}
	return dep, inst, true
}

func (l *Local) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(ctx, ports.Event{Type: eventType, Data: data}); err != nil {
		l.logger.Error(err, "publish event")
	}
}

// pipelineOf returns the pipeline part of an instance full name.
func pipelineOf(instance string) string {
	name, _, _ := strings.Cut(instance, ".")
	return name
}
