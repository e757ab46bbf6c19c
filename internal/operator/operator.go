// Package operator implements operator instances, their lifecycle engine and
// the registry of operator types.
package operator

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/alexisbeaulieu97/pipez/internal/logger"
	"github.com/alexisbeaulieu97/pipez/internal/parameter"
	"github.com/alexisbeaulieu97/pipez/internal/port"
	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

// Parameters declared on every operator.
const (
	ParamReplicationFactor = "replicationFactor"
	ParamOperatorImageName = "operatorImageName"
)

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// ValidName reports whether name can be used as an operator or pipeline
// instance name. Dots are reserved for full names.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Factory declares an operator's parameters and ports on op and returns the
// handler that implements its phases.
type Factory func(op *Operator) (Handler, error)

// Operator is one named unit of work. Its name never changes after
// construction and each port belongs to exactly one operator.
type Operator struct {
	name     string
	kind     string
	pipeline string

	params  *parameter.Parameters
	inputs  []*port.Port
	outputs []*port.Port
	handler Handler
	log     *logger.Logger

	mu       sync.RWMutex
	values   parameter.Values
	boundIn  map[string]port.InputPort
	boundOut map[string]port.OutputPort
}

// New constructs an operator and runs factory to declare its schema.
func New(name, kind string, factory Factory) (*Operator, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("invalid operator name %q: use letters, digits, '_' or '-'", name)
	}
	if factory == nil {
		return nil, fmt.Errorf("operator %s: factory is nil", name)
	}

	op := &Operator{
		name:     name,
		kind:     kind,
		params:   parameter.New(name),
		log:      logger.Nop(),
		boundIn:  make(map[string]port.InputPort),
		boundOut: make(map[string]port.OutputPort),
	}

	builtins := []parameter.Parameter{
		{Name: ParamReplicationFactor, Kind: parameter.Optional, Type: parameter.TypeInt, Default: 0, Description: "additional identical instances to run"},
		{Name: ParamOperatorImageName, Kind: parameter.Optional, Type: parameter.TypeString, Description: "image the orchestrator runs this operator from"},
	}
	for _, p := range builtins {
		if err := op.params.Declare(p); err != nil {
			return nil, err
		}
	}

	handler, err := factory(op)
	if err != nil {
		return nil, fmt.Errorf("build operator %s: %w", name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("build operator %s: factory returned no handler", name)
	}
	op.handler = handler
	return op, nil
}

// Name returns the instance name.
func (o *Operator) Name() string { return o.name }

// Kind returns the registered operator type.
func (o *Operator) Kind() string { return o.kind }

// Pipeline returns the owning pipeline name, if any.
func (o *Operator) Pipeline() string { return o.pipeline }

// FullName returns <pipeline>.<operator>.
func (o *Operator) FullName() string {
	if o.pipeline == "" {
		return o.name
	}
	return o.pipeline + "." + o.name
}

// AttachTo records the owning pipeline. An operator belongs to one pipeline.
func (o *Operator) AttachTo(pipeline string) error {
	if o.pipeline != "" && o.pipeline != pipeline {
		return fmt.Errorf("operator %s already belongs to pipeline %s", o.name, o.pipeline)
	}
	o.pipeline = pipeline
	return nil
}

// Handler returns the business logic of the operator.
func (o *Operator) Handler() Handler { return o.handler }

// Logger returns the operator's logger.
func (o *Operator) Logger() *logger.Logger { return o.log }

// SetLogger replaces the operator's logger.
func (o *Operator) SetLogger(log *logger.Logger) {
	if log != nil {
		o.log = log
	}
}

// Parameters returns the operator-level parameter set.
func (o *Operator) Parameters() *parameter.Parameters { return o.params }

// Declare registers an operator-level parameter.
func (o *Operator) Declare(p parameter.Parameter) error {
	return o.params.Declare(p)
}

// AddInput declares an input port.
func (o *Operator) AddInput(name string, schema port.Schema) (*port.Port, error) {
	return o.addPort(name, port.RoleInput, schema)
}

// AddOutput declares an output port.
func (o *Operator) AddOutput(name string, schema port.Schema) (*port.Port, error) {
	return o.addPort(name, port.RoleOutput, schema)
}

func (o *Operator) addPort(name string, role port.Role, schema port.Schema) (*port.Port, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("operator %s: invalid port name %q", o.name, name)
	}
	if _, exists := o.Port(name); exists {
		return nil, fmt.Errorf("operator %s: port %q already declared", o.name, name)
	}
	p, err := port.New(o, name, role, schema)
	if err != nil {
		return nil, err
	}
	if role == port.RoleInput {
		o.inputs = append(o.inputs, p)
	} else {
		o.outputs = append(o.outputs, p)
	}
	return p, nil
}

// Port looks up a declared port.
func (o *Operator) Port(name string) (*port.Port, bool) {
	for _, p := range o.Ports() {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Inputs returns the declared input ports in order.
func (o *Operator) Inputs() []*port.Port { return append([]*port.Port(nil), o.inputs...) }

// Outputs returns the declared output ports in order.
func (o *Operator) Outputs() []*port.Port { return append([]*port.Port(nil), o.outputs...) }

// Ports returns inputs followed by outputs.
func (o *Operator) Ports() []*port.Port {
	all := make([]*port.Port, 0, len(o.inputs)+len(o.outputs))
	all = append(all, o.inputs...)
	return append(all, o.outputs...)
}

// SetParameter sets an operator parameter, or a port parameter when path
// has the form <port>.<name>.
func (o *Operator) SetParameter(path string, value any) error {
	if portName, name, ok := strings.Cut(path, "."); ok {
		p, exists := o.Port(portName)
		if !exists {
			return pipezerrors.NewConfigError(o.name, path, fmt.Errorf("unknown port %q", portName))
		}
		return p.Parameters().Set(name, value)
	}
	return o.params.Set(path, value)
}

// ReplicationFactor returns the number of additional instances requested.
func (o *Operator) ReplicationFactor() (int, error) {
	raw, ok := o.params.Explicit()[ParamReplicationFactor]
	if !ok {
		return 0, nil
	}
	return ParseReplicationFactor(o.name, raw)
}

// ParseReplicationFactor validates a replicationFactor value set on owner.
func ParseReplicationFactor(owner string, raw any) (int, error) {
	// Instance count is fixed at deployment, before any environment exists.
	if parameter.IsTemplate(raw) {
		return 0, pipezerrors.NewConfigError(owner, ParamReplicationFactor, fmt.Errorf("cannot be a runtime template"))
	}
	n, err := parameter.Coerce(parameter.TypeInt, raw)
	if err != nil {
		return 0, pipezerrors.NewConfigError(owner, ParamReplicationFactor, err)
	}
	if n.(int) < 0 {
		return 0, pipezerrors.NewConfigError(owner, ParamReplicationFactor, fmt.Errorf("must not be negative, got %d", n))
	}
	return n.(int), nil
}

// ExpectedParameters describes the operator's parameters followed by those
// of each port, prefixed with the port name.
func (o *Operator) ExpectedParameters() []parameter.Descriptor {
	out := o.params.Expected()
	for _, p := range o.Ports() {
		out = append(out, p.Parameters().ExpectedWithPrefix(p.Name()+".")...)
	}
	return out
}

// Resolve resolves the operator's parameters and those of its ports. The
// operator values are kept for Values; port values are returned by port name.
func (o *Operator) Resolve(lookup parameter.Lookup) (map[string]parameter.Values, error) {
	values, err := o.params.Resolve(lookup)
	if err != nil {
		return nil, err
	}

	ports := make(map[string]parameter.Values, len(o.inputs)+len(o.outputs))
	for _, p := range o.Ports() {
		pv, err := p.Parameters().Resolve(lookup)
		if err != nil {
			return nil, err
		}
		ports[p.Name()] = pv
	}

	o.mu.Lock()
	o.values = values
	o.mu.Unlock()
	return ports, nil
}

// Values returns the resolved operator parameters.
func (o *Operator) Values() parameter.Values {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.values
}

// BindInput attaches a live input to a declared input port.
func (o *Operator) BindInput(name string, in port.InputPort) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.boundIn[name] = in
}

// BindOutput attaches a live output to a declared output port.
func (o *Operator) BindOutput(name string, out port.OutputPort) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.boundOut[name] = out
}

// Input returns the bound input port, or nil before binding.
func (o *Operator) Input(name string) port.InputPort {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.boundIn[name]
}

// Output returns the bound output port, or nil before binding.
func (o *Operator) Output(name string) port.OutputPort {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.boundOut[name]
}

// BoundInputs returns every bound input.
func (o *Operator) BoundInputs() []port.InputPort {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]port.InputPort, 0, len(o.boundIn))
	for _, in := range o.boundIn {
		out = append(out, in)
	}
	return out
}
