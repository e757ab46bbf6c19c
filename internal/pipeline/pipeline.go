// Package pipeline composes operators into a named, connected graph and
// expands it into per-replica instance specs.
package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alexisbeaulieu97/pipez/internal/operator"
	"github.com/alexisbeaulieu97/pipez/internal/parameter"
	"github.com/alexisbeaulieu97/pipez/internal/port"
	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

// BroadcastPrefix marks a parameter path that applies to every operator and
// port declaring the name.
const BroadcastPrefix = ">>"

// Connection links an output port to an input port, both as <operator>.<port>.
type Connection struct {
	Output string
	Input  string
}

// Pipeline is a named set of operators and the connections between them.
type Pipeline struct {
	name         string
	operators    []*operator.Operator
	byName       map[string]*operator.Operator
	connections  []Connection
	broadcast    map[string]any
	orchestrator any
}

// New creates an empty pipeline.
func New(name string) (*Pipeline, error) {
	if !operator.ValidName(name) {
		return nil, pipezerrors.NewValidationError("name", fmt.Sprintf("invalid pipeline name %q", name), nil)
	}
	return &Pipeline{
		name:      name,
		byName:    make(map[string]*operator.Operator),
		broadcast: make(map[string]any),
	}, nil
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// FullName returns the qualified name of the pipeline. Pipelines are roots,
// so it equals Name.
func (p *Pipeline) FullName() string { return p.name }

// Add places op in the pipeline. Instance names must be unique.
func (p *Pipeline) Add(ops ...*operator.Operator) error {
	for _, op := range ops {
		if op == nil {
			return fmt.Errorf("pipeline %s: nil operator", p.name)
		}
		if _, exists := p.byName[op.Name()]; exists {
			return fmt.Errorf("pipeline %s: %w: %s", p.name, pipezerrors.ErrDuplicateOperator, op.Name())
		}
		if err := op.AttachTo(p.name); err != nil {
			return err
		}
		p.byName[op.Name()] = op
		p.operators = append(p.operators, op)
	}
	return nil
}

// Operator returns the operator with the given instance name.
func (p *Pipeline) Operator(name string) (*operator.Operator, bool) {
	op, ok := p.byName[name]
	return op, ok
}

// Operators returns the operators in insertion order.
func (p *Pipeline) Operators() []*operator.Operator {
	return append([]*operator.Operator(nil), p.operators...)
}

// Connections returns the connections in the order they were made.
func (p *Pipeline) Connections() []Connection {
	return append([]Connection(nil), p.connections...)
}

// Broadcast returns the pipeline-scoped values without the prefix.
func (p *Pipeline) Broadcast() map[string]any {
	out := make(map[string]any, len(p.broadcast))
	for k, v := range p.broadcast {
		out[k] = v
	}
	return out
}

// Orchestrator returns the pipeline-wide orchestrator block.
func (p *Pipeline) Orchestrator() any { return p.orchestrator }

// Connect links two ports given as <operator>.<port> references.
func (p *Pipeline) Connect(outputRef, inputRef string) error {
	out, err := p.resolvePort(outputRef)
	if err != nil {
		return err
	}
	in, err := p.resolvePort(inputRef)
	if err != nil {
		return err
	}
	return p.ConnectPorts(out, in)
}

// ConnectPorts links two ports of operators in this pipeline. Arguments may
// be given in either order.
func (p *Pipeline) ConnectPorts(a, b *port.Port) error {
	for _, pt := range []*port.Port{a, b} {
		if pt == nil {
			return fmt.Errorf("pipeline %s: nil port", p.name)
		}
		if op, ok := p.byName[pt.Owner().Name()]; !ok || port.Owner(op) != pt.Owner() {
			return fmt.Errorf("pipeline %s: port %s belongs to another pipeline", p.name, pt.FullName())
		}
	}
	if err := a.Connect(b); err != nil {
		return err
	}

	out, in := a, b
	if a.Role() == port.RoleInput {
		out, in = b, a
	}
	p.connections = append(p.connections, Connection{Output: localRef(out), Input: localRef(in)})
	return nil
}

func localRef(pt *port.Port) string {
	return pt.Owner().Name() + "." + pt.Name()
}

func (p *Pipeline) resolvePort(ref string) (*port.Port, error) {
	opName, portName, ok := strings.Cut(ref, ".")
	if !ok {
		return nil, fmt.Errorf("pipeline %s: port reference %q must be <operator>.<port>", p.name, ref)
	}
	op, exists := p.byName[opName]
	if !exists {
		return nil, fmt.Errorf("pipeline %s: %w: %s", p.name, pipezerrors.ErrOperatorNotFound, opName)
	}
	pt, exists := op.Port(portName)
	if !exists {
		return nil, fmt.Errorf("pipeline %s: operator %s has no port %q", p.name, opName, portName)
	}
	return pt, nil
}

// SetParameter sets a value by path:
//   - ">>name" applies to every operator and port that declares name
//   - "operator.name" and "operator.port.name" target one slot
//   - "orchestrator" sets the pipeline-wide orchestrator block
func (p *Pipeline) SetParameter(path string, value any) error {
	if name, ok := strings.CutPrefix(path, BroadcastPrefix); ok {
		if name == "" {
			return fmt.Errorf("pipeline %s: empty broadcast parameter", p.name)
		}
		p.broadcast[name] = value
		return nil
	}
	if path == parameter.OrchestratorKey {
		p.orchestrator = value
		return nil
	}

	opName, rest, ok := strings.Cut(path, ".")
	if !ok {
		return fmt.Errorf("pipeline %s: parameter path %q needs an operator prefix or %q", p.name, path, BroadcastPrefix)
	}
	op, exists := p.byName[opName]
	if !exists {
		return fmt.Errorf("pipeline %s: %w: %s", p.name, pipezerrors.ErrOperatorNotFound, opName)
	}
	return op.SetParameter(rest, value)
}

// ExpectedParameters describes every operator's parameters, prefixed with
// the operator name, sorted by operator insertion order.
func (p *Pipeline) ExpectedParameters() []parameter.Descriptor {
	var out []parameter.Descriptor
	for _, op := range p.operators {
		for _, d := range op.ExpectedParameters() {
			d.Name = op.Name() + "." + d.Name
			out = append(out, d)
		}
	}
	return out
}

// broadcastNames returns the broadcast keys in a stable order.
func (p *Pipeline) broadcastNames() []string {
	names := make([]string, 0, len(p.broadcast))
	for name := range p.broadcast {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
