package pipeline

import (
	"fmt"
	"maps"

	"github.com/alexisbeaulieu97/pipez/internal/operator"
	"github.com/alexisbeaulieu97/pipez/internal/parameter"
	"github.com/alexisbeaulieu97/pipez/internal/port"
	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

// PortSpec is the merged configuration of one port of one replica.
type PortSpec struct {
	Name string    `json:"name" yaml:"name"`
	Role port.Role `json:"role" yaml:"role"`
	// Connected is false for ports without a peer.
	Connected bool `json:"connected" yaml:"connected"`
	// Channel is the full name of the output port producing into the channel.
	Channel string `json:"channel" yaml:"channel"`
	// Group is the consumer group of an input; replicas share it.
	Group string `json:"group,omitempty" yaml:"group,omitempty"`
	// Producer identifies the writer of an output replica.
	Producer string `json:"producer,omitempty" yaml:"producer,omitempty"`
	// Producers is the number of upstream replicas an input waits for.
	Producers int `json:"producers,omitempty" yaml:"producers,omitempty"`
	// Groups lists the consumer groups downstream of an output.
	Groups     []string       `json:"groups,omitempty" yaml:"groups,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// InstanceSpec is the serializable, merged but unresolved configuration of
// one operator replica.
type InstanceSpec struct {
	Pipeline     string         `json:"pipeline" yaml:"pipeline"`
	Operator     string         `json:"operator" yaml:"operator"`
	Name         string         `json:"name" yaml:"name"`
	Replica      int            `json:"replica" yaml:"replica"`
	Kind         string         `json:"kind" yaml:"kind"`
	Parameters   map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Ports        []PortSpec     `json:"ports,omitempty" yaml:"ports,omitempty"`
	Orchestrator any            `json:"orchestrator,omitempty" yaml:"orchestrator,omitempty"`
}

// FullName returns <pipeline>.<instance>.
func (s InstanceSpec) FullName() string {
	return s.Pipeline + "." + s.Name
}

// ReplicaName returns the instance name of replica i of operator name.
func ReplicaName(name string, i int) string {
	if i == 0 {
		return name
	}
	return fmt.Sprintf("%s_%d", name, i)
}

// Replicas returns the number of instances of op (replicationFactor + 1). A
// local replicationFactor wins over a broadcast one.
func (p *Pipeline) Replicas(op *operator.Operator) (int, error) {
	params, err := p.merge(op.Name(), op.Parameters())
	if err != nil {
		return 0, err
	}
	return replicasOf(op.Name(), params)
}

func replicasOf(owner string, params map[string]any) (int, error) {
	raw, ok := params[operator.ParamReplicationFactor]
	if !ok {
		return 1, nil
	}
	n, err := operator.ParseReplicationFactor(owner, raw)
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

// Expand merges broadcast values under operator-local values and returns one
// spec per replica, operators in insertion order.
func (p *Pipeline) Expand() ([]InstanceSpec, error) {
	if len(p.operators) == 0 {
		return nil, pipezerrors.NewValidationError("operators", fmt.Sprintf("pipeline %s has no operators", p.name), nil)
	}

	merged := make(map[string]map[string]any, len(p.operators))
	replicas := make(map[string]int, len(p.operators))
	for _, op := range p.operators {
		params, err := p.merge(op.Name(), op.Parameters())
		if err != nil {
			return nil, err
		}
		n, err := replicasOf(op.Name(), params)
		if err != nil {
			return nil, err
		}
		merged[op.Name()] = params
		replicas[op.Name()] = n
	}

	var specs []InstanceSpec
	for _, op := range p.operators {
		params := merged[op.Name()]
		orchestrator, hasLocal := params[parameter.OrchestratorKey]
		delete(params, parameter.OrchestratorKey)
		if !hasLocal {
			orchestrator = p.orchestrator
		}

		bases := make([]PortSpec, 0, len(op.Ports()))
		for _, pt := range op.Ports() {
			portParams, err := p.merge(op.Name()+"."+pt.Name(), pt.Parameters())
			if err != nil {
				return nil, err
			}
			spec := PortSpec{
				Name:       pt.Name(),
				Role:       pt.Role(),
				Connected:  pt.Connected(),
				Parameters: portParams,
			}
			switch pt.Role() {
			case port.RoleInput:
				spec.Group = pt.FullName()
				if up := pt.Upstream(); up != nil {
					spec.Channel = up.FullName()
					spec.Producers = replicas[up.Owner().Name()]
				}
			case port.RoleOutput:
				spec.Channel = pt.FullName()
				for _, down := range pt.Downstream() {
					spec.Groups = append(spec.Groups, down.FullName())
				}
			}
			bases = append(bases, spec)
		}

		for i := range replicas[op.Name()] {
			name := ReplicaName(op.Name(), i)
			instance := InstanceSpec{
				Pipeline:     p.name,
				Operator:     op.Name(),
				Name:         name,
				Replica:      i,
				Kind:         op.Kind(),
				Parameters:   maps.Clone(params),
				Orchestrator: orchestrator,
			}
			for _, spec := range bases {
				spec.Parameters = maps.Clone(spec.Parameters)
				spec.Groups = append([]string(nil), spec.Groups...)
				if spec.Role == port.RoleOutput {
					spec.Producer = p.name + "." + name + "." + spec.Name
				}
				instance.Ports = append(instance.Ports, spec)
			}
			specs = append(specs, instance)
		}
	}
	return specs, nil
}

// merge returns the explicit values of params with broadcast values filled in
// for declared names that have no local value.
func (p *Pipeline) merge(owner string, params *parameter.Parameters) (map[string]any, error) {
	merged := params.Explicit()
	for _, name := range p.broadcastNames() {
		decl, declared := params.Lookup(name)
		if !declared || params.IsSet(name) {
			continue
		}
		value := p.broadcast[name]
		if !parameter.IsTemplate(value) {
			coerced, err := parameter.Coerce(decl.Type, value)
			if err != nil {
				return nil, pipezerrors.NewConfigError(owner, decl.WireName(), err)
			}
			value = coerced
		}
		merged[decl.WireName()] = value
	}
	return merged, nil
}
