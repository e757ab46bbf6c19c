// Package port defines operator ports, their connection rules and the
// channel contract every transport implements.
package port

import (
	"fmt"
	"slices"

	"github.com/alexisbeaulieu97/pipez/internal/parameter"
	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

// Port parameter names declared on every port.
const (
	ParamChannelLocation = "channelLocation"
	ParamChannelConfig   = "channelConfig"
	ParamSendTimeout     = "sendTimeout"

	DefaultSendTimeoutSeconds = 5.0
)

// Role is the direction of a port.
type Role string

const (
	RoleInput  Role = "input"
	RoleOutput Role = "output"
)

// Schema is the opaque record schema of a port. An input accepts an output
// whose schema has the same name or a name it declared compatible.
type Schema struct {
	Name       string
	Compatible []string
}

// Accepts reports whether records of schema other may flow into s.
func (s Schema) Accepts(other Schema) bool {
	return s.Name == other.Name || slices.Contains(s.Compatible, other.Name)
}

// Owner is the operator a port belongs to.
type Owner interface {
	Name() string
	FullName() string
}

// Port is a declared attachment point. Connections are made before
// execution and never change at runtime.
type Port struct {
	name   string
	role   Role
	owner  Owner
	schema Schema
	params *parameter.Parameters

	peer  *Port
	peers []*Port
}

// New creates a port owned by owner with the standard channel parameters
// declared.
func New(owner Owner, name string, role Role, schema Schema) (*Port, error) {
	if name == "" {
		return nil, fmt.Errorf("port name is required")
	}
	if role != RoleInput && role != RoleOutput {
		return nil, fmt.Errorf("port %s: unknown role %q", name, role)
	}

	p := &Port{
		name:   name,
		role:   role,
		owner:  owner,
		schema: schema,
		params: parameter.New(ownerName(owner) + "." + name),
	}

	declarations := []parameter.Parameter{
		{Name: ParamChannelLocation, Kind: parameter.Optional, Type: parameter.TypeString, Description: "transport location, e.g. memory://local or kafka://host:9092"},
		{Name: ParamChannelConfig, Kind: parameter.Optional, Type: parameter.TypeMap, Description: "transport specific channel settings"},
		{Name: ParamSendTimeout, Kind: parameter.Optional, Type: parameter.TypeFloat, Default: DefaultSendTimeoutSeconds, Description: "seconds a send may wait on backpressure"},
	}
	for _, decl := range declarations {
		if err := p.params.Declare(decl); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func ownerName(owner Owner) string {
	if owner == nil {
		return ""
	}
	return owner.Name()
}

// Name returns the port name, unique within its operator.
func (p *Port) Name() string { return p.name }

// Role returns the port direction.
func (p *Port) Role() Role { return p.role }

// Schema returns the declared record schema.
func (p *Port) Schema() Schema { return p.schema }

// Owner returns the owning operator.
func (p *Port) Owner() Owner { return p.owner }

// Parameters returns the port's own parameter set.
func (p *Port) Parameters() *parameter.Parameters { return p.params }

// FullName returns <pipeline>.<operator>.<port>.
func (p *Port) FullName() string {
	if p.owner == nil {
		return p.name
	}
	return p.owner.FullName() + "." + p.name
}

// DeclareCompatible lets an input port accept records of another schema.
func (p *Port) DeclareCompatible(schemaName string) {
	p.schema.Compatible = append(p.schema.Compatible, schemaName)
}

// Connected reports whether the port has at least one peer.
func (p *Port) Connected() bool {
	return p.peer != nil || len(p.peers) > 0
}

// Upstream returns the output port feeding an input port, or nil.
func (p *Port) Upstream() *Port { return p.peer }

// Downstream returns the input ports fed by an output port.
func (p *Port) Downstream() []*Port {
	return append([]*Port(nil), p.peers...)
}

// Connect pairs an output port with an input port, in either argument order.
// The input side must be unconnected. Outputs may fan out.
func (p *Port) Connect(other *Port) error {
	if other == nil || other == p {
		return pipezerrors.NewConfigError(ownerName(p.owner), p.name, fmt.Errorf("%w: invalid peer", pipezerrors.ErrIncompatibleConnection))
	}

	out, in := p, other
	if p.role == RoleInput {
		out, in = other, p
	}
	if out.role != RoleOutput || in.role != RoleInput {
		return pipezerrors.NewConfigError(ownerName(p.owner), p.name, fmt.Errorf("%w: %s and %s are both %s ports", pipezerrors.ErrIncompatibleConnection, p.FullName(), other.FullName(), p.role))
	}
	if in.owner != nil && in.owner == out.owner {
		return pipezerrors.NewConfigError(ownerName(in.owner), in.name, fmt.Errorf("%w: operator cannot feed itself", pipezerrors.ErrIncompatibleConnection))
	}
	if in.peer != nil {
		return pipezerrors.NewConfigError(ownerName(in.owner), in.name, fmt.Errorf("%w: %s is already connected to %s", pipezerrors.ErrIncompatibleConnection, in.FullName(), in.peer.FullName()))
	}
	if !in.schema.Accepts(out.schema) {
		return pipezerrors.NewConfigError(ownerName(in.owner), in.name, fmt.Errorf("%w: schema %q does not accept %q", pipezerrors.ErrIncompatibleConnection, in.schema.Name, out.schema.Name))
	}

	in.peer = out
	out.peers = append(out.peers, in)
	return nil
}
