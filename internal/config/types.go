package config

// Document is the serialized form of a pipeline.
type Document struct {
	Version     string `yaml:"version,omitempty" validate:"omitempty,semver"`
	Name        string `yaml:"name" validate:"required,instance_name"`
	Description string `yaml:"description,omitempty"`
	// Parameters holds pipeline-scoped values keyed by path: ">>name" for
	// broadcast values or "<operator>.<name>" for targeted ones.
	Parameters   map[string]any `yaml:"parameters,omitempty"`
	Orchestrator any            `yaml:"orchestrator,omitempty"`
	Operators    []Operator     `yaml:"operators" validate:"required,min=1,dive"`
	Connections  []Connection   `yaml:"connections,omitempty" validate:"omitempty,dive"`
}

// Operator describes one operator instance.
type Operator struct {
	Name       string          `yaml:"name" validate:"required,instance_name"`
	Type       string          `yaml:"type" validate:"required,operator_type"`
	Parameters map[string]any  `yaml:"parameters,omitempty"`
	Ports      map[string]Port `yaml:"ports,omitempty" validate:"omitempty,dive"`
}

// Port carries the parameters of one port.
type Port struct {
	Parameters map[string]any `yaml:"parameters,omitempty"`
}

// Connection links <operator>.<port> of an output to that of an input.
type Connection struct {
	Output string `yaml:"output" validate:"required,port_ref"`
	Input  string `yaml:"input" validate:"required,port_ref"`
}

// OperatorIndex returns the position of the named operator, or -1.
func (d *Document) OperatorIndex(name string) int {
	for i, op := range d.Operators {
		if op.Name == name {
			return i
		}
	}
	return -1
}
