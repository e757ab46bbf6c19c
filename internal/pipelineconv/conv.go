// Package pipelineconv converts between composed pipelines and their
// configuration documents.
package pipelineconv

import (
	"fmt"
	"sort"

	"github.com/alexisbeaulieu97/pipez/internal/config"
	"github.com/alexisbeaulieu97/pipez/internal/operator"
	"github.com/alexisbeaulieu97/pipez/internal/pipeline"
	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

// ToDocument maps a pipeline to its document form. Explicit values are
// written as set, runtime templates included.
func ToDocument(p *pipeline.Pipeline) *config.Document {
	if p == nil {
		return &config.Document{}
	}

	doc := &config.Document{
		Name:         p.Name(),
		Orchestrator: p.Orchestrator(),
		Operators:    make([]config.Operator, 0, len(p.Operators())),
	}

	if broadcast := p.Broadcast(); len(broadcast) > 0 {
		doc.Parameters = make(map[string]any, len(broadcast))
		for name, value := range broadcast {
			doc.Parameters[pipeline.BroadcastPrefix+name] = value
		}
	}

	for _, op := range p.Operators() {
		entry := config.Operator{
			Name: op.Name(),
			Type: op.Kind(),
		}
		if params := op.Parameters().Explicit(); len(params) > 0 {
			entry.Parameters = params
		}
		for _, pt := range op.Ports() {
			params := pt.Parameters().Explicit()
			if len(params) == 0 {
				continue
			}
			if entry.Ports == nil {
				entry.Ports = make(map[string]config.Port)
			}
			entry.Ports[pt.Name()] = config.Port{Parameters: params}
		}
		doc.Operators = append(doc.Operators, entry)
	}

	for _, conn := range p.Connections() {
		doc.Connections = append(doc.Connections, config.Connection{Output: conn.Output, Input: conn.Input})
	}
	return doc
}

// FromDocument builds a pipeline from a document, instantiating operators
// through registry.
func FromDocument(doc *config.Document, registry *operator.Registry) (*pipeline.Pipeline, error) {
	if err := config.Validate(doc); err != nil {
		return nil, err
	}

	p, err := pipeline.New(doc.Name)
	if err != nil {
		return nil, err
	}

	for i, entry := range doc.Operators {
		op, err := registry.New(entry.Type, entry.Name)
		if err != nil {
			return nil, pipezerrors.NewValidationError(fmt.Sprintf("operators[%d].type", i), err.Error(), err)
		}
		for _, name := range sortedKeys(entry.Parameters) {
			if err := op.SetParameter(name, entry.Parameters[name]); err != nil {
				return nil, err
			}
		}
		for _, portName := range sortedKeys(entry.Ports) {
			pt, ok := op.Port(portName)
			if !ok {
				return nil, pipezerrors.NewValidationError(fmt.Sprintf("operators[%d].ports.%s", i, portName), fmt.Sprintf("operator type %s has no port %q", entry.Type, portName), nil)
			}
			params := entry.Ports[portName].Parameters
			for _, name := range sortedKeys(params) {
				if err := pt.Parameters().Set(name, params[name]); err != nil {
					return nil, err
				}
			}
		}
		if err := p.Add(op); err != nil {
			return nil, err
		}
	}

	for i, conn := range doc.Connections {
		if err := p.Connect(conn.Output, conn.Input); err != nil {
			return nil, pipezerrors.NewValidationError(fmt.Sprintf("connections[%d]", i), err.Error(), err)
		}
	}

	for _, path := range sortedKeys(doc.Parameters) {
		if err := p.SetParameter(path, doc.Parameters[path]); err != nil {
			return nil, err
		}
	}
	if doc.Orchestrator != nil {
		if err := p.SetParameter("orchestrator", doc.Orchestrator); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Load parses a document file and builds its pipeline.
func Load(path string, registry *operator.Registry) (*pipeline.Pipeline, error) {
	doc, err := config.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return FromDocument(doc, registry)
}

// Marshal renders a pipeline as YAML.
func Marshal(p *pipeline.Pipeline) ([]byte, error) {
	return config.Marshal(ToDocument(p))
}

// Unmarshal parses YAML into a pipeline.
func Unmarshal(data []byte, registry *operator.Registry) (*pipeline.Pipeline, error) {
	doc, err := config.Parse(data, "document")
	if err != nil {
		return nil, err
	}
	return FromDocument(doc, registry)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
