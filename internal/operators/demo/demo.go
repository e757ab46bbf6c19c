// Package demo provides a record writer and a record reader used by the
// examples and end-to-end tests.
package demo

import (
	"github.com/alexisbeaulieu97/pipez/internal/operator"
	"github.com/alexisbeaulieu97/pipez/internal/port"
)

// Operator type names.
const (
	WriterType = "demo.writer"
	ReaderType = "demo.reader"
)

// Port names.
const (
	OutputPort = "output"
	InputPort  = "input"
)

// TextSchema is the schema of {"text": string} records.
var TextSchema = port.Schema{Name: "demo.text"}

// Register adds the demo types to registry.
func Register(registry *operator.Registry) error {
	if err := registry.Register(operator.Metadata{
		Type:        WriterType,
		Version:     "1.0.0",
		Description: "Sends a fixed number of text records",
	}, NewWriter); err != nil {
		return err
	}
	return registry.Register(operator.Metadata{
		Type:        ReaderType,
		Version:     "1.0.0",
		Description: "Retrieves and logs text records, optionally failing after a count",
	}, NewReader)
}
