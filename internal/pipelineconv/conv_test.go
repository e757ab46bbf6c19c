package pipelineconv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/pipez/internal/operator"
	"github.com/alexisbeaulieu97/pipez/internal/operators/demo"
	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

const demoDocument = `version: "1.0.0"
name: demo
description: writer feeding a reader
parameters:
  ">>channelLocation": memory://local
  writer.message: hello
orchestrator:
  env:
    - name: RECORDS
      value: "5"
operators:
  - name: writer
    type: demo.writer
    parameters:
      recordCount: $(env:RECORDS)
      replicationFactor: 1
    ports:
      output:
        parameters:
          sendTimeout: 2.5
  - name: reader
    type: demo.reader
connections:
  - output: writer.output
    input: reader.input
`

func newRegistry(t *testing.T) *operator.Registry {
	t.Helper()
	registry := operator.NewRegistry(nil)
	require.NoError(t, demo.Register(registry))
	return registry
}

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadBuildsPipeline(t *testing.T) {
	p, err := Load(writeTemp(t, demoDocument), newRegistry(t))
	require.NoError(t, err)

	assert.Equal(t, "demo", p.Name())
	require.Len(t, p.Operators(), 2)
	require.Len(t, p.Connections(), 1)
	assert.Equal(t, "writer.output", p.Connections()[0].Output)
	assert.Equal(t, map[string]any{"channelLocation": "memory://local"}, p.Broadcast())
	assert.NotNil(t, p.Orchestrator())

	specs, err := p.Expand()
	require.NoError(t, err)
	require.Len(t, specs, 3)

	writer := specs[0]
	assert.Equal(t, "demo.writer", writer.FullName())
	assert.Equal(t, "$(env:RECORDS)", writer.Parameters["recordCount"])
	assert.Equal(t, "hello", writer.Parameters["message"])
	require.Len(t, writer.Ports, 1)
	assert.Equal(t, 2.5, writer.Ports[0].Parameters["sendTimeout"])
	assert.Equal(t, "memory://local", writer.Ports[0].Parameters["channelLocation"])
	assert.Equal(t, 2, specs[2].Ports[0].Producers)
}

func TestRoundTripKeepsExpansion(t *testing.T) {
	registry := newRegistry(t)
	original, err := Unmarshal([]byte(demoDocument), registry)
	require.NoError(t, err)

	data, err := Marshal(original)
	require.NoError(t, err)

	rebuilt, err := Unmarshal(data, registry)
	require.NoError(t, err)

	want, err := original.Expand()
	require.NoError(t, err)
	got, err := rebuilt.Expand()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFromDocumentErrors(t *testing.T) {
	tests := []struct {
		name      string
		document  string
		wantField string
		wantIs    error
	}{
		{
			name: "unknown type",
			document: `name: demo
operators:
  - name: ghost
    type: demo.ghost
`,
			wantField: "operators[0].type",
			wantIs:    pipezerrors.ErrUnknownOperatorType,
		},
		{
			name: "unknown port",
			document: `name: demo
operators:
  - name: writer
    type: demo.writer
    ports:
      sideways:
        parameters:
          sendTimeout: 1
`,
			wantField: "operators[0].ports.sideways",
		},
		{
			name: "input to output",
			document: `name: demo
operators:
  - name: writer
    type: demo.writer
  - name: other
    type: demo.writer
connections:
  - output: writer.output
    input: other.output
`,
			wantField: "connections[0]",
		},
		{
			name: "port name that does not exist",
			document: `name: demo
operators:
  - name: writer
    type: demo.writer
  - name: reader
    type: demo.reader
connections:
  - output: writer.out
    input: reader.input
`,
			wantField: "connections[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.document), newRegistry(t))
			require.Error(t, err)

			var validationErr *pipezerrors.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.wantField, validationErr.Field)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
		})
	}
}

func TestFromDocumentTypeMismatch(t *testing.T) {
	_, err := Unmarshal([]byte(`name: demo
operators:
  - name: writer
    type: demo.writer
    parameters:
      recordCount: lots
`), newRegistry(t))

	var configErr *pipezerrors.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "count", configErr.Parameter)
}

func TestToDocumentOfNil(t *testing.T) {
	doc := ToDocument(nil)
	require.NotNil(t, doc)
	assert.Empty(t, doc.Operators)
}
