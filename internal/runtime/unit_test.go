package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/pipez/internal/operator"
	"github.com/alexisbeaulieu97/pipez/internal/operators/demo"
	"github.com/alexisbeaulieu97/pipez/internal/pipeline"
	"github.com/alexisbeaulieu97/pipez/internal/port"
	"github.com/alexisbeaulieu97/pipez/internal/transport"
	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	registry := operator.NewRegistry(nil)
	require.NoError(t, demo.Register(registry))
	dialer := transport.NewDialer()
	t.Cleanup(func() { _ = dialer.Close() })
	return Options{
		Registry: registry,
		Dialer:   dialer,
		Engine:   operator.Options{Idle: time.Millisecond},
	}
}

func writerSpec(params map[string]any, ports ...pipeline.PortSpec) pipeline.InstanceSpec {
	if len(ports) == 0 {
		ports = []pipeline.PortSpec{{Name: demo.OutputPort, Role: port.RoleOutput}}
	}
	return pipeline.InstanceSpec{
		Pipeline:   "demo",
		Operator:   "writer",
		Name:       "writer",
		Kind:       demo.WriterType,
		Parameters: params,
		Ports:      ports,
	}
}

func TestOrchestratorEnv(t *testing.T) {
	tests := []struct {
		name    string
		block   any
		want    map[string]string
		wantErr string
	}{
		{name: "nil block", block: nil},
		{name: "no env key", block: map[string]any{"image": "busybox"}},
		{
			name: "entries",
			block: map[string]any{"env": []any{
				map[string]any{"name": "A", "value": "1"},
				map[string]any{"name": "B", "value": 2},
			}},
			want: map[string]string{"A": "1", "B": "2"},
		},
		{name: "env not a list", block: map[string]any{"env": "A=1"}, wantErr: "must be a list"},
		{name: "entry not a map", block: map[string]any{"env": []any{"A=1"}}, wantErr: "env[0] must be a map"},
		{name: "entry without name", block: map[string]any{"env": []any{map[string]any{"value": "1"}}}, wantErr: "env[0] has no name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OrchestratorEnv(tt.block)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewRequiresRegistry(t *testing.T) {
	_, err := New(writerSpec(nil), Options{})
	require.Error(t, err)
}

func TestNewUnknownType(t *testing.T) {
	spec := writerSpec(nil)
	spec.Kind = "missing.type"
	_, err := New(spec, testOptions(t))
	require.ErrorIs(t, err, pipezerrors.ErrUnknownOperatorType)
}

func TestUnconnectedOutputDiscardsRecords(t *testing.T) {
	unit, err := New(writerSpec(map[string]any{"recordCount": 3}), testOptions(t))
	require.NoError(t, err)
	assert.Equal(t, "demo.writer", unit.FullName())

	require.NoError(t, unit.Run(context.Background()))
	assert.Equal(t, operator.StateTerminated, unit.State())
	assert.Equal(t, 3, unit.Operator().Handler().(*demo.Writer).Sent())
	assert.False(t, unit.Interrupted())
}

func TestParameterErrorsSurfaceWhenRunning(t *testing.T) {
	unit, err := New(writerSpec(map[string]any{"recordCount": "many"}), testOptions(t))
	require.NoError(t, err, "a bad value is reported by the lifecycle")

	var states []operator.State
	unit.OnTransition(func(tr operator.Transition) { states = append(states, tr.To) })

	err = unit.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, []operator.State{operator.StateInit, operator.StateErrored}, states)
	assert.Equal(t, err, unit.Err())
	assert.Contains(t, unit.Logs(), "operator failed")
	assert.Contains(t, unit.Logs(), `"operator":"demo.writer"`)
}

func TestUnknownPortInSpec(t *testing.T) {
	spec := writerSpec(map[string]any{"recordCount": 1}, pipeline.PortSpec{Name: "sideways", Role: port.RoleOutput})
	unit, err := New(spec, testOptions(t))
	require.NoError(t, err)

	err = unit.Run(context.Background())
	var configErr *pipezerrors.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Contains(t, err.Error(), "sideways")
}

func TestUnsupportedChannelLocation(t *testing.T) {
	spec := writerSpec(map[string]any{"recordCount": 1}, pipeline.PortSpec{
		Name:       demo.OutputPort,
		Role:       port.RoleOutput,
		Connected:  true,
		Channel:    "demo.writer.output",
		Producer:   "demo.writer.output",
		Groups:     []string{"demo.reader.input"},
		Parameters: map[string]any{"channelLocation": "carrier-pigeon://coop"},
	})
	unit, err := New(spec, testOptions(t))
	require.NoError(t, err)

	err = unit.Run(context.Background())
	var configErr *pipezerrors.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "output.channelLocation", configErr.Parameter)
	assert.Equal(t, operator.StateErrored, unit.State())
}

func TestOrchestratorEnvResolvesTemplates(t *testing.T) {
	opts := testOptions(t)
	opts.Lookup = func(string) (string, bool) { return "", false }

	spec := writerSpec(map[string]any{"recordCount": "$(env:RECORDS)"})
	spec.Orchestrator = map[string]any{"env": []any{map[string]any{"name": "RECORDS", "value": "4"}}}

	unit, err := New(spec, opts)
	require.NoError(t, err)
	require.NoError(t, unit.Run(context.Background()))
	assert.Equal(t, 4, unit.Operator().Handler().(*demo.Writer).Sent())
}

func TestConnectedPortsExchangeRecords(t *testing.T) {
	opts := testOptions(t)

	writer := writerSpec(map[string]any{"recordCount": 2}, pipeline.PortSpec{
		Name:      demo.OutputPort,
		Role:      port.RoleOutput,
		Connected: true,
		Channel:   "demo.writer.output",
		Producer:  "demo.writer.output",
		Groups:    []string{"demo.reader.input"},
	})
	reader := pipeline.InstanceSpec{
		Pipeline: "demo",
		Operator: "reader",
		Name:     "reader",
		Kind:     demo.ReaderType,
		Ports: []pipeline.PortSpec{{
			Name:      demo.InputPort,
			Role:      port.RoleInput,
			Connected: true,
			Channel:   "demo.writer.output",
			Group:     "demo.reader.input",
			Producers: 1,
		}},
	}

	wu, err := New(writer, opts)
	require.NoError(t, err)
	ru, err := New(reader, opts)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- ru.Run(context.Background()) }()
	require.NoError(t, wu.Run(context.Background()))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not finish")
	}
	assert.Len(t, ru.Operator().Handler().(*demo.Reader).Received(), 2)
}

func TestFailedWriterStillReleasesReaders(t *testing.T) {
	opts := testOptions(t)

	writer := writerSpec(nil, pipeline.PortSpec{
		Name:      demo.OutputPort,
		Role:      port.RoleOutput,
		Connected: true,
		Channel:   "demo.writer.output",
		Producer:  "demo.writer.output",
		Groups:    []string{"demo.reader.input"},
	})
	reader := pipeline.InstanceSpec{
		Pipeline: "demo",
		Name:     "reader",
		Kind:     demo.ReaderType,
		Ports: []pipeline.PortSpec{{
			Name:      demo.InputPort,
			Role:      port.RoleInput,
			Connected: true,
			Channel:   "demo.writer.output",
			Group:     "demo.reader.input",
			Producers: 1,
		}},
	}

	wu, err := New(writer, opts)
	require.NoError(t, err)
	require.ErrorIs(t, wu.Run(context.Background()), pipezerrors.ErrMissingRequired)

	ru, err := New(reader, opts)
	require.NoError(t, err)
	require.NoError(t, ru.Run(context.Background()))
	assert.Equal(t, operator.StateTerminated, ru.State())
}
