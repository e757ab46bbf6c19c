package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/pipez/internal/operator"
	"github.com/alexisbeaulieu97/pipez/internal/operators/demo"
	"github.com/alexisbeaulieu97/pipez/internal/pipeline"
	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

func newRegistry(t *testing.T) *operator.Registry {
	t.Helper()
	registry := operator.NewRegistry(nil)
	require.NoError(t, demo.Register(registry))
	return registry
}

func newDemoPipeline(t *testing.T, registry *operator.Registry) *pipeline.Pipeline {
	t.Helper()
	writer, err := registry.New(demo.WriterType, "writer")
	require.NoError(t, err)
	reader, err := registry.New(demo.ReaderType, "reader")
	require.NoError(t, err)

	p, err := pipeline.New("demo")
	require.NoError(t, err)
	require.NoError(t, p.Add(writer, reader))
	require.NoError(t, p.Connect("writer.output", "reader.input"))
	require.NoError(t, p.SetParameter(">>channelLocation", "memory://"+t.Name()))
	return p
}

func newExecutor(registry *operator.Registry) *Executor {
	return New(registry, WithEngineOptions(operator.Options{Idle: time.Millisecond, DrainTimeout: time.Second}))
}

func states(result InstanceResult) []operator.State {
	out := make([]operator.State, 0, len(result.Transitions))
	for _, tr := range result.Transitions {
		out = append(out, tr.To)
	}
	return out
}

func TestWriterToReaderDeliversEveryRecordInOrder(t *testing.T) {
	registry := newRegistry(t)
	p := newDemoPipeline(t, registry)
	require.NoError(t, p.SetParameter("writer.recordCount", 5))

	report, err := newExecutor(registry).Run(context.Background(), p)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	reader, ok := report.Instance("demo.reader")
	require.True(t, ok)
	assert.Equal(t, operator.StateTerminated, reader.State)

	received := reader.Handler.(*demo.Reader).Received()
	require.Len(t, received, 5)
	for i, record := range received {
		assert.Equal(t, fmt.Sprintf("HelloWorld_%d", i), record["text"])
	}

	full := []operator.State{operator.StateInit, operator.StateRunning, operator.StateShuttingDown, operator.StateTerminated}
	for _, inst := range report.Instances {
		assert.Equal(t, full, states(inst), inst.Name)
	}
}

func TestReaderFailureLeavesWriterCompleted(t *testing.T) {
	registry := newRegistry(t)
	p := newDemoPipeline(t, registry)
	require.NoError(t, p.SetParameter("writer.recordCount", 5))
	require.NoError(t, p.SetParameter("reader.raiseErrorAfterRecordCount", 3))

	report, err := newExecutor(registry).Run(context.Background(), p)
	require.NoError(t, err)

	writer, _ := report.Instance("demo.writer")
	assert.Equal(t, operator.StateTerminated, writer.State)
	assert.NoError(t, writer.Err)

	reader, _ := report.Instance("demo.reader")
	assert.Equal(t, operator.StateErrored, reader.State)
	assert.Equal(t, operator.StateErrored, states(reader)[len(reader.Transitions)-1])
	assert.Equal(t, 1, reader.Handler.(*demo.Reader).Errors())

	var execErr *pipezerrors.ExecutionError
	require.ErrorAs(t, reader.Err, &execErr)
	assert.Equal(t, "running", execErr.Phase)
	assert.Contains(t, reader.Logs, "operator failed")

	require.Len(t, report.Failed(), 1)
	assert.Error(t, report.Err())
}

func TestMissingRequiredParameterFailsBeforeRunning(t *testing.T) {
	registry := newRegistry(t)
	p := newDemoPipeline(t, registry)

	report, err := newExecutor(registry).Run(context.Background(), p)
	require.NoError(t, err)

	writer, _ := report.Instance("demo.writer")
	assert.Equal(t, []operator.State{operator.StateInit, operator.StateErrored}, states(writer))
	assert.ErrorIs(t, writer.Err, pipezerrors.ErrMissingRequired)
	assert.Zero(t, writer.Handler.(*demo.Writer).Sent())

	// The reader learns the writer is gone and stops on its own.
	reader, _ := report.Instance("demo.reader")
	assert.Equal(t, operator.StateTerminated, reader.State)
	assert.Empty(t, reader.Handler.(*demo.Reader).Received())
}

func TestReplicatedWritersFeedOneReaderGroup(t *testing.T) {
	registry := newRegistry(t)
	p := newDemoPipeline(t, registry)
	require.NoError(t, p.SetParameter("writer.recordCount", 4))
	require.NoError(t, p.SetParameter("writer.replicationFactor", 2))
	require.NoError(t, p.SetParameter("reader.replicationFactor", 1))

	report, err := newExecutor(registry).Run(context.Background(), p)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.Len(t, report.Instances, 5)

	total := 0
	for _, name := range []string{"demo.reader", "demo.reader_1"} {
		inst, ok := report.Instance(name)
		require.True(t, ok)
		total += len(inst.Handler.(*demo.Reader).Received())
	}
	assert.Equal(t, 12, total, "replicas of one input share the records")
}

func TestRuntimeTemplatesResolveFromOrchestratorEnv(t *testing.T) {
	registry := newRegistry(t)
	p := newDemoPipeline(t, registry)
	require.NoError(t, p.SetParameter("writer.recordCount", "$(env:PIPEZ_TEST_COUNT)"))
	require.NoError(t, p.SetParameter("writer.message", "$(env:PIPEZ_TEST_PREFIX)"))
	require.NoError(t, p.SetParameter("orchestrator", map[string]any{
		"env": []any{
			map[string]any{"name": "PIPEZ_TEST_COUNT", "value": 2},
			map[string]any{"name": "PIPEZ_TEST_PREFIX", "value": "tick"},
		},
	}))

	report, err := newExecutor(registry).Run(context.Background(), p)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	reader, _ := report.Instance("demo.reader")
	received := reader.Handler.(*demo.Reader).Received()
	require.Len(t, received, 2)
	assert.Equal(t, "tick_1", received[1]["text"])
}

func TestUnresolvedTemplateIsAConfigError(t *testing.T) {
	registry := newRegistry(t)
	p := newDemoPipeline(t, registry)
	require.NoError(t, p.SetParameter("writer.recordCount", "$(env:PIPEZ_TEST_UNSET_VARIABLE)"))

	exec := New(registry,
		WithEngineOptions(operator.Options{Idle: time.Millisecond}),
		WithLookup(func(string) (string, bool) { return "", false }),
	)
	report, err := exec.Run(context.Background(), p)
	require.NoError(t, err)

	writer, _ := report.Instance("demo.writer")
	assert.Equal(t, operator.StateErrored, writer.State)
	assert.ErrorIs(t, writer.Err, pipezerrors.ErrUnresolvedTemplate)
}

func TestCancelInterruptsEveryInstance(t *testing.T) {
	registry := newRegistry(t)
	p := newDemoPipeline(t, registry)
	require.NoError(t, p.SetParameter("writer.recordCount", 1_000_000))
	require.NoError(t, p.SetParameter("writer.rate", 200.0))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	report, err := newExecutor(registry).Run(ctx, p)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	for _, inst := range report.Instances {
		assert.Equal(t, operator.StateTerminated, inst.State, inst.Name)
		assert.True(t, inst.Interrupted, inst.Name)
	}

	writer, _ := report.Instance("demo.writer")
	reader, _ := report.Instance("demo.reader")
	sent := writer.Handler.(*demo.Writer).Sent()
	assert.Less(t, sent, 1_000_000)
	assert.Equal(t, sent, len(reader.Handler.(*demo.Reader).Received()), "the reader drains what was sent")
}

func TestUnknownOperatorType(t *testing.T) {
	registry := newRegistry(t)
	op, err := operator.New("ghost", "ghost.type", func(*operator.Operator) (operator.Handler, error) {
		return operator.BaseHandler{}, nil
	})
	require.NoError(t, err)
	p, err := pipeline.New("lonely")
	require.NoError(t, err)
	require.NoError(t, p.Add(op))

	_, err = newExecutor(registry).Run(context.Background(), p)
	require.ErrorIs(t, err, pipezerrors.ErrUnknownOperatorType)
}
