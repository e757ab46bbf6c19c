package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseErrorWrapsUnderlying(t *testing.T) {
	t.Parallel()

	underlying := fmt.Errorf("unexpected token")
	err := NewParseError("pipeline.yaml", 12, underlying)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, "pipeline.yaml", parseErr.Path)
	require.Equal(t, 12, parseErr.Line)
	require.True(t, stdErrors.Is(err, underlying))
	require.Contains(t, err.Error(), "pipeline.yaml:12")
}

func TestValidationErrorCarriesField(t *testing.T) {
	t.Parallel()

	err := NewValidationError("connections[0].input", "references unknown port", nil)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, "connections[0].input", validationErr.Field)
	require.Contains(t, err.Error(), "references unknown port")
}

func TestConfigErrorMatchesSentinel(t *testing.T) {
	t.Parallel()

	err := NewConfigError("demo.writer", "count", ErrMissingRequired)

	var configErr *ConfigError
	require.ErrorAs(t, err, &configErr)
	require.Equal(t, "demo.writer", configErr.Operator)
	require.ErrorIs(t, err, ErrMissingRequired)
	require.Contains(t, err.Error(), "[demo.writer] count")
}

func TestTransportErrorRetryable(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("send batch: %w", NewTransportError("demo.writer.output", "send", true, ErrChannelUnavailable))
	require.True(t, IsRetryable(err))
	require.ErrorIs(t, err, ErrChannelUnavailable)

	closed := NewTransportError("demo.writer.output", "send", false, ErrChannelClosed)
	require.False(t, IsRetryable(closed))
	require.False(t, IsRetryable(stdErrors.New("plain")))
}

func TestExecutionErrorIncludesPhase(t *testing.T) {
	t.Parallel()

	underlying := stdErrors.New("broken pipe")
	err := NewExecutionError("demo.reader", "running", underlying)

	var executionErr *ExecutionError
	require.ErrorAs(t, err, &executionErr)
	require.Equal(t, "running", executionErr.Phase)
	require.True(t, stdErrors.Is(err, underlying))
	require.Contains(t, err.Error(), "during running")
}

func TestDeploymentErrorPrefersOperatorTarget(t *testing.T) {
	t.Parallel()

	err := NewDeploymentError("demo", "demo.reader_1", "logs", ErrLogsUnavailable)
	require.ErrorIs(t, err, ErrLogsUnavailable)
	require.Contains(t, err.Error(), "logs demo.reader_1")

	err = NewDeploymentError("demo", "", "deploy", ErrAlreadyDeployed)
	require.Contains(t, err.Error(), "deploy demo")
}

func TestNilReceiversAreSafe(t *testing.T) {
	t.Parallel()

	var parseErr *ParseError
	var configErr *ConfigError
	var transportErr *TransportError
	require.Empty(t, parseErr.Error())
	require.Nil(t, configErr.Unwrap())
	require.Nil(t, transportErr.Unwrap())
}
