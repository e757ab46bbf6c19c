package errors

import (
	stdErrors "errors"
	"fmt"
)

// Sentinel failure kinds. Typed errors below wrap them so callers can match
// with errors.Is while still getting operator or channel context.
var (
	ErrTypeMismatch           = stdErrors.New("type mismatch")
	ErrUnresolvedTemplate     = stdErrors.New("unresolved runtime template")
	ErrMissingRequired        = stdErrors.New("required parameter not set")
	ErrIncompatibleConnection = stdErrors.New("incompatible connection")
	ErrChannelUnavailable     = stdErrors.New("channel unavailable")
	ErrChannelClosed          = stdErrors.New("channel closed")
	ErrAlreadyDeployed        = stdErrors.New("pipeline already deployed")
	ErrNotDeployed            = stdErrors.New("pipeline not deployed")
	ErrLogsUnavailable        = stdErrors.New("logs unavailable")
	ErrOperatorNotFound       = stdErrors.New("operator not found")
	ErrUnknownOperatorType    = stdErrors.New("unknown operator type")
	ErrDuplicateOperator      = stdErrors.New("duplicate operator")
	ErrInitExhausted          = stdErrors.New("init attempts exhausted")
	ErrShutdownExhausted      = stdErrors.New("shutdown attempts exhausted")
)

// ParseError represents a YAML parsing failure with optional line metadata.
type ParseError struct {
	Path    string
	Line    int
	Message string
	Err     error
}

// NewParseError constructs a ParseError.
func NewParseError(path string, line int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ParseError{Path: path, Line: line, Message: message, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}

	if e.Line > 0 {
		return fmt.Sprintf("parse error: %s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s: %s", e.Path, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError captures pipeline document validation issues.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ConfigError is fatal to one operator instance and is never retried.
type ConfigError struct {
	Operator  string
	Parameter string
	Err       error
}

// NewConfigError constructs a ConfigError.
func NewConfigError(operator, parameter string, err error) error {
	return &ConfigError{Operator: operator, Parameter: parameter, Err: err}
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Operator != "" && e.Parameter != "":
		return fmt.Sprintf("config error [%s] %s: %v", e.Operator, e.Parameter, e.Err)
	case e.Parameter != "":
		return fmt.Sprintf("config error: %s: %v", e.Parameter, e.Err)
	case e.Operator != "":
		return fmt.Sprintf("config error [%s]: %v", e.Operator, e.Err)
	}
	return fmt.Sprintf("config error: %v", e.Err)
}

// Unwrap exposes the underlying error.
func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TransportError reports a channel failure. Retryable failures may be retried
// by the calling processing step.
type TransportError struct {
	Channel   string
	Op        string
	Retryable bool
	Err       error
}

// NewTransportError constructs a TransportError.
func NewTransportError(channel, op string, retryable bool, err error) error {
	return &TransportError{Channel: channel, Op: op, Retryable: retryable, Err: err}
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	if e.Channel != "" {
		return fmt.Sprintf("transport error: %s %s: %v", e.Op, e.Channel, e.Err)
	}
	return fmt.Sprintf("transport error: %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying error.
func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsRetryable reports whether err carries a retryable TransportError.
func IsRetryable(err error) bool {
	var transportErr *TransportError
	if stdErrors.As(err, &transportErr) {
		return transportErr.Retryable
	}
	return false
}

// ExecutionError represents a fault raised by an operator phase callback.
type ExecutionError struct {
	Operator string
	Phase    string
	Err      error
}

// NewExecutionError constructs an ExecutionError.
func NewExecutionError(operator, phase string, err error) error {
	return &ExecutionError{Operator: operator, Phase: phase, Err: err}
}

func (e *ExecutionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Phase != "" {
		return fmt.Sprintf("execution error on %s during %s: %v", e.Operator, e.Phase, e.Err)
	}
	return fmt.Sprintf("execution error on %s: %v", e.Operator, e.Err)
}

// Unwrap exposes the root error.
func (e *ExecutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// DeploymentError reports a deployer operation failure.
type DeploymentError struct {
	Pipeline string
	Operator string
	Op       string
	Err      error
}

// NewDeploymentError constructs a DeploymentError.
func NewDeploymentError(pipeline, operator, op string, err error) error {
	return &DeploymentError{Pipeline: pipeline, Operator: operator, Op: op, Err: err}
}

func (e *DeploymentError) Error() string {
	if e == nil {
		return ""
	}
	target := e.Pipeline
	if e.Operator != "" {
		target = e.Operator
	}
	return fmt.Sprintf("deployment error: %s %s: %v", e.Op, target, e.Err)
}

// Unwrap exposes the underlying error.
func (e *DeploymentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
