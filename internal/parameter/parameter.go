// Package parameter implements typed, named operator configuration slots
// with deferred runtime-template resolution.
package parameter

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

// OrchestratorKey is the reserved parameter name whose value is passed
// through verbatim to the deployer without type validation.
const OrchestratorKey = "orchestrator"

// Kind distinguishes required from optional parameters.
type Kind string

const (
	Required Kind = "required"
	Optional Kind = "optional"
)

// Type is the declared value type of a parameter.
type Type string

const (
	TypeString Type = "string"
	TypeInt    Type = "int"
	TypeFloat  Type = "float"
	TypeBool   Type = "bool"
	TypeList   Type = "list"
	TypeMap    Type = "map"
	TypeAny    Type = "any"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeBool, TypeList, TypeMap, TypeAny:
		return true
	}
	return false
}

// Parameter declares one configuration slot.
type Parameter struct {
	Name        string
	AltName     string
	Kind        Kind
	Type        Type
	Default     any
	Description string
}

// WireName is the name used in serialized documents.
func (p Parameter) WireName() string {
	if p.AltName != "" {
		return p.AltName
	}
	return p.Name
}

// Descriptor is the introspection view of a declared parameter.
type Descriptor struct {
	Name        string `json:"name" yaml:"name"`
	AltName     string `json:"altName,omitempty" yaml:"altName,omitempty"`
	Kind        Kind   `json:"kind" yaml:"kind"`
	Type        Type   `json:"type" yaml:"type"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

func (p Parameter) describe(prefix string) Descriptor {
	return Descriptor{
		Name:        prefix + p.Name,
		AltName:     p.AltName,
		Kind:        p.Kind,
		Type:        p.Type,
		Default:     p.Default,
		Description: p.Description,
	}
}

// floatToInt converts integral floats that fit in an int.
func floatToInt(v float64) (int, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		return 0, false
	}
	// float64(math.MaxInt) rounds up to 2^63, so the upper bound is exclusive.
	if v < float64(math.MinInt) || v >= float64(math.MaxInt) {
		return 0, false
	}
	return int(v), true
}

// Coerce converts value into the Go representation of t. Values decoded from
// YAML or JSON arrive with loose numeric types, so integral floats are
// accepted for ints and ints for floats.
func Coerce(t Type, value any) (any, error) {
	switch t {
	case TypeAny:
		return value, nil
	case TypeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case TypeBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case TypeInt:
		switch v := value.(type) {
		case int:
			return v, nil
		case int8:
			return int(v), nil
		case int16:
			return int(v), nil
		case int32:
			return int(v), nil
		case int64:
			if v >= math.MinInt && v <= math.MaxInt {
				return int(v), nil
			}
		case uint:
			if v <= math.MaxInt {
				return int(v), nil
			}
		case uint8:
			return int(v), nil
		case uint16:
			return int(v), nil
		case uint32:
			if uint64(v) <= math.MaxInt {
				return int(v), nil
			}
		case uint64:
			if v <= math.MaxInt {
				return int(v), nil
			}
		case float32:
			if n, ok := floatToInt(float64(v)); ok {
				return n, nil
			}
		case float64:
			if n, ok := floatToInt(v); ok {
				return n, nil
			}
		}
	case TypeFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case int32:
			return float64(v), nil
		case uint64:
			return float64(v), nil
		}
	case TypeList:
		switch v := value.(type) {
		case []any:
			return v, nil
		case []string:
			out := make([]any, len(v))
			for i, s := range v {
				out[i] = s
			}
			return out, nil
		}
	case TypeMap:
		switch v := value.(type) {
		case map[string]any:
			return v, nil
		case map[string]string:
			out := make(map[string]any, len(v))
			for k, s := range v {
				out[k] = s
			}
			return out, nil
		}
	default:
		return nil, fmt.Errorf("%w: unknown parameter type %q", pipezerrors.ErrTypeMismatch, t)
	}
	return nil, fmt.Errorf("%w: expected %s, got %T", pipezerrors.ErrTypeMismatch, t, value)
}

// parseAs converts a substituted template string into t.
func parseAs(t Type, raw string) (any, error) {
	switch t {
	case TypeString, TypeAny:
		return raw, nil
	case TypeInt:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an int", pipezerrors.ErrTypeMismatch, raw)
		}
		return n, nil
	case TypeFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a float", pipezerrors.ErrTypeMismatch, raw)
		}
		return f, nil
	case TypeBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a bool", pipezerrors.ErrTypeMismatch, raw)
		}
		return b, nil
	case TypeList, TypeMap:
		var decoded any
		if err := yaml.Unmarshal([]byte(raw), &decoded); err != nil {
			return nil, fmt.Errorf("%w: %q is not a %s", pipezerrors.ErrTypeMismatch, raw, t)
		}
		return Coerce(t, decoded)
	}
	return nil, fmt.Errorf("%w: unknown parameter type %q", pipezerrors.ErrTypeMismatch, t)
}
