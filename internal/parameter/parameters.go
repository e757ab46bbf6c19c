package parameter

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

// Parameters is the parameter set owned by one operator or port.
type Parameters struct {
	owner string

	mu           sync.RWMutex
	order        []string
	declared     map[string]Parameter
	alias        map[string]string
	values       map[string]any
	extras       map[string]any
	orchestrator any
}

// New returns an empty parameter set. owner is used for error context.
func New(owner string) *Parameters {
	return &Parameters{
		owner:    owner,
		declared: make(map[string]Parameter),
		alias:    make(map[string]string),
		values:   make(map[string]any),
		extras:   make(map[string]any),
	}
}

// Owner returns the name used for error context.
func (p *Parameters) Owner() string {
	return p.owner
}

// Declare registers a parameter. Names and alternate names must be unique.
func (p *Parameters) Declare(param Parameter) error {
	if strings.TrimSpace(param.Name) == "" {
		return fmt.Errorf("parameter declaration on %s requires a name", p.owner)
	}
	if param.Name == OrchestratorKey || param.AltName == OrchestratorKey {
		return fmt.Errorf("parameter name %q is reserved", OrchestratorKey)
	}
	if param.Kind == "" {
		param.Kind = Optional
	}
	if param.Kind != Required && param.Kind != Optional {
		return fmt.Errorf("parameter %s: unknown kind %q", param.Name, param.Kind)
	}
	if param.Type == "" {
		param.Type = TypeAny
	}
	if !param.Type.Valid() {
		return pipezerrors.NewConfigError(p.owner, param.Name, fmt.Errorf("%w: unknown parameter type %q", pipezerrors.ErrTypeMismatch, param.Type))
	}
	if param.Default != nil {
		coerced, err := Coerce(param.Type, param.Default)
		if err != nil {
			return pipezerrors.NewConfigError(p.owner, param.Name, fmt.Errorf("default: %w", err))
		}
		param.Default = coerced
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, name := range []string{param.Name, param.AltName} {
		if name == "" {
			continue
		}
		if _, exists := p.declared[name]; exists {
			return fmt.Errorf("parameter %q already declared on %s", name, p.owner)
		}
		if _, exists := p.alias[name]; exists {
			return fmt.Errorf("parameter %q already declared on %s", name, p.owner)
		}
	}

	p.declared[param.Name] = param
	if param.AltName != "" {
		p.alias[param.AltName] = param.Name
	}
	p.order = append(p.order, param.Name)

	// Values set before declaration were kept untyped; adopt them now.
	for _, name := range []string{param.Name, param.AltName} {
		if v, ok := p.extras[name]; ok && name != "" {
			delete(p.extras, name)
			if err := p.assign(param, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Lookup returns the declaration for name or its alternate name.
func (p *Parameters) Lookup(name string) (Parameter, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lookup(name)
}

func (p *Parameters) lookup(name string) (Parameter, bool) {
	if canonical, ok := p.alias[name]; ok {
		name = canonical
	}
	param, ok := p.declared[name]
	return param, ok
}

// Set assigns a value. Runtime templates are accepted for every type and
// checked at resolution. Undeclared names are kept untyped.
func (p *Parameters) Set(name string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if name == OrchestratorKey {
		p.orchestrator = value
		return nil
	}

	param, ok := p.lookup(name)
	if !ok {
		p.extras[name] = value
		return nil
	}
	return p.assign(param, value)
}

func (p *Parameters) assign(param Parameter, value any) error {
	if IsTemplate(value) {
		p.values[param.Name] = value
		return nil
	}
	coerced, err := Coerce(param.Type, value)
	if err != nil {
		return pipezerrors.NewConfigError(p.owner, param.Name, err)
	}
	p.values[param.Name] = coerced
	return nil
}

// IsSet reports whether name has an explicit value.
func (p *Parameters) IsSet(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if name == OrchestratorKey {
		return p.orchestrator != nil
	}
	if param, ok := p.lookup(name); ok {
		_, set := p.values[param.Name]
		return set
	}
	_, set := p.extras[name]
	return set
}

// Explicit returns every explicitly set value keyed by wire name, templates
// unresolved. The orchestrator block is included under OrchestratorKey.
func (p *Parameters) Explicit() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]any, len(p.values)+len(p.extras)+1)
	for name, value := range p.values {
		out[p.declared[name].WireName()] = value
	}
	for name, value := range p.extras {
		out[name] = value
	}
	if p.orchestrator != nil {
		out[OrchestratorKey] = p.orchestrator
	}
	return out
}

// Expected describes every declared parameter in declaration order.
func (p *Parameters) Expected() []Descriptor {
	return p.ExpectedWithPrefix("")
}

// ExpectedWithPrefix is Expected with every name prefixed.
func (p *Parameters) ExpectedWithPrefix(prefix string) []Descriptor {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Descriptor, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.declared[name].describe(prefix))
	}
	return out
}

// Resolve substitutes runtime templates, applies defaults and checks that
// every required parameter has a value.
func (p *Parameters) Resolve(lookup Lookup) (Values, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	resolved := make(map[string]any, len(p.order)+len(p.extras))
	for _, name := range p.order {
		param := p.declared[name]
		value, set := p.values[name]
		if !set {
			if param.Default != nil {
				resolved[name] = param.Default
				continue
			}
			if param.Kind == Required {
				return Values{}, pipezerrors.NewConfigError(p.owner, param.WireName(), pipezerrors.ErrMissingRequired)
			}
			continue
		}

		if s, ok := value.(string); ok && templatePattern.MatchString(s) {
			substituted, err := Substitute(s, lookup)
			if err != nil {
				return Values{}, pipezerrors.NewConfigError(p.owner, param.WireName(), err)
			}
			typed, err := parseAs(param.Type, substituted)
			if err != nil {
				return Values{}, pipezerrors.NewConfigError(p.owner, param.WireName(), err)
			}
			resolved[name] = typed
			continue
		}

		if param.Type == TypeList || param.Type == TypeMap || param.Type == TypeAny {
			nested, err := substituteNested(value, lookup)
			if err != nil {
				return Values{}, pipezerrors.NewConfigError(p.owner, param.WireName(), err)
			}
			value = nested
		}
		resolved[name] = value
	}

	keys := make([]string, 0, len(p.extras))
	for name := range p.extras {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	for _, name := range keys {
		value, err := substituteNested(p.extras[name], lookup)
		if err != nil {
			return Values{}, pipezerrors.NewConfigError(p.owner, name, err)
		}
		resolved[name] = value
	}

	return Values{values: resolved, orchestrator: p.orchestrator}, nil
}
