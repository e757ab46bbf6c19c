package operator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/alexisbeaulieu97/pipez/internal/logger"
	"github.com/alexisbeaulieu97/pipez/internal/parameter"
	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

var (
	typePattern   = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*$`)
	semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

// Metadata describes a registered operator type.
type Metadata struct {
	Type        string
	Version     string
	Description string
}

// Validate ensures metadata is well-formed.
func (m Metadata) Validate() error {
	if strings.TrimSpace(m.Type) == "" {
		return fmt.Errorf("operator metadata requires a non-empty Type")
	}
	if !typePattern.MatchString(m.Type) {
		return fmt.Errorf("operator type '%s' is invalid (expected lowercase words joined by '.', '_' or '-')", m.Type)
	}
	if strings.TrimSpace(m.Version) == "" {
		return fmt.Errorf("operator type '%s' metadata requires Version", m.Type)
	}
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("operator type '%s' has invalid Version '%s' (expected format: X.Y.Z)", m.Type, m.Version)
	}
	return nil
}

// ErrTypeNotFound is returned when an operator type is not registered.
type ErrTypeNotFound struct {
	Type string
}

func (e ErrTypeNotFound) Error() string {
	return fmt.Sprintf("operator type '%s' not found in registry\nHint: register the type before building pipelines that use it", e.Type)
}

// Is lets errors.Is match the package sentinel.
func (e ErrTypeNotFound) Is(target error) bool {
	return target == pipezerrors.ErrUnknownOperatorType
}

type registration struct {
	meta    Metadata
	factory Factory
}

// Registry maps operator type names to factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
	logger  *logger.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{entries: make(map[string]registration), logger: log}
}

// Register adds an operator type.
func (r *Registry) Register(meta Metadata, factory Factory) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	if factory == nil {
		return fmt.Errorf("operator type '%s' has no factory", meta.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[meta.Type]; exists {
		return fmt.Errorf("operator type '%s' already registered", meta.Type)
	}
	r.entries[meta.Type] = registration{meta: meta, factory: factory}
	r.logger.Debug(fmt.Sprintf("registered operator type %s@%s", meta.Type, meta.Version))
	return nil
}

// New builds an operator instance of the given type.
func (r *Registry) New(kind, name string) (*Operator, error) {
	r.mu.RLock()
	entry, ok := r.entries[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrTypeNotFound{Type: kind}
	}
	return New(name, kind, entry.factory)
}

// Metadata returns the metadata of a registered type.
func (r *Registry) Metadata(kind string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[kind]
	return entry.meta, ok
}

// List returns every registered type sorted by name.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Metadata, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Schema returns the expected parameters of a type by building a throwaway
// instance.
func (r *Registry) Schema(kind string) ([]parameter.Descriptor, error) {
	op, err := r.New(kind, "schema")
	if err != nil {
		return nil, err
	}
	return op.ExpectedParameters(), nil
}
