package parameter

// Values holds resolved parameter values keyed by declared name. Undeclared
// values are keyed by the name they were set under.
type Values struct {
	values       map[string]any
	orchestrator any
}

// Get returns the raw resolved value.
func (v Values) Get(name string) (any, bool) {
	value, ok := v.values[name]
	return value, ok
}

// Has reports whether name resolved to a value.
func (v Values) Has(name string) bool {
	_, ok := v.values[name]
	return ok
}

// String returns the value as a string, or "" if absent or not a string.
func (v Values) String(name string) string {
	s, _ := v.values[name].(string)
	return s
}

// Int returns the value as an int, or 0.
func (v Values) Int(name string) int {
	n, _ := v.values[name].(int)
	return n
}

// Float returns the value as a float64, or 0.
func (v Values) Float(name string) float64 {
	switch n := v.values[name].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

// Bool returns the value as a bool, or false.
func (v Values) Bool(name string) bool {
	b, _ := v.values[name].(bool)
	return b
}

// List returns the value as a list, or nil.
func (v Values) List(name string) []any {
	l, _ := v.values[name].([]any)
	return l
}

// Map returns the value as a map, or nil.
func (v Values) Map(name string) map[string]any {
	m, _ := v.values[name].(map[string]any)
	return m
}

// Orchestrator returns the opaque orchestrator block, untouched.
func (v Values) Orchestrator() any {
	return v.orchestrator
}

// All returns a copy of every resolved value.
func (v Values) All() map[string]any {
	out := make(map[string]any, len(v.values))
	for k, value := range v.values {
		out[k] = value
	}
	return out
}
