package parameter

import (
	"fmt"
	"os"
	"regexp"

	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

var templatePattern = regexp.MustCompile(`\$\(env:([A-Za-z_][A-Za-z0-9_]*)\)`)

// Lookup resolves a runtime template variable.
type Lookup func(name string) (string, bool)

// EnvLookup resolves templates from the process environment.
func EnvLookup() Lookup {
	return os.LookupEnv
}

// Overlay returns a lookup that consults vars before falling back to base.
func Overlay(base Lookup, vars map[string]string) Lookup {
	return func(name string) (string, bool) {
		if v, ok := vars[name]; ok {
			return v, true
		}
		if base == nil {
			return "", false
		}
		return base(name)
	}
}

// IsTemplate reports whether value is a string holding at least one
// runtime template reference.
func IsTemplate(value any) bool {
	s, ok := value.(string)
	return ok && templatePattern.MatchString(s)
}

// Substitute replaces every template reference in s.
func Substitute(s string, lookup Lookup) (string, error) {
	var missing string
	out := templatePattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := templatePattern.FindStringSubmatch(ref)[1]
		if lookup != nil {
			if v, ok := lookup(name); ok {
				return v
			}
		}
		if missing == "" {
			missing = name
		}
		return ref
	})
	if missing != "" {
		return "", fmt.Errorf("%w: $(env:%s)", pipezerrors.ErrUnresolvedTemplate, missing)
	}
	return out, nil
}

// substituteNested resolves templates inside strings nested in lists and maps.
func substituteNested(value any, lookup Lookup) (any, error) {
	switch v := value.(type) {
	case string:
		if !templatePattern.MatchString(v) {
			return v, nil
		}
		return Substitute(v, lookup)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := substituteNested(item, lookup)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			resolved, err := substituteNested(item, lookup)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	}
	return value, nil
}
