package runtime

import (
	"fmt"
)

// OrchestratorEnv extracts the env entries of an orchestrator block. The
// block may hold other keys; they are ignored. Each entry is a map with
// name and value, mirroring how container orchestrators declare environment
// variables.
func OrchestratorEnv(block any) (map[string]string, error) {
	m, ok := block.(map[string]any)
	if !ok {
		return nil, nil
	}
	raw, ok := m["env"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("env must be a list, got %T", raw)
	}

	vars := make(map[string]string, len(list))
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("env[%d] must be a map, got %T", i, item)
		}
		name, _ := entry["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("env[%d] has no name", i)
		}
		vars[name] = fmt.Sprint(entry["value"])
	}
	return vars, nil
}
