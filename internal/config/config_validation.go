package config

import (
	"fmt"
	"strings"

	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

const broadcastPrefix = ">>"

// Validate performs structural and cross-field validation on a document.
// Port names are checked later, against the registered operator types.
func Validate(doc *Document) error {
	if doc == nil {
		return pipezerrors.NewValidationError("document", "document is nil", nil)
	}

	v := validatorInstance()
	if err := v.Struct(doc); err != nil {
		return convertValidationError(err)
	}

	seen := make(map[string]struct{}, len(doc.Operators))
	for i, op := range doc.Operators {
		if _, exists := seen[op.Name]; exists {
			return pipezerrors.NewValidationError(fieldForOperator(i, "name"), fmt.Sprintf("duplicate operator name %q", op.Name), pipezerrors.ErrDuplicateOperator)
		}
		seen[op.Name] = struct{}{}
	}

	inputs := make(map[string]int, len(doc.Connections))
	for i, conn := range doc.Connections {
		for field, ref := range map[string]string{"output": conn.Output, "input": conn.Input} {
			opName, _, _ := strings.Cut(ref, ".")
			if _, ok := seen[opName]; !ok {
				return pipezerrors.NewValidationError(fieldForConnection(i, field), fmt.Sprintf("references unknown operator %q", opName), pipezerrors.ErrOperatorNotFound)
			}
		}
		if prev, exists := inputs[conn.Input]; exists {
			return pipezerrors.NewValidationError(fieldForConnection(i, "input"), fmt.Sprintf("input %s is already fed by connections[%d]", conn.Input, prev), pipezerrors.ErrIncompatibleConnection)
		}
		inputs[conn.Input] = i
	}

	for key := range doc.Parameters {
		if name, ok := strings.CutPrefix(key, broadcastPrefix); ok {
			if name == "" {
				return pipezerrors.NewValidationError("parameters", "broadcast parameter needs a name", nil)
			}
			continue
		}
		opName, rest, ok := strings.Cut(key, ".")
		if !ok || rest == "" {
			return pipezerrors.NewValidationError("parameters", fmt.Sprintf("key %q must be %s<name> or <operator>.<name>", key, broadcastPrefix), nil)
		}
		if _, exists := seen[opName]; !exists {
			return pipezerrors.NewValidationError("parameters", fmt.Sprintf("key %q references unknown operator %q", key, opName), pipezerrors.ErrOperatorNotFound)
		}
	}

	if cycle := detectCycle(doc); len(cycle) > 0 {
		return pipezerrors.NewValidationError("connections", fmt.Sprintf("connection cycle detected: %s", strings.Join(cycle, " -> ")), nil)
	}

	return nil
}
