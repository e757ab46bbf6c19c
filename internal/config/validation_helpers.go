package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

// convertValidationError normalizes validator errors into pipez validation errors.
func convertValidationError(err error) error {
	if err == nil {
		return nil
	}

	if ves, ok := err.(validator.ValidationErrors); ok {
		ve := ves[0]
		field := yamlishFieldName(ve)
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())
		return pipezerrors.NewValidationError(field, msg, err)
	}

	return pipezerrors.NewValidationError("document", err.Error(), err)
}

func yamlishFieldName(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	parts := strings.Split(ns, ".")
	var lowered []string
	for _, part := range parts {
		lowered = append(lowered, strings.ToLower(part))
	}
	return strings.Join(lowered, ".")
}

func fieldForOperator(index int, field string) string {
	return fmt.Sprintf("operators[%d].%s", index, field)
}

func fieldForConnection(index int, field string) string {
	return fmt.Sprintf("connections[%d].%s", index, field)
}
