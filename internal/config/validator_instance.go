package config

import (
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	semverPattern       = regexp.MustCompile(`^\d+\.\d+\.\d+(?:-[0-9A-Za-z-.]+)?(?:\+[0-9A-Za-z-.]+)?$`)
	instanceNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
	operatorTypePattern = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*$`)
)

// validatorInstance configures and returns the shared validator instance used across the config package.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
			return semverPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("instance_name", func(fl validator.FieldLevel) bool {
			return instanceNamePattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("operator_type", func(fl validator.FieldLevel) bool {
			return operatorTypePattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("port_ref", func(fl validator.FieldLevel) bool {
			op, port, ok := strings.Cut(fl.Field().String(), ".")
			return ok && instanceNamePattern.MatchString(op) && instanceNamePattern.MatchString(port)
		})

		validateInst = v
	})

	return validateInst
}

// GetValidator returns a configured validator instance for use outside the config package.
func GetValidator() *validator.Validate {
	return validatorInstance()
}
