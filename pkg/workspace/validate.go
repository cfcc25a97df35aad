package workspace

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

// validatorInstance returns the shared validator used by the workspace
// package. Field names in errors follow the yaml tags.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		validateInst = v
	})
	return validateInst
}

// convertValidationError normalizes validator errors into ValidationErrors.
func convertValidationError(err error) error {
	if err == nil {
		return nil
	}

	var ves validator.ValidationErrors
	if errors.As(err, &ves) && len(ves) > 0 {
		fe := ves[0]
		field := yamlFieldPath(fe)
		msg := fmt.Sprintf("failed validation for tag '%s'", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed validation for tag '%s=%s'", fe.Tag(), fe.Param())
		}
		return &errors.ValidationError{Field: field, Message: msg}
	}

	return &errors.ValidationError{Field: "workspace", Message: err.Error()}
}

// yamlFieldPath drops the root struct name from the namespace.
func yamlFieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
