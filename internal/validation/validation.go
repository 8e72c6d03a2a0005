// Package validation wraps go-playground/validator and turns its failures
// into apperr validation errors keyed by JSON field name.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/apperr"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	return v
}

// Struct validates v against its `validate` tags.
func Struct(v any) error {
	fields, err := Fields(v)
	if err != nil {
		return err
	}
	if len(fields) > 0 {
		return apperr.Validation(fields)
	}
	return nil
}

// Fields validates v and returns the failures keyed by JSON path, such as
// "title" or "milestones[0].amount". Callers add their own cross-field checks
// before turning the map into an error.
func Fields(v any) (map[string]string, error) {
	err := validate.Struct(v)
	if err == nil {
		return map[string]string{}, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, apperr.Invalid("body", err.Error())
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[path(fe)] = message(fe)
	}
	return fields, nil
}

// Var validates a single value, reporting failures under field.
func Var(field string, v any, tag string) error {
	err := validate.Var(v, tag)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Invalid(field, err.Error())
	}
	return apperr.Invalid(field, message(verrs[0]))
}

// path drops the root struct name from the namespace.
func path(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

// Email reports whether s is a syntactically valid address.
func Email(s string) bool {
	return validate.Var(s, "required,email") == nil
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "uuid", "uuid4":
		return "must be a valid id"
	case "gte":
		if fe.Param() == "0" {
			return "must not be negative"
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}
