package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	creditentity "github.com/vadim/neo-publisher/internal/domain/credit/entity"
)

// NewValidator creates the request validator shared by all handlers.
// Field names in messages follow the json tags.
func NewValidator() *validator.Validate {
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
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("cpf", func(fl validator.FieldLevel) bool {
		return creditentity.ValidCPF(creditentity.NormalizeCPF(fl.Field().String()))
	})
	return v
}

// validationMessage renders validator errors as a single client-facing line
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Validation error: " + err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required", "required_if", "required_unless":
			parts = append(parts, fe.Field()+" is required")
		case "cpf":
			parts = append(parts, fe.Field()+" is not a valid CPF")
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		case "min", "max":
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
		}
	}
	return "Validation error: " + strings.Join(parts, "; ")
}
