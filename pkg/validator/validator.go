package validator

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}

		return name
	})

	return &Validator{validate: v}
}

// Validate checks i against its struct tags and returns one FieldError
// per failed field. ok is false when any field failed.
func (v *Validator) Validate(i any) ([]FieldError, bool) {
	err := v.validate.Struct(i)
	if err == nil {
		return nil, true
	}

	validationErrors := err.(validator.ValidationErrors)
	fieldErrors := make([]FieldError, 0, len(validationErrors))
	for _, fe := range validationErrors {
		var message string
		switch fe.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", fe.Field())
		case "min", "gte":
			message = fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
		case "max", "lte":
			message = fmt.Sprintf("%s must not exceed %s", fe.Field(), fe.Param())
		default:
			message = fmt.Sprintf("%s is invalid", fe.Field())
		}

		fieldErrors = append(fieldErrors, FieldError{
			Field:   fe.Field(),
			Code:    strings.ToUpper(fe.Tag()),
			Message: message,
		})
	}

	return fieldErrors, false
}
