package postengine

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// structValidator implements Validator using struct-tag validation.
type structValidator struct {
	validate *validator.Validate
}

// NewValidator creates the default struct-tag validator used for upload
// submissions and edits.
func NewValidator() Validator {
	return &structValidator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (sv *structValidator) Validate(v interface{}) error {
	err := sv.validate.Struct(v)
	if err == nil {
		return nil
	}

	var violations validator.ValidationErrors
	if errors.As(err, &violations) {
		fields := make([]string, 0, len(violations))
		for _, violation := range violations {
			fields = append(fields, violation.Field())
		}
		return &ValidationError{Fields: fields, Err: err}
	}
	return err
}
