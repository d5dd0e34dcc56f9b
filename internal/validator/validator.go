package validator

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/pauljones0/story-monitor/internal/models"
)

// Validator is a wrapper around the validator library with the story
// monitor's custom tags registered.
type Validator struct {
	validate *validator.Validate
}

// New creates a new Validator instance. The "handle" tag checks the
// platform handle shape.
func New() *Validator {
	v := validator.New()
	_ = v.RegisterValidation("handle", func(fl validator.FieldLevel) bool {
		return models.ValidHandle(fl.Field().String())
	})
	return &Validator{validate: v}
}

// ValidateStruct validates a struct based on its tags.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
