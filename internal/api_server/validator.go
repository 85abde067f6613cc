package apiserver

import (
	"github.com/go-playground/validator/v10"
)

// Validator checks decoded request bodies against their validate tags.
type Validator struct {
	validator *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{validator: validator.New(validator.WithRequiredStructEnabled())}
}

func (v *Validator) Struct(s any) error {
	return v.validator.Struct(s)
}
