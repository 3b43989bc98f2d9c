package util

import (
	"net/http"

	"github.com/go-playground/validator/v10"
)

// RequestValidator adapts go-playground's validator to echo's Validator
// interface. Validation failures are reported as a 400 APIError.
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New()}
}

func (v *RequestValidator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return APIError{Status: http.StatusBadRequest, Code: "VALIDATION_FAILED", Message: err.Error()}
	}

	return nil
}
