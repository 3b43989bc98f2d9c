package util

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ApplyConversion applies a converter function to each of the models
// provided to this function. The returned value is a slice which
// has been converted to the new values based on the returned value
// from the converter. A nil input yields an empty (non-nil) slice so that
// list endpoints always render a JSON array.
func ApplyConversion[T any, K any](models []T, converter func(T) K) []K {
	dtos := make([]K, 0, len(models))
	for _, v := range models {
		dtos = append(dtos, converter(v))
	}

	return dtos
}

// ParseIDParam reads the 'id' path parameter as a UUID.
func ParseIDParam(ec echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return uuid.Nil, APIError{Status: http.StatusBadRequest, Code: "INVALID_ID", Message: "ID is not a valid UUID"}
	}

	return id, nil
}
