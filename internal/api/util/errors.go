package util

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hbomb79/anyvid/pkg/logger"
	"github.com/labstack/echo/v4"
)

type APIError struct {
	// Human readable error display message
	Message string `json:"message"`

	// A machine readable and stable identifier for the error case being represented
	Code string `json:"code"`

	// Used to alter the HTTP response status in accordance with the error
	Status int `json:"-"`

	// Additional message for internal logging only. Will not be included in the message
	// sent to the user.
	InternalMessage string `json:"-"`
}

// Error satisfies the Go error interface and simply exposes the
// message contained by this APIError.
func (err APIError) Error() string {
	return fmt.Sprintf("api error: %s", err.Message)
}

// GetHTTPErrorHandler returns an echo HTTP error handler
// which understands how to interpret APIError. If an error is
// provided which is not recognized, it will be passed off to the
// fallback HTTP handler provided.
func GetHTTPErrorHandler(fallbackHandler echo.HTTPErrorHandler) echo.HTTPErrorHandler {
	logger := logger.Get("API")
	return func(err error, ctx echo.Context) {
		if ctx.Response().Committed {
			return
		}

		var apiErr APIError
		if ok := errors.As(err, &apiErr); ok {
			if apiErr.Status == 0 {
				apiErr.Status = http.StatusInternalServerError
			}
			if len(apiErr.Message) == 0 {
				apiErr.Message = http.StatusText(apiErr.Status)
			}
			if len(apiErr.Code) == 0 {
				apiErr.Code = http.StatusText(apiErr.Status)
			}
			if len(apiErr.InternalMessage) > 0 {
				logger.Errorf("Request failure, internal error: %s\n", apiErr.InternalMessage)
			}

			if err := ctx.JSON(apiErr.Status, apiErr); err == nil {
				return
			}
		}

		// This is not an APIError (e.g. an echo 404 for an unknown route),
		// just let Echo handle it as it normally would
		logger.Debugf(
			"%s request to %s caused non-API error response (%v), falling back to default HTTP error handling\n",
			ctx.Request().Method, ctx.Request().RequestURI, err,
		)
		fallbackHandler(err, ctx)
	}
}
