package extract

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hbomb79/anyvid/internal/extract"
	"github.com/hbomb79/anyvid/pkg/logger"
	"github.com/labstack/echo/v4"
)

const (
	missingURLMessage  = "Missing url parameter"
	exhaustedMessage   = "All extraction instances failed. Please try again later or check the URL."
	rateLimitedMessage = "Too many requests, please slow down"

	allowMethods = "GET,OPTIONS,PATCH,DELETE,POST,PUT"
	allowHeaders = "X-CSRF-Token, X-Requested-With, Accept, Accept-Version, Content-Length, Content-MD5, Content-Type, Date, X-Api-Version"
)

var log = logger.Get("ExtractController")

type (
	Extractor interface {
		Extract(context.Context, string) (*extract.Result, error)
	}

	// The response bodies of this endpoint are part of its public contract
	// and intentionally differ from the APIError shape used elsewhere.
	successResponse struct {
		Status string         `json:"status"`
		Data   *extract.Video `json:"data"`
	}

	errorResponse struct {
		Error string            `json:"error"`
		Debug []extract.Attempt `json:"debug,omitempty"`
	}

	Controller struct {
		extractor Extractor
	}
)

func New(extractor Extractor) *Controller {
	return &Controller{extractor: extractor}
}

// SetRoutes registers the extraction routes. The group must already carry
// the CORS middleware, ahead of any rate limiting, so that rejected
// requests remain readable by browsers.
func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.extract)
	eg.OPTIONS("/", controller.preflight)
}

// RateLimitExceeded is the deny handler used by the rate limiter guarding
// this endpoint.
func RateLimitExceeded(ec echo.Context, _ string, _ error) error {
	return ec.JSON(http.StatusTooManyRequests, errorResponse{Error: rateLimitedMessage})
}

func (controller *Controller) extract(ec echo.Context) error {
	url := strings.TrimSpace(ec.QueryParam("url"))
	if url == "" {
		return ec.JSON(http.StatusBadRequest, errorResponse{Error: missingURLMessage})
	}

	result, err := controller.extractor.Extract(ec.Request().Context(), url)
	switch {
	case err == nil:
		return ec.JSON(http.StatusOK, successResponse{Status: "success", Data: result.Video})
	case errors.Is(err, extract.ErrInvalidInput):
		return ec.JSON(http.StatusBadRequest, errorResponse{Error: missingURLMessage})
	case errors.Is(err, context.Canceled):
		// Client went away, nobody is listening for a response
		log.Debugf("Extraction of %s abandoned: %v\n", url, err)
		return err
	}

	log.Warnf("Extraction of %s failed: %v\n", url, err)
	response := errorResponse{Error: exhaustedMessage}
	if result != nil {
		response.Debug = result.Attempts
	}

	return ec.JSON(http.StatusInternalServerError, response)
}

func (controller *Controller) preflight(ec echo.Context) error {
	return ec.NoContent(http.StatusOK)
}

// CORS applies the permissive CORS headers this endpoint has always
// served, on every response including errors.
func CORS(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ec echo.Context) error {
		header := ec.Response().Header()
		header.Set(echo.HeaderAccessControlAllowCredentials, "true")
		header.Set(echo.HeaderAccessControlAllowOrigin, "*")
		header.Set(echo.HeaderAccessControlAllowMethods, allowMethods)
		header.Set(echo.HeaderAccessControlAllowHeaders, allowHeaders)

		return next(ec)
	}
}
