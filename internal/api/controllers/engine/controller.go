package engine

import (
	"context"
	"net/http"

	"github.com/hbomb79/anyvid/internal/api/util"
	"github.com/hbomb79/anyvid/internal/engine"
	"github.com/hbomb79/anyvid/pkg/logger"
	"github.com/labstack/echo/v4"
)

var log = logger.Get("EngineController")

type (
	Handle interface {
		Acquire(context.Context) (engine.Engine, error)
		IsReady() bool
		State() engine.State
		Reset() bool
	}

	Dto struct {
		Ready bool   `json:"ready"`
		State string `json:"state"`
	}

	Controller struct {
		handle Handle
	}
)

func New(handle Handle) *Controller {
	return &Controller{handle: handle}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.get)
	eg.POST("/warmup/", controller.warmup)
	eg.POST("/reset/", controller.reset)
}

func (controller *Controller) get(ec echo.Context) error {
	return ec.JSON(http.StatusOK, controller.dto())
}

// warmup begins loading the engine in the background so that the first job
// does not have to wait for it. Progress is reported via ENGINE_UPDATE
// activity messages.
func (controller *Controller) warmup(ec echo.Context) error {
	if controller.handle.IsReady() {
		return ec.JSON(http.StatusOK, controller.dto())
	}

	go func() {
		if _, err := controller.handle.Acquire(context.Background()); err != nil {
			log.Warnf("Engine warmup failed: %v\n", err)
		}
	}()

	return ec.JSON(http.StatusAccepted, controller.dto())
}

// reset clears a failed engine load so that the next acquisition retries it.
func (controller *Controller) reset(ec echo.Context) error {
	if !controller.handle.Reset() {
		return util.APIError{Status: http.StatusConflict, Code: "ENGINE_NOT_FAILED", Message: "Engine can only be reset after a failed load"}
	}

	return ec.JSON(http.StatusOK, controller.dto())
}

func (controller *Controller) dto() Dto {
	return Dto{Ready: controller.handle.IsReady(), State: string(controller.handle.State())}
}
