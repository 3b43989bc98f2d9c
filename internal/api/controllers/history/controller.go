package history

import (
	"net/http"
	"strconv"

	"github.com/hbomb79/anyvid/internal/api/util"
	"github.com/hbomb79/anyvid/internal/database"
	"github.com/hbomb79/anyvid/internal/history"
	"github.com/labstack/echo/v4"
)

type (
	Store interface {
		ListAttempts(database.Queryable, history.AttemptFilter) ([]*history.AttemptRecord, error)
		ListJobs(database.Queryable, uint64) ([]*history.JobRecord, error)
	}

	Controller struct {
		db    database.Queryable
		store Store
	}
)

func New(db database.Queryable, store Store) *Controller {
	return &Controller{db: db, store: store}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/extractions/", controller.listExtractions)
	eg.GET("/jobs/", controller.listJobs)
}

func (controller *Controller) listExtractions(ec echo.Context) error {
	limit, err := parseLimit(ec)
	if err != nil {
		return err
	}

	records, err := controller.store.ListAttempts(controller.db, history.AttemptFilter{
		Endpoint: ec.QueryParam("endpoint"),
		Outcome:  ec.QueryParam("outcome"),
		Limit:    limit,
	})
	if err != nil {
		return util.APIError{Status: http.StatusInternalServerError, InternalMessage: err.Error()}
	}

	return ec.JSON(http.StatusOK, nonNil(records))
}

func (controller *Controller) listJobs(ec echo.Context) error {
	limit, err := parseLimit(ec)
	if err != nil {
		return err
	}

	records, err := controller.store.ListJobs(controller.db, limit)
	if err != nil {
		return util.APIError{Status: http.StatusInternalServerError, InternalMessage: err.Error()}
	}

	return ec.JSON(http.StatusOK, nonNil(records))
}

func parseLimit(ec echo.Context) (uint64, error) {
	raw := ec.QueryParam("limit")
	if raw == "" {
		return 0, nil
	}

	limit, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || limit > 500 {
		return 0, util.APIError{Status: http.StatusBadRequest, Code: "INVALID_LIMIT", Message: "limit must be a number between 0 and 500"}
	}

	return limit, nil
}

func nonNil[T any](records []T) []T {
	if records == nil {
		return []T{}
	}

	return records
}
