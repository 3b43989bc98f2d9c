package jobs

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/hbomb79/anyvid/internal/api/util"
	"github.com/hbomb79/anyvid/internal/transcode"
	"github.com/hbomb79/anyvid/pkg/logger"
	"github.com/labstack/echo/v4"
)

var log = logger.Get("JobsController")

type (
	Service interface {
		NewJob(transcode.Source, transcode.Operation) (*transcode.Job, error)
		Job(uuid.UUID) (*transcode.Job, bool)
		AllJobs() []*transcode.Job
		CancelJob(uuid.UUID) error
		RetryJob(uuid.UUID) error
		RemoveJob(uuid.UUID) error
		Config() transcode.Config
	}

	// CreateRequest holds the form fields of a job submission. Numeric
	// fields are kept as strings so that absent and zero can be told apart.
	CreateRequest struct {
		Operation     string `form:"operation" validate:"required,oneof=convert trim"`
		Format        string `form:"format" validate:"required_if=Operation convert,omitempty,oneof=mp4 webm mkv mov avi"`
		Quality       string `form:"quality" validate:"omitempty,oneof=low medium high"`
		Start         string `form:"start" validate:"omitempty,numeric"`
		End           string `form:"end" validate:"omitempty,numeric"`
		StartFraction string `form:"start_fraction" validate:"omitempty,numeric"`
		EndFraction   string `form:"end_fraction" validate:"omitempty,numeric"`
		Accurate      string `form:"accurate" validate:"omitempty,boolean"`
	}

	Controller struct {
		service Service
	}
)

func New(service Service) *Controller {
	return &Controller{service: service}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/", controller.create)
	eg.GET("/", controller.list)
	eg.GET("/:id/", controller.get)
	eg.DELETE("/:id/", controller.delete)
	eg.POST("/:id/retry/", controller.retry)
	eg.GET("/:id/output/", controller.output)
}

// create accepts a multipart form containing the source 'file' and the
// operation to apply to it, and queues a new job.
func (controller *Controller) create(ec echo.Context) error {
	var request CreateRequest
	if err := ec.Bind(&request); err != nil {
		return util.APIError{Status: http.StatusBadRequest, Code: "INVALID_FORM", Message: "Request form is malformed"}
	}
	if err := ec.Validate(&request); err != nil {
		return err
	}

	operation, err := controller.buildOperation(request)
	if err != nil {
		return util.APIError{Status: http.StatusBadRequest, Code: "INVALID_OPERATION", Message: err.Error()}
	}

	source, err := readSource(ec)
	if err != nil {
		return err
	}

	job, err := controller.service.NewJob(source, operation)
	if err != nil {
		return jobError(err)
	}

	log.Emit(logger.NEW, "Accepted %s job %s for %q\n", operation.Kind(), job.ID(), source.Name)
	return ec.JSON(http.StatusCreated, NewDto(job))
}

func (controller *Controller) list(ec echo.Context) error {
	return ec.JSON(http.StatusOK, util.ApplyConversion(controller.service.AllJobs(), NewDto))
}

func (controller *Controller) get(ec echo.Context) error {
	job, err := controller.findJob(ec)
	if err != nil {
		return err
	}

	return ec.JSON(http.StatusOK, NewDto(job))
}

// delete cancels a job which has not yet finished, or discards a job which
// has.
func (controller *Controller) delete(ec echo.Context) error {
	job, err := controller.findJob(ec)
	if err != nil {
		return err
	}

	if !job.State().IsTerminal() {
		if err := controller.service.CancelJob(job.ID()); err != nil {
			return jobError(err)
		}

		return ec.JSON(http.StatusOK, NewDto(job))
	}

	if err := controller.service.RemoveJob(job.ID()); err != nil {
		return jobError(err)
	}

	return ec.NoContent(http.StatusNoContent)
}

func (controller *Controller) retry(ec echo.Context) error {
	job, err := controller.findJob(ec)
	if err != nil {
		return err
	}

	if err := controller.service.RetryJob(job.ID()); err != nil {
		return jobError(err)
	}

	return ec.JSON(http.StatusAccepted, NewDto(job))
}

// output downloads the artifact produced by a successful job.
func (controller *Controller) output(ec echo.Context) error {
	job, err := controller.findJob(ec)
	if err != nil {
		return err
	}

	artifact := job.Artifact()
	if artifact == nil {
		return util.APIError{Status: http.StatusConflict, Code: "NO_OUTPUT", Message: "Job has not produced an output"}
	}

	ec.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", artifact.Name))
	return ec.Blob(http.StatusOK, artifact.MIME, artifact.Data)
}

func (controller *Controller) findJob(ec echo.Context) (*transcode.Job, error) {
	id, err := util.ParseIDParam(ec)
	if err != nil {
		return nil, err
	}

	job, ok := controller.service.Job(id)
	if !ok {
		return nil, util.APIError{Status: http.StatusNotFound, Code: "JOB_NOT_FOUND", Message: "Job not found"}
	}

	return job, nil
}

func (controller *Controller) buildOperation(request CreateRequest) (transcode.Operation, error) {
	if request.Operation == string(transcode.ConvertKind) {
		quality := transcode.Quality(request.Quality)
		if quality == "" {
			quality = transcode.QualityMedium
		}

		return transcode.ConvertOperation{Format: transcode.Format(request.Format), Quality: quality}, nil
	}

	accurate := controller.service.Config().AccurateTrim
	if request.Accurate != "" {
		accurate, _ = strconv.ParseBool(request.Accurate)
	}

	switch {
	case request.Start != "" && request.End != "":
		start, _ := strconv.ParseFloat(request.Start, 64)
		end, _ := strconv.ParseFloat(request.End, 64)
		return transcode.TrimOperation{Start: start, End: end, Accurate: accurate}, nil
	case request.StartFraction != "" && request.EndFraction != "":
		start, _ := strconv.ParseFloat(request.StartFraction, 64)
		end, _ := strconv.ParseFloat(request.EndFraction, 64)
		return transcode.TrimOperation{Start: start, End: end, Fractional: true, Accurate: accurate}, nil
	}

	return nil, errors.New("trim requires either start and end, or start_fraction and end_fraction")
}

func readSource(ec echo.Context) (transcode.Source, error) {
	header, err := ec.FormFile("file")
	if err != nil {
		return transcode.Source{}, util.APIError{Status: http.StatusBadRequest, Code: "MISSING_FILE", Message: "Request must include a 'file'"}
	}

	file, err := header.Open()
	if err != nil {
		return transcode.Source{}, util.APIError{Status: http.StatusBadRequest, Code: "UNREADABLE_FILE", InternalMessage: err.Error()}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return transcode.Source{}, util.APIError{Status: http.StatusBadRequest, Code: "UNREADABLE_FILE", InternalMessage: err.Error()}
	}

	return transcode.Source{Name: header.Filename, Data: data}, nil
}

func jobError(err error) error {
	switch {
	case errors.Is(err, transcode.ErrInvalidInput):
		return util.APIError{Status: http.StatusBadRequest, Code: "INVALID_INPUT", Message: err.Error()}
	case errors.Is(err, transcode.ErrJobNotFound):
		return util.APIError{Status: http.StatusNotFound, Code: "JOB_NOT_FOUND", Message: "Job not found"}
	case errors.Is(err, transcode.ErrJobNotTerminal):
		return util.APIError{Status: http.StatusConflict, Code: "JOB_NOT_FINISHED", Message: "Job has not finished"}
	case errors.Is(err, transcode.ErrQueueFull):
		return util.APIError{Status: http.StatusServiceUnavailable, Code: "QUEUE_FULL", Message: "Too many jobs are queued, please retry later"}
	}

	return util.APIError{Status: http.StatusInternalServerError, InternalMessage: err.Error()}
}
