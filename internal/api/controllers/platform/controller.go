package platform

import (
	"net/http"
	"strconv"

	"github.com/hbomb79/anyvid/internal/api/util"
	"github.com/hbomb79/anyvid/internal/platform"
	"github.com/labstack/echo/v4"
)

type (
	EmbedDto struct {
		platform.Info
		Supported bool   `json:"supported"`
		Src       string `json:"src,omitempty"`
		Code      string `json:"code"`
	}

	Controller struct{}
)

func New() *Controller { return &Controller{} }

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.classify)
	eg.GET("/embed/", controller.embed)
}

func (controller *Controller) classify(ec echo.Context) error {
	url := ec.QueryParam("url")
	if url == "" {
		return missingURL
	}

	return ec.JSON(http.StatusOK, platform.Classify(url))
}

func (controller *Controller) embed(ec echo.Context) error {
	url := ec.QueryParam("url")
	if url == "" {
		return missingURL
	}

	opts := platform.EmbedOptions{
		Autoplay: queryFlag(ec, "autoplay"),
		Mute:     queryFlag(ec, "mute"),
		Loop:     queryFlag(ec, "loop"),
	}

	info := platform.Classify(url)
	src, err := platform.EmbedSource(info, opts)
	return ec.JSON(http.StatusOK, EmbedDto{
		Info:      info,
		Supported: err == nil,
		Src:       src,
		Code:      platform.EmbedCode(info, opts),
	})
}

var missingURL = util.APIError{Status: http.StatusBadRequest, Code: "MISSING_URL", Message: "Missing url parameter"}

func queryFlag(ec echo.Context, name string) bool {
	v, _ := strconv.ParseBool(ec.QueryParam(name))
	return v
}
