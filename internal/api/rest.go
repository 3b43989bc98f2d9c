package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/hbomb79/anyvid/internal/api/controllers/engine"
	"github.com/hbomb79/anyvid/internal/api/controllers/extract"
	"github.com/hbomb79/anyvid/internal/api/controllers/history"
	"github.com/hbomb79/anyvid/internal/api/controllers/jobs"
	"github.com/hbomb79/anyvid/internal/api/controllers/platform"
	"github.com/hbomb79/anyvid/internal/api/util"
	"github.com/hbomb79/anyvid/internal/database"
	"github.com/hbomb79/anyvid/internal/http/websocket"
	"github.com/hbomb79/anyvid/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

var log = logger.Get("API")

const apiPrefix = "/api/anyvid/v1"

type (
	RestConfig struct {
		HostAddr       string   `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080"`
		AllowedOrigins []string `yaml:"allowed_origins" env:"API_ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
	}

	engineHandle interface {
		engine.Handle
		engineState
	}

	// Services holds the collaborators the gateway exposes. HistoryDB may be
	// nil, in which case the history endpoints are not registered.
	Services struct {
		Jobs             jobs.Service
		Engine           engineHandle
		Extractor        extract.Extractor
		ExtractRateLimit float64
		ExtractRateBurst int
		MaxUploadBytes   int64
		HistoryDB        database.Queryable
		HistoryStore     history.Store
	}

	// The RestGateway is a thin-wrapper around the Echo HTTP router. It's sole responsibility
	// is to create the routes AnyVid exposes, and to manage ongoing web socket connections and events.
	RestGateway struct {
		*broadcaster
		config *RestConfig
		ec     *echo.Echo
		socket *websocket.SocketHub
	}
)

// NewRestGateway constructs the Echo router and populates it with all the
// routes defined by the various controllers.
func NewRestGateway(config *RestConfig, services Services) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true
	ec.Validator = util.NewRequestValidator()
	ec.HTTPErrorHandler = util.GetHTTPErrorHandler(ec.DefaultHTTPErrorHandler)

	socket := websocket.New()
	gateway := &RestGateway{
		broadcaster: newBroadcaster(socket, services.Jobs, services.Engine),
		config:      config,
		ec:          ec,
		socket:      socket,
	}

	ec.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool { return c.Path() == "/metrics/" },
	}))
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/metrics/", echo.WrapHandler(promhttp.Handler()))

	extractLimiter := middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(ec echo.Context) bool { return ec.Request().Method == http.MethodOptions },
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:  rate.Limit(services.ExtractRateLimit),
			Burst: services.ExtractRateBurst,
		}),
		DenyHandler: extract.RateLimitExceeded,
		ErrorHandler: func(ec echo.Context, err error) error {
			return util.APIError{Status: http.StatusForbidden, InternalMessage: err.Error()}
		},
	})
	extract.New(services.Extractor).SetRoutes(ec.Group("/api/extract", extract.CORS, extractLimiter))

	v1 := ec.Group(apiPrefix, middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: config.AllowedOrigins}))
	v1.GET("/activity/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	var jobMiddleware []echo.MiddlewareFunc
	if services.MaxUploadBytes > 0 {
		jobMiddleware = append(jobMiddleware, middleware.BodyLimit(fmt.Sprintf("%dB", services.MaxUploadBytes)))
	}
	jobs.New(services.Jobs).SetRoutes(v1.Group("/jobs", jobMiddleware...))
	engine.New(services.Engine).SetRoutes(v1.Group("/engine"))
	platform.New().SetRoutes(v1.Group("/platform"))
	if services.HistoryDB != nil {
		history.New(services.HistoryDB, services.HistoryStore).SetRoutes(v1.Group("/history"))
	}

	return gateway
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	// Start echo router
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ctxCancel(err)
		}
	}()

	// Start thread to listen for context cancellation
	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	// Start websocket
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}

// ServeHTTP exposes the router directly, allowing the gateway to be mounted
// in to an httptest server.
func (gateway *RestGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gateway.ec.ServeHTTP(w, r)
}

// StartSocket runs the activity socket hub without the HTTP listener.
func (gateway *RestGateway) StartSocket(ctx context.Context) {
	gateway.socket.Start(ctx)
}
