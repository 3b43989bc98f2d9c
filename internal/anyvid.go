package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/hbomb79/anyvid/internal/api"
	"github.com/hbomb79/anyvid/internal/database"
	"github.com/hbomb79/anyvid/internal/engine"
	"github.com/hbomb79/anyvid/internal/event"
	"github.com/hbomb79/anyvid/internal/extract"
	"github.com/hbomb79/anyvid/internal/history"
	"github.com/hbomb79/anyvid/internal/transcode"
	"github.com/hbomb79/anyvid/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	// anyVidImpl is the top-level object for the server, and is responsible
	// for initialising the media engine, services, event handling, et cetera...
	anyVidImpl struct {
		eventBus event.EventCoordinator
		config   AnyVidConfig

		engine           *engine.Handle
		transcodeService *transcode.Service
		extractor        *extract.Proxy
	}
)

func New(config AnyVidConfig) (*anyVidImpl, error) {
	log.Emit(logger.DEBUG, "Bootstrapping AnyVid services using config: %#v\n", config)
	anyvid := &anyVidImpl{
		eventBus: event.New(),
		config:   config,
	}

	anyvid.engine = engine.NewHandle(
		engine.NewFfmpegLoader(config.Engine),
		engine.WithStateListener(func(state engine.State) {
			anyvid.eventBus.Dispatch(event.ENGINE_UPDATE, string(state))
		}),
		engine.WithLoadContext(func() (context.Context, context.CancelFunc) {
			return context.WithTimeout(context.Background(), config.Engine.LoadTimeout())
		}),
	)

	serv, err := transcode.New(config.Transcode, anyvid.engine, anyvid.eventBus)
	if err != nil {
		return nil, fmt.Errorf("failed to construct transcode service: %w", err)
	}
	anyvid.transcodeService = serv
	anyvid.extractor = extract.NewCobaltProxy(config.Extract)

	return anyvid, nil
}

// Run will start all of AnyVid by bringing up all required services and connections.
// This function will not return until AnyVid is stopped.
// To stop AnyVid, the provided context must be cancelled. Errors from which AnyVid cannot recover
// will also cause AnyVid to stop.
func (anyvid *anyVidImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	services := api.Services{
		Jobs:             anyvid.transcodeService,
		Engine:           anyvid.engine,
		Extractor:        anyvid.extractor,
		ExtractRateLimit: anyvid.config.Extract.RateLimitPerSecond,
		ExtractRateBurst: anyvid.config.Extract.RateLimitBurst,
		MaxUploadBytes:   anyvid.config.Transcode.MaxUploadBytes,
	}

	wg := &sync.WaitGroup{}
	if anyvid.config.Database.Enabled {
		log.Emit(logger.NEW, "Connecting to database...\n")
		db := database.New()
		if err := db.Connect(ctx, anyvid.config.Database); err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		store := history.NewStore()
		recorder := history.NewRecorder(db.GetSqlxDb(), store, anyvid.transcodeService, anyvid.config.HistoryBufferSize)
		recorder.RegisterHandlers(anyvid.eventBus)
		anyvid.extractor.AddObserver(recorder)
		services.HistoryDB, services.HistoryStore = db.GetSqlxDb(), store

		anyvid.spawnAsyncService(ctx, wg, recorder, "history-recorder", crashHandler)
	} else {
		log.Emit(logger.INFO, "Database disabled, extraction and job history will not be recorded\n")
	}

	gateway := api.NewRestGateway(&anyvid.config.RestConfig, services)
	gateway.RegisterHandlers(anyvid.eventBus)

	anyvid.spawnAsyncService(ctx, wg, anyvid.transcodeService, "transcode-service", crashHandler)
	anyvid.spawnAsyncService(ctx, wg, gateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "AnyVid services spawned, listening on %s\n", anyvid.config.RestConfig.HostAddr)

	wg.Wait()
	return nil
}

// spawnAsyncService will run the provided function/service as it's own
// go-routine, ensuring that the AnyVid service waitgroup is updated correctly
func (anyvid *anyVidImpl) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(ctx); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
