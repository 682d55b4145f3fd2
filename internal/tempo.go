package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/hbomb79/Tempo/internal/api"
	"github.com/hbomb79/Tempo/internal/api/ingests"
	"github.com/hbomb79/Tempo/internal/database"
	"github.com/hbomb79/Tempo/internal/download"
	"github.com/hbomb79/Tempo/internal/event"
	"github.com/hbomb79/Tempo/internal/extract"
	"github.com/hbomb79/Tempo/internal/ingest"
	"github.com/hbomb79/Tempo/internal/media"
	"github.com/hbomb79/Tempo/internal/storage"
	"github.com/hbomb79/Tempo/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	RestGateway interface {
		RunnableService
		broadcaster
	}

	IngestService interface {
		RunnableService
		ingests.Service
	}

	// Tempo represents the top-level object for the server, and is responsible
	// for initialising the storage backends, extractors, services, stores
	// and event handling.
	tempoImpl struct {
		eventBus         event.EventCoordinator
		config           TempoConfig
		db               database.Manager
		dataOrchestrator *dataOrchestrator

		backends        storage.Backends
		restGateway     RestGateway
		ingestService   IngestService
		activityService *activityService
	}
)

// New constructs Tempo and all of its services using the config provided. The database
// is not connected until Run is called.
//
// Missing storage or Spotify credentials do not fail construction; the affected backend
// or extractor reports itself as unusable, and ingests which require it are rejected.
func New(ctx context.Context, config TempoConfig) (*tempoImpl, error) {
	log.Emit(logger.DEBUG, "Bootstrapping Tempo services\n")
	tempo := &tempoImpl{
		eventBus: event.New(),
		config:   config,
		db:       database.New(),
	}
	tempo.dataOrchestrator = newDataOrchestrator(tempo.db)

	tempo.backends = storage.NewBackends(ctx, config.Storage)
	for dest, backend := range tempo.backends {
		if err := backend.Usable(); err != nil {
			log.Emit(logger.WARNING, "Storage destination %s is not usable: %v\n", dest, err)
		}
	}

	ytdlp := extract.NewYtDlp(config.Extract.YtDlp)
	registry := extract.NewRegistry(ytdlp, extract.NewSpotify(config.Extract.Spotify))
	for _, platform := range media.Platforms {
		if err := registry.Usable(platform); err != nil {
			log.Emit(logger.WARNING, "Platform %s is not available: %v\n", platform, err)
		}
	}

	coordinator := download.NewCoordinator(config.Download, ytdlp, tempo.backends)

	ingestConfig := config.Ingest
	ingestConfig.DefaultDestination = config.Storage.Default
	if serv, err := ingest.New(ingestConfig, registry, coordinator, tempo.dataOrchestrator, tempo.eventBus); err == nil {
		tempo.ingestService = serv
	} else {
		return nil, fmt.Errorf("failed to construct ingestion service: %w", err)
	}

	tempo.restGateway = api.NewRestGateway(&config.RestConfig, tempo.ingestService, tempo.dataOrchestrator)
	tempo.activityService = newActivityService(tempo.restGateway, tempo.eventBus)

	return tempo, nil
}

// Run will start all of Tempo by connecting to the database and bringing up
// all services.
//
// This function will not return until Tempo is stopped.
// To stop Tempo, the provided context must be cancelled. Errors from which Tempo cannot recover
// will also cause Tempo to stop.
func (tempo *tempoImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel(fmt.Errorf("service %s crashed: %w", label, err))
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	if err := tempo.db.Connect(tempo.config.Database); err != nil {
		return err
	}
	defer tempo.db.Close()

	wg := &sync.WaitGroup{}
	tempo.spawnAsyncService(ctx, wg, tempo.activityService, "activity-service", crashHandler)
	tempo.spawnAsyncService(ctx, wg, tempo.ingestService, "ingest-service", crashHandler)
	tempo.spawnAsyncService(ctx, wg, tempo.restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Tempo services spawned!\n")

	wg.Wait()
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}

// spawnAsyncService will run the provided function/service as it's own
// go-routine, ensuring that the Tempo service waitgroup is updated correctly
func (tempo *tempoImpl) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		if err := service.Run(ctx); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
