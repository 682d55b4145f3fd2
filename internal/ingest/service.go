package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Tempo/internal/download"
	"github.com/hbomb79/Tempo/internal/event"
	"github.com/hbomb79/Tempo/internal/extract"
	"github.com/hbomb79/Tempo/internal/media"
	"github.com/hbomb79/Tempo/internal/source"
	"github.com/hbomb79/Tempo/internal/storage"
	"github.com/hbomb79/Tempo/pkg/logger"
	"github.com/hbomb79/Tempo/pkg/worker"
	"github.com/mitchellh/go-homedir"
)

var log = logger.Get("IngestServ")

type (
	Extractor interface {
		Usable(platform media.Platform) error
		Extract(ctx context.Context, classification source.Classification) (*extract.Extraction, error)
	}

	Coordinator interface {
		Usable(dest storage.Destination) error
		Process(ctx context.Context, tracks []*media.Track, opts download.Options) (*download.Batch, error)
	}

	DataStore interface {
		// SaveIngestion upserts the tracks, and then the playlist (if not nil)
		// with its ordered membership, atomically.
		SaveIngestion(playlist *media.Playlist, tracks []*media.Track) error
	}

	// ingestService is responsible for managing the URLs submitted
	// to Tempo. Each URL submitted is:
	// - Classified, and rejected if no platform recognizes it
	// - Extracted and normalized in to canonical tracks
	// - Downloaded to the requested destination
	// - Added to Tempo's database
	ingestService struct {
		*sync.Mutex
		pipeline

		config     Config
		items      []*IngestItem
		workerPool *worker.WorkerPool
		ctx        context.Context
	}
)

// New creates a new IngestService, using the provided config for
// subsequent calls to 'Run'.
//
// If the config specifies a 'WatchPath', it is validated to be an existing
// directory. If the directory is missing it will be created, if the path
// provided points to an existing FILE, an error is returned.
func New(config Config, extractor Extractor, coordinator Coordinator, store DataStore, eventBus event.EventDispatcher) (*ingestService, error) {
	if config.WatchPath != "" {
		path, err := homedir.Expand(config.WatchPath)
		if err != nil {
			return nil, fmt.Errorf("watch path '%s' could not be expanded: %w", config.WatchPath, err)
		}
		config.WatchPath = path

		if info, err := os.Stat(path); err == nil {
			if !info.IsDir() {
				return nil, fmt.Errorf("watch path '%s' is not a directory", path)
			}
		} else if errors.Is(err, os.ErrNotExist) {
			if err := os.MkdirAll(path, os.ModeDir|os.ModePerm); err != nil {
				return nil, fmt.Errorf("watch path '%s' could not be created: %w", path, err)
			}
		} else {
			return nil, fmt.Errorf("watch path '%s' could not be accessed: %w", path, err)
		}
	}
	if config.DefaultDestination == "" {
		config.DefaultDestination = storage.LOCAL
	}

	service := &ingestService{
		Mutex: &sync.Mutex{},
		pipeline: pipeline{
			extractor:   extractor,
			coordinator: coordinator,
			data:        store,
			eventBus:    eventBus,
		},
		config:     config,
		items:      make([]*IngestItem, 0),
		workerPool: worker.NewWorkerPool(),
		ctx:        context.Background(),
	}

	parallelism := max(config.IngestionParallelism, 1)
	for i := 0; i < parallelism; i++ {
		label := fmt.Sprintf("ingest-worker-%d", i)
		if err := service.workerPool.PushWorker(worker.NewWorker(label, service.PerformItemIngest)); err != nil {
			return nil, err
		}
	}

	return service, nil
}

// Run is the main entry point of this service. It starts the workers
// which process submitted URLs and, if configured, watches the drop
// folder for files of URLs to submit.
// To kill the service, the calling code should cancel the context
// provided. Ingests in progress observe the cancellation.
func (service *ingestService) Run(ctx context.Context) error {
	service.Lock()
	service.ctx = ctx
	service.Unlock()

	if err := service.workerPool.Start(); err != nil {
		return err
	}
	defer service.workerPool.Close()

	// Items may have been submitted before the pool started.
	service.wakeupWorkerPool()

	if service.config.WatchPath == "" {
		<-ctx.Done()
		return nil
	}

	return service.watch(ctx)
}

// Submit classifies the URL provided and queues it for ingestion. URLs
// which no platform recognizes, and destinations or platforms which are
// not configured, are rejected immediately; no item is created for them.
func (service *ingestService) Submit(url string, opts Options) (*IngestItem, error) {
	classification, err := source.Classify(url)
	if err != nil {
		return nil, err
	}

	if opts.Destination == "" {
		opts.Destination = service.config.DefaultDestination
	}
	if err := service.coordinator.Usable(opts.Destination); err != nil {
		return nil, err
	}
	if err := service.extractor.Usable(classification.Platform); err != nil {
		return nil, err
	}

	item := &IngestItem{
		ID:             uuid.New(),
		URL:            classification.URL,
		Classification: classification,
		Options:        opts,
		State:          IDLE,
		CreatedAt:      time.Now(),
	}

	service.Lock()
	service.items = append(service.items, item)
	service.Unlock()

	log.Emit(logger.NEW, "Submitted %s %s ingest %s\n", classification.Platform, classification.Kind, item)
	service.eventBus.Dispatch(event.INGEST_UPDATE, item.ID)
	service.wakeupWorkerPool()

	return item, nil
}

// PerformItemIngest is the worker function for the IngestService, which is called
// by the services WorkerPool.
// This function will claim the first IDLE item it finds and attempt to ingest it.
// If the ingestion fails with a Trouble, then it will be set on
// the item and it's state set to TROUBLED.
func (service *ingestService) PerformItemIngest(w worker.Worker) (bool, error) {
	ctx := service.context()
	if ctx.Err() != nil {
		return false, nil
	}

	item := service.claimIdleItem()
	if item == nil {
		return false, nil
	}
	service.eventBus.Dispatch(event.INGEST_UPDATE, item.ID)

	report, err := item.ingest(ctx, service.pipeline)

	service.Lock()
	item.Report = report
	if err != nil {
		var trbl Trouble
		if !errors.As(err, &trbl) {
			trbl = Trouble{error: err, tType: DOWNLOAD_FAILURE}
		}

		log.Emit(logger.WARNING, "Ingestion of %s raised a trouble (%s): %v\n", item, trbl.Type(), trbl)
		item.Trouble = &trbl
		item.State = TROUBLED
	} else {
		item.State = COMPLETE
	}
	service.Unlock()

	service.eventBus.Dispatch(event.INGEST_UPDATE, item.ID)
	if err == nil {
		service.eventBus.Dispatch(event.INGEST_COMPLETE, item.ID)
	}

	return true, nil
}

// RemoveIngest looks for an item with the ID provided in the services
// state, and removes it if it's found.
// This method *fails* if the item is currently 'INGESTING' as interrupting
// the ingestion is not possible.
// This method does not error if the itemID does not exist.
//
// Note: This function takes ownership of the mutex and releases it on return
func (service *ingestService) RemoveIngest(itemID uuid.UUID) error {
	service.Lock()
	defer service.Unlock()

	for k, v := range service.items {
		if v.ID == itemID {
			if v.State == INGESTING {
				return fmt.Errorf("cannot remove item %v: %w", itemID, ErrIngestInProgress)
			}

			service.items = append(service.items[:k], service.items[k+1:]...)
			break
		}
	}

	return nil
}

// GetIngest accepts the ID of an ingest item and attempts to find it
// in the services queue. If it cannot be found, nil is returned.
func (service *ingestService) GetIngest(itemID uuid.UUID) *IngestItem {
	service.Lock()
	defer service.Unlock()

	return service.findItem(itemID)
}

// GetAllIngests returns a copy of the slice containing all
// the IngestItems being processed by this service.
func (service *ingestService) GetAllIngests() []*IngestItem {
	service.Lock()
	defer service.Unlock()

	out := make([]*IngestItem, len(service.items))
	copy(out, service.items)
	return out
}

// ResolveTroubledIngest applies the resolution method to the troubled
// item. Retrying returns the item to the queue; aborting removes it.
func (service *ingestService) ResolveTroubledIngest(itemID uuid.UUID, method ResolutionType) error {
	service.Lock()
	item := service.findItem(itemID)
	if item == nil {
		service.Unlock()
		return ErrIngestNotFound
	}
	if item.State != TROUBLED || item.Trouble == nil {
		service.Unlock()
		return ErrNoTrouble
	}

	resolution, err := item.Trouble.GenerateResolution(method)
	if err != nil {
		service.Unlock()
		return err
	}

	switch resolution.(type) {
	case *AbortResolution:
		service.Unlock()
		log.Emit(logger.REMOVE, "Aborting troubled ingest %s\n", item)
		return service.RemoveIngest(itemID)
	case *RetryResolution:
		log.Emit(logger.INFO, "Retrying troubled ingest %s\n", item)
		item.Trouble = nil
		item.State = IDLE
		service.Unlock()

		service.eventBus.Dispatch(event.INGEST_UPDATE, item.ID)
		service.wakeupWorkerPool()
		return nil
	}

	service.Unlock()
	return ErrResolutionIncompatible
}

// claimIdleItem will try and find an IDLE item in the ingest service,
// and set it's state to 'INGESTING' to prevent another
// worker from claiming it once the mutex lock is released.
//
// Note: This function takes ownership of the mutex, and releases it when returning
func (service *ingestService) claimIdleItem() *IngestItem {
	service.Lock()
	defer service.Unlock()

	for _, item := range service.items {
		if item.State == IDLE {
			item.State = INGESTING
			return item
		}
	}

	return nil
}

// findItem requires the caller to hold the mutex.
func (service *ingestService) findItem(itemID uuid.UUID) *IngestItem {
	for _, item := range service.items {
		if item.ID == itemID {
			return item
		}
	}

	return nil
}

func (service *ingestService) context() context.Context {
	service.Lock()
	defer service.Unlock()

	return service.ctx
}

func (service *ingestService) wakeupWorkerPool() {
	if err := service.workerPool.WakeupWorkers(); err != nil {
		log.Emit(logger.VERBOSE, "Unable to wake ingest workers: %v\n", err)
	}
}
