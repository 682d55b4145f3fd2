package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Tempo/internal/download"
	"github.com/hbomb79/Tempo/internal/event"
	"github.com/hbomb79/Tempo/internal/media"
	"github.com/hbomb79/Tempo/internal/normalize"
	"github.com/hbomb79/Tempo/internal/source"
	"github.com/hbomb79/Tempo/internal/storage"
	"github.com/hbomb79/Tempo/pkg/logger"
)

type (
	IngestItemState int

	// Options tailor how a single ingest is processed.
	Options struct {
		Destination storage.Destination
		// AudioFormat overrides the configured codec when set.
		AudioFormat string
		// Fresh removes any artifacts previously stored for the
		// playlist before its members are downloaded.
		Fresh bool
	}

	// Report describes the outcome of the most recent attempt at an ingest.
	Report struct {
		Kind     media.Kind
		Playlist *media.Playlist
		// Tracks holds every normalized track in source order.
		Tracks []*media.Track
		// Saved holds the tracks persisted, in source order.
		Saved   []*media.Track
		Results []*download.Result
		// Failures holds the member tracks which could not be normalized.
		Failures  []*normalize.NormalizationError
		Succeeded bool
	}

	IngestItem struct {
		ID             uuid.UUID
		URL            string
		Classification source.Classification
		Options        Options
		State          IngestItemState
		Trouble        *Trouble
		Report         *Report
		CreatedAt      time.Time
	}

	// pipeline is the set of collaborators an item needs to be ingested.
	pipeline struct {
		extractor   Extractor
		coordinator Coordinator
		data        DataStore
		eventBus    event.EventDispatcher
	}
)

const (
	IDLE IngestItemState = iota
	INGESTING
	TROUBLED
	COMPLETE
)

var (
	ErrNoTrouble              = errors.New("ingestion has no trouble")
	ErrIngestNotFound         = errors.New("no ingest task could be found")
	ErrIngestInProgress       = errors.New("ingest is currently being processed")
	ErrResolutionIncompatible = errors.New("provided resolution method is not valid for ingestion trouble")
)

// ingest is the main task for an ingest item which:
// - Extracts the raw metadata for the URL
// - Normalizes the metadata in to canonical tracks (and playlist)
// - Downloads every track to the destination
// - Saves the tracks (and playlist) to the database
// Errors returned are always a Trouble. The report is returned even when
// a trouble is, so the outcome of each track can be inspected.
func (item *IngestItem) ingest(ctx context.Context, p pipeline) (*Report, error) {
	log.Emit(logger.NEW, "Beginning ingestion of item %s\n", item)
	classification := item.Classification

	extraction, err := p.extractor.Extract(ctx, classification)
	if err != nil {
		return nil, newTrouble(EXTRACTION_FAILURE, err)
	}

	normalized, err := normalize.Normalize(classification.Platform, classification.Kind, extraction)
	if err != nil {
		return nil, newTrouble(NORMALIZATION_FAILURE, err)
	}

	report := &Report{
		Kind:     classification.Kind,
		Playlist: normalized.Playlist,
		Tracks:   normalized.Tracks,
		Failures: normalized.Failures,
	}

	log.Emit(logger.DEBUG, "Normalized %d track(s) for %s (%d failure(s))\n", len(normalized.Tracks), item, len(normalized.Failures))
	batch, err := p.coordinator.Process(ctx, normalized.Tracks, download.Options{
		Destination: item.Options.Destination,
		AudioFormat: item.Options.AudioFormat,
		Playlist:    normalized.Playlist,
		Fresh:       item.Options.Fresh,
	})
	if err != nil {
		return report, newTrouble(DOWNLOAD_FAILURE, err)
	}

	report.Results = batch.Results
	report.Succeeded = batch.Succeeded()
	report.Saved = savable(normalized.Tracks, batch)
	if len(report.Saved) == 0 {
		return report, newTrouble(DOWNLOAD_FAILURE, fmt.Errorf("all %d track(s) failed to download", len(normalized.Tracks)))
	}

	if report.Playlist != nil {
		report.Playlist.Tracks = report.Saved
	}
	if err := p.data.SaveIngestion(report.Playlist, report.Saved); err != nil {
		return report, newTrouble(PERSISTENCE_FAILURE, err)
	}

	for _, track := range report.Saved {
		p.eventBus.Dispatch(event.TRACK_SAVED, track.ID)
	}

	log.Emit(logger.SUCCESS, "Saved %d track(s) for %s\n", len(report.Saved), item)
	if failed := batch.Count(download.FAILED); failed > 0 {
		log.Emit(logger.WARNING, "Ingest %s partially succeeded: %d of %d track(s) failed\n", item, failed, len(batch.Results))
	}

	return report, nil
}

// savable returns the tracks, in source order, whose download did not fail.
// Tracks which already existed are included so their metadata is refreshed.
func savable(tracks []*media.Track, batch *download.Batch) []*media.Track {
	failed := make(map[*media.Track]struct{})
	for _, r := range batch.Failures() {
		failed[r.Track] = struct{}{}
	}

	out := make([]*media.Track, 0, len(tracks))
	for _, t := range tracks {
		if _, ok := failed[t]; !ok {
			out = append(out, t)
		}
	}

	return out
}

func (item *IngestItem) String() string {
	return fmt.Sprintf("IngestItem{ID=%s url=%s state=%s}", item.ID, item.URL, item.State)
}

func (s IngestItemState) String() string {
	switch s {
	case IDLE:
		return fmt.Sprintf("IDLE[%d]", s)
	case INGESTING:
		return fmt.Sprintf("INGESTING[%d]", s)
	case TROUBLED:
		return fmt.Sprintf("TROUBLED[%d]", s)
	case COMPLETE:
		return fmt.Sprintf("COMPLETE[%d]", s)
	default:
		return fmt.Sprintf("UNKNOWN[%d]", s)
	}
}
