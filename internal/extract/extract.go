package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/hbomb79/Tempo/internal/media"
	"github.com/hbomb79/Tempo/internal/source"
	"github.com/hbomb79/Tempo/pkg/logger"
)

var (
	log = logger.Get("Extract")

	ErrExtractorUnavailable = errors.New("extractor unavailable")
	ErrNoRecords            = errors.New("extraction produced no records")
)

type (
	// RawMetadata is an opaque mapping as produced by a platforms
	// extraction tool. Only the normalizer reads from it.
	RawMetadata map[string]any

	// Extraction is the result of extracting a single URL. For playlists,
	// Playlist holds the container level metadata and Tracks holds one
	// record per member in source order. For tracks, Playlist is nil and
	// Tracks holds exactly one record.
	Extraction struct {
		Playlist RawMetadata
		Tracks   []RawMetadata
	}

	Extractor interface {
		Extract(ctx context.Context, classification source.Classification) (*Extraction, error)
		// Usable returns a non-nil error if the extractor cannot be used,
		// for example because credentials are missing.
		Usable() error
	}

	// ExtractionError is returned when extraction of a URL fails. Any
	// partially extracted metadata is discarded.
	ExtractionError struct {
		URL    string
		Stderr string
		Err    error
	}

	// Registry selects the Extractor to use for a given platform.
	Registry map[media.Platform]Extractor
)

func (e *ExtractionError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("extraction of %s failed: %v (stderr: %s)", e.URL, e.Err, e.Stderr)
	}

	return fmt.Sprintf("extraction of %s failed: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// NewRegistry constructs the platform table. YouTube and SoundCloud share
// the generic extraction tool, whereas Spotify uses the platform API.
func NewRegistry(tool *YtDlp, spotify *Spotify) Registry {
	return Registry{
		media.YouTube:    tool,
		media.SoundCloud: tool,
		media.Spotify:    spotify,
	}
}

// Usable returns an error wrapping ErrExtractorUnavailable if the
// platform has no extractor, or its extractor is not usable.
func (r Registry) Usable(platform media.Platform) error {
	ex, ok := r[platform]
	if !ok || ex == nil {
		return fmt.Errorf("%w: no extractor registered for %s", ErrExtractorUnavailable, platform)
	}

	return ex.Usable()
}

// Extract delegates to the extractor registered for the classification's platform.
func (r Registry) Extract(ctx context.Context, classification source.Classification) (*Extraction, error) {
	if err := r.Usable(classification.Platform); err != nil {
		return nil, err
	}

	log.Emit(logger.DEBUG, "Extracting %s %s from %s\n", classification.Platform, classification.Kind, classification.URL)
	extraction, err := r[classification.Platform].Extract(ctx, classification)
	if err != nil {
		return nil, err
	}

	log.Emit(logger.INFO, "Extracted %d record(s) from %s\n", len(extraction.Tracks), classification.URL)
	return extraction, nil
}
