package normalize

import (
	"errors"
	"fmt"
	"time"

	"github.com/hbomb79/Tempo/internal/extract"
	"github.com/hbomb79/Tempo/internal/media"
	"github.com/hbomb79/Tempo/pkg/logger"
	"github.com/mitchellh/mapstructure"
)

var (
	log = logger.Get("Normalize")

	ErrMissingField     = errors.New("required field is missing")
	ErrUnknownPlatform  = errors.New("platform has no normalization table")
	ErrNoTracksResolved = errors.New("no member track could be normalized")
)

type (
	// NormalizationError attributes a normalization failure to a single
	// record. Index is the position of the record in the source order, or -1
	// for a playlist header.
	NormalizationError struct {
		Index      int
		ExternalID string
		Field      string
		Err        error
	}

	// Result is the canonical form of an extraction. For TRACK extractions
	// Playlist is nil and Tracks holds exactly one track. For PLAYLIST
	// extractions, Tracks holds every well-formed member in source order (and
	// is also attached to the Playlist) while Failures holds the malformed ones.
	Result struct {
		Playlist *media.Playlist
		Tracks   []*media.Track
		Failures []*NormalizationError
	}
)

func (e *NormalizationError) Error() string {
	target := "playlist"
	if e.Index >= 0 {
		target = fmt.Sprintf("track #%d", e.Index)
	}
	if e.ExternalID != "" {
		target = fmt.Sprintf("%s (%s)", target, e.ExternalID)
	}

	return fmt.Sprintf("normalization of %s failed on field %q: %v", target, e.Field, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// Normalize converts an extraction in to the canonical schema. A malformed
// playlist member is recorded as a failure without affecting its siblings;
// an error is only returned if the extraction as a whole is unusable.
func Normalize(platform media.Platform, kind media.Kind, extraction *extract.Extraction) (*Result, error) {
	if kind == media.TRACK {
		if len(extraction.Tracks) == 0 {
			return nil, &NormalizationError{Index: 0, Err: ErrNoTracksResolved}
		}

		track, err := NormalizeTrack(platform, extraction.Tracks[0])
		if err != nil {
			return nil, err
		}

		return &Result{Tracks: []*media.Track{track}}, nil
	}

	playlist, failures, err := NormalizePlaylist(platform, extraction.Playlist, extraction.Tracks)
	if err != nil {
		return nil, err
	}
	if len(playlist.Tracks) == 0 {
		if len(failures) == 0 {
			return nil, &NormalizationError{Index: -1, ExternalID: playlist.ExternalID, Err: ErrNoTracksResolved}
		}
		return nil, fmt.Errorf("%w: %w", ErrNoTracksResolved, errors.Join(asErrors(failures)...))
	}

	return &Result{Playlist: playlist, Tracks: playlist.Tracks, Failures: failures}, nil
}

// NormalizeTrack maps a single raw track record to the canonical track.
func NormalizeTrack(platform media.Platform, raw extract.RawMetadata) (*media.Track, error) {
	table, ok := tables[platform]
	if !ok {
		return nil, &NormalizationError{Index: 0, Err: fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)}
	}

	record := map[string]any(raw)
	values, nErr := collect(record, table.track)
	if nErr != nil {
		nErr.ExternalID = stringValue(values["external_id"], record["id"])
		return nil, nErr
	}

	track := &media.Track{}
	if err := decode(values, track); err != nil {
		return nil, &NormalizationError{Index: 0, ExternalID: stringValue(values["external_id"]), Err: err}
	}
	track.Platform = platform

	ts, err := resolve(record, table.timestamp)
	if err != nil {
		return nil, &NormalizationError{Index: 0, ExternalID: track.ExternalID, Field: "timestamp", Err: err}
	}
	if t, ok := ts.(time.Time); ok {
		track.Timestamp = &t
	}

	track.Thumbnails = thumbnails(record, table)
	return track, nil
}

// NormalizePlaylist maps the playlist header and each member record. Members
// are normalized in source order; malformed members are returned as failures
// and omitted from the playlist. An error is returned only if the header
// itself cannot be normalized.
func NormalizePlaylist(platform media.Platform, header extract.RawMetadata, members []extract.RawMetadata) (*media.Playlist, []*NormalizationError, error) {
	table, ok := tables[platform]
	if !ok {
		return nil, nil, &NormalizationError{Index: -1, Err: fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)}
	}

	values, nErr := collect(map[string]any(header), table.playlist)
	if nErr != nil {
		nErr.Index = -1
		return nil, nil, nErr
	}

	playlist := &media.Playlist{}
	if err := decode(values, playlist); err != nil {
		return nil, nil, &NormalizationError{Index: -1, ExternalID: stringValue(values["external_id"]), Err: err}
	}
	playlist.Platform = platform

	playlist.Tracks = make([]*media.Track, 0, len(members))
	failures := make([]*NormalizationError, 0)
	for i, member := range members {
		track, err := NormalizeTrack(platform, member)
		if err != nil {
			var nErr *NormalizationError
			if !errors.As(err, &nErr) {
				nErr = &NormalizationError{Err: err}
			}
			nErr.Index = i

			log.Emit(logger.WARNING, "Skipping member %d of %s: %v\n", i, playlist, nErr)
			failures = append(failures, nErr)
			continue
		}

		playlist.Tracks = append(playlist.Tracks, track)
	}

	return playlist, failures, nil
}

// collect builds the canonical value map for a record using the field table
// provided. Only fields named in the table are present in the output.
func collect(record map[string]any, table map[string]field) (map[string]any, *NormalizationError) {
	values := make(map[string]any, len(table))
	for name, f := range table {
		v, err := resolve(record, f)
		if err != nil {
			return values, &NormalizationError{Field: name, Err: err}
		}
		if v == nil {
			if f.required {
				return values, &NormalizationError{Field: name, Err: ErrMissingField}
			}
			continue
		}

		values[name] = v
	}

	return values, nil
}

func resolve(record map[string]any, f field) (any, error) {
	for _, src := range f.sources {
		v, ok := lookup(record, src.path)
		if !ok || v == nil {
			continue
		}

		if src.convert != nil {
			converted, err := src.convert(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", src.path, err)
			}
			v = converted
		}
		if v != nil {
			return v, nil
		}
	}

	return f.fallback, nil
}

// decode copies the collected values on to the canonical struct. Unused keys
// indicate a table naming a field the canonical struct does not have.
func decode(values map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return err
	}

	return decoder.Decode(values)
}

func thumbnails(record map[string]any, table platformTable) []media.Thumbnail {
	output := make([]media.Thumbnail, 0)
	for _, src := range table.thumbnails {
		v, ok := lookup(record, src.path)
		if !ok {
			continue
		}
		list, ok := v.([]any)
		if !ok {
			continue
		}

		for _, entry := range list {
			image, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			url, _ := text(image[src.urlKey])
			if url == nil {
				continue
			}

			output = append(output, media.Thumbnail{
				URL:    url.(string),
				Width:  dimension(image[src.widthKey]),
				Height: dimension(image[src.heightKey]),
			})
		}

		if len(output) > 0 {
			return output
		}
	}

	if table.single != "" {
		if v, ok := lookup(record, table.single); ok {
			if url, _ := text(v); url != nil {
				output = append(output, media.Thumbnail{URL: url.(string)})
			}
		}
	}

	return output
}

func dimension(v any) int {
	n, err := counter(v)
	if err != nil || n == nil {
		return 0
	}

	return int(n.(int64))
}

func stringValue(candidates ...any) string {
	for _, c := range candidates {
		if s, err := text(c); err == nil && s != nil {
			return s.(string)
		}
	}

	return ""
}

func asErrors(failures []*NormalizationError) []error {
	output := make([]error, len(failures))
	for i, f := range failures {
		output[i] = f
	}

	return output
}
