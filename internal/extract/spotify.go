package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hbomb79/Tempo/internal/source"
	"github.com/hbomb79/Tempo/pkg/logger"
)

type (
	SpotifyConfig struct {
		ClientID     string `yaml:"client_id" env:"SPOTIFY_CLIENT_ID"`
		ClientSecret string `yaml:"client_secret" env:"SPOTIFY_CLIENT_SECRET"`
	}

	// SpotifyAPI is the subset of the Spotify Web API Tempo uses. Each
	// method returns the JSON shape of the API response.
	SpotifyAPI interface {
		Track(ctx context.Context, idOrURL string) (RawMetadata, error)
		Playlist(ctx context.Context, idOrURL string) (RawMetadata, error)
		Album(ctx context.Context, idOrURL string) (RawMetadata, error)
	}

	// Spotify extracts metadata using the platform API. A Spotify extractor
	// constructed without credentials is not usable, and reports
	// ErrExtractorUnavailable instead of extracting.
	Spotify struct {
		api        SpotifyAPI
		unusableBy error
	}
)

// NewSpotify constructs the Spotify extractor using the spotigo API client.
// Missing credentials are not an error here; the returned extractor
// will report itself as unusable.
func NewSpotify(config SpotifyConfig) *Spotify {
	if config.ClientID == "" || config.ClientSecret == "" {
		log.Emit(logger.WARNING, "Spotify client credentials are not configured; Spotify URLs will be rejected\n")
		return &Spotify{unusableBy: fmt.Errorf("%w: spotify client credentials are not configured", ErrExtractorUnavailable)}
	}

	api, err := newSpotigoAPI(config)
	if err != nil {
		log.Emit(logger.ERROR, "Failed to construct Spotify client: %v\n", err)
		return &Spotify{unusableBy: fmt.Errorf("%w: %v", ErrExtractorUnavailable, err)}
	}

	return NewSpotifyWithAPI(api)
}

func NewSpotifyWithAPI(api SpotifyAPI) *Spotify {
	return &Spotify{api: api}
}

func (s *Spotify) Usable() error { return s.unusableBy }

func (s *Spotify) Extract(ctx context.Context, classification source.Classification) (*Extraction, error) {
	if s.unusableBy != nil {
		return nil, s.unusableBy
	}

	resource, err := spotifyResourceType(classification.URL)
	if err != nil {
		return nil, &ExtractionError{URL: classification.URL, Err: err}
	}

	var extraction *Extraction
	switch resource {
	case "track":
		raw, err := s.api.Track(ctx, classification.URL)
		if err != nil {
			return nil, &ExtractionError{URL: classification.URL, Err: err}
		}
		extraction = &Extraction{Tracks: []RawMetadata{raw}}
	case "playlist":
		raw, err := s.api.Playlist(ctx, classification.URL)
		if err != nil {
			return nil, &ExtractionError{URL: classification.URL, Err: err}
		}
		extraction = FlattenSpotifyPlaylist(raw)
	case "album":
		raw, err := s.api.Album(ctx, classification.URL)
		if err != nil {
			return nil, &ExtractionError{URL: classification.URL, Err: err}
		}
		extraction = FlattenSpotifyAlbum(raw)
	}

	if len(extraction.Tracks) == 0 {
		return nil, &ExtractionError{URL: classification.URL, Err: ErrNoRecords}
	}

	return extraction, nil
}

// FlattenSpotifyPlaylist lifts each 'tracks.items[*].track' sub-object out
// of the playlist response. Items without a track (removed or unavailable
// tracks) are skipped. The remaining playlist fields form the header.
func FlattenSpotifyPlaylist(raw RawMetadata) *Extraction {
	header := withoutKey(raw, "tracks")
	tracks := make([]RawMetadata, 0)
	for _, item := range nestedItems(raw) {
		if track, ok := asRaw(item["track"]); ok {
			tracks = append(tracks, track)
		}
	}

	return &Extraction{Playlist: header, Tracks: tracks}
}

// FlattenSpotifyAlbum lifts each 'tracks.items[*]' out of the album response.
// Album tracks are simplified by the API, so the album header is attached
// to each track under 'album' to match the shape of a full track object.
func FlattenSpotifyAlbum(raw RawMetadata) *Extraction {
	header := withoutKey(raw, "tracks")
	tracks := make([]RawMetadata, 0)
	for _, item := range nestedItems(raw) {
		track := copyRaw(item)
		if _, ok := track["album"]; !ok {
			track["album"] = map[string]any(header)
		}
		tracks = append(tracks, track)
	}

	return &Extraction{Playlist: header, Tracks: tracks}
}

func nestedItems(raw RawMetadata) []RawMetadata {
	tracks, ok := asRaw(raw["tracks"])
	if !ok {
		return nil
	}

	items, ok := tracks["items"].([]any)
	if !ok {
		return nil
	}

	output := make([]RawMetadata, 0, len(items))
	for _, v := range items {
		if item, ok := asRaw(v); ok {
			output = append(output, item)
		}
	}

	return output
}

func asRaw(v any) (RawMetadata, bool) {
	switch m := v.(type) {
	case RawMetadata:
		return m, m != nil
	case map[string]any:
		return RawMetadata(m), m != nil
	default:
		return nil, false
	}
}

func copyRaw(raw RawMetadata) RawMetadata {
	output := make(RawMetadata, len(raw))
	for k, v := range raw {
		output[k] = v
	}

	return output
}

func withoutKey(raw RawMetadata, key string) RawMetadata {
	output := copyRaw(raw)
	delete(output, key)

	return output
}

// spotifyResourceType returns the API resource (track, album or playlist)
// referenced by a Spotify URL or URI.
func spotifyResourceType(rawURL string) (string, error) {
	if strings.HasPrefix(rawURL, "spotify:") {
		parts := strings.Split(rawURL, ":")
		if len(parts) == 3 {
			return checkSpotifyResource(parts[1])
		}
		return "", fmt.Errorf("malformed spotify URI %q", rawURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) > 0 && strings.HasPrefix(segments[0], "intl-") {
		segments = segments[1:]
	}
	if len(segments) < 2 {
		return "", fmt.Errorf("malformed spotify URL %q", rawURL)
	}

	return checkSpotifyResource(segments[0])
}

func checkSpotifyResource(resource string) (string, error) {
	switch resource {
	case "track", "album", "playlist":
		return resource, nil
	}

	return "", errors.New("spotify resource " + resource + " is not supported")
}
