package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/sv4u/spotigo"
)

// spotigoAPI adapts the spotigo client to SpotifyAPI. Paginated
// track listings are fully resolved so the nested 'tracks.items' holds every member.
type spotigoAPI struct {
	client *spotigo.Client
}

func newSpotigoAPI(config SpotifyConfig) (*spotigoAPI, error) {
	auth, err := spotigo.NewClientCredentials(config.ClientID, config.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create spotify auth: %w", err)
	}

	client, err := spotigo.NewClient(auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create spotify client: %w", err)
	}

	return &spotigoAPI{client: client}, nil
}

func (a *spotigoAPI) Track(ctx context.Context, idOrURL string) (RawMetadata, error) {
	track, err := a.client.Track(ctx, idOrURL)
	if err != nil {
		return nil, err
	}

	return toRaw(track)
}

func (a *spotigoAPI) Playlist(ctx context.Context, idOrURL string) (RawMetadata, error) {
	playlist, err := a.client.Playlist(ctx, idOrURL, nil)
	if err != nil {
		return nil, err
	}

	playlistID, err := spotigo.GetID(idOrURL, "playlist")
	if err != nil {
		return nil, err
	}

	page, err := a.client.PlaylistTracks(ctx, playlistID, nil)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return withTrackItems(playlist, []spotigo.PlaylistTrack{})
	}

	items := append([]spotigo.PlaylistTrack{}, page.Items...)
	for page.GetNext() != nil {
		next, err := spotigo.NextGeneric[spotigo.PlaylistTrack](a.client, ctx, page)
		if err != nil {
			return nil, fmt.Errorf("failed to paginate playlist tracks: %w", err)
		}
		if next == nil {
			break
		}

		items = append(items, next.Items...)
		page = next
	}

	return withTrackItems(playlist, items)
}

func (a *spotigoAPI) Album(ctx context.Context, idOrURL string) (RawMetadata, error) {
	album, err := a.client.Album(ctx, idOrURL)
	if err != nil {
		return nil, err
	}

	page := album.Tracks
	if page == nil {
		return toRaw(album)
	}

	items := append([]spotigo.SimplifiedTrack{}, page.Items...)
	for page.GetNext() != nil {
		next, err := spotigo.NextGeneric[spotigo.SimplifiedTrack](a.client, ctx, page)
		if err != nil {
			return nil, fmt.Errorf("failed to paginate album tracks: %w", err)
		}
		if next == nil {
			break
		}

		items = append(items, next.Items...)
		page = next
	}

	return withTrackItems(album, items)
}

func withTrackItems[T any](container any, items []T) (RawMetadata, error) {
	raw, err := toRaw(container)
	if err != nil {
		return nil, err
	}

	rawItems := make([]any, 0, len(items))
	for _, item := range items {
		r, err := toRaw(item)
		if err != nil {
			return nil, err
		}
		rawItems = append(rawItems, map[string]any(r))
	}

	raw["tracks"] = map[string]any{"items": rawItems, "total": len(rawItems)}
	return raw, nil
}

// toRaw round-trips the API value through JSON, giving the
// normalizer the same shape the Web API documents.
func toRaw(v any) (RawMetadata, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode spotify response: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(encoded))
	decoder.UseNumber()

	var raw RawMetadata
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode spotify response: %w", err)
	}

	return raw, nil
}
