package normalize_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hbomb79/Tempo/internal/extract"
	"github.com/hbomb79/Tempo/internal/media"
	"github.com/hbomb79/Tempo/internal/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ytdlpRecord(id string) extract.RawMetadata {
	return extract.RawMetadata{
		"id":            id,
		"title":         "Song " + id,
		"uploader":      "Alice",
		"uploader_id":   "alice",
		"uploader_url":  "https://soundcloud.com/alice",
		"timestamp":     json.Number("1609459200"),
		"duration":      json.Number("183.5"),
		"webpage_url":   "https://soundcloud.com/alice/" + id,
		"view_count":    json.Number("1200"),
		"like_count":    json.Number("34"),
		"comment_count": json.Number("5"),
		"repost_count":  json.Number("2"),
		"genre":         "Electronic",
		"extractor":     "soundcloud",
		"extractor_key": "Soundcloud",
		"formats":       []any{map[string]any{"format_id": "mp3"}},
		"http_headers":  map[string]any{"User-Agent": "x"},
		"thumbnails": []any{
			map[string]any{"url": "https://i1.sndcdn.com/small.jpg", "width": json.Number("100"), "height": json.Number("100")},
			map[string]any{"url": "https://i1.sndcdn.com/large.jpg", "width": json.Number("500"), "height": json.Number("500")},
		},
	}
}

func Test_NormalizeTrack_MapsCanonicalFields(t *testing.T) {
	track, err := normalize.NormalizeTrack(media.SoundCloud, ytdlpRecord("t1"))
	require.NoError(t, err)

	assert.Equal(t, media.SoundCloud, track.Platform)
	assert.Equal(t, "t1", track.ExternalID)
	assert.Equal(t, "Song t1", track.Title)
	assert.Equal(t, "Alice", track.Uploader)
	assert.Equal(t, "alice", track.UploaderID)
	assert.Equal(t, 183.5, track.DurationSeconds)
	assert.Equal(t, "https://soundcloud.com/alice/t1", track.SourceURL)
	assert.EqualValues(t, 1200, track.ViewCount)
	assert.EqualValues(t, 34, track.LikeCount)
	assert.EqualValues(t, 5, track.CommentCount)
	assert.EqualValues(t, 2, track.RepostCount)
	assert.Equal(t, "Electronic", track.Genre)
	assert.Equal(t, "Soundcloud", track.ExtractorKey)
	assert.Nil(t, track.StorageKey)

	require.NotNil(t, track.Timestamp)
	assert.Equal(t, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), *track.Timestamp)
	assert.Equal(t, time.UTC, track.Timestamp.Location())

	require.Len(t, track.Thumbnails, 2)
	assert.Equal(t, media.Thumbnail{URL: "https://i1.sndcdn.com/large.jpg", Width: 500, Height: 500}, track.Thumbnails[1])
}

func Test_NormalizeTrack_Defaults(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(extract.RawMetadata)
		check  func(*testing.T, *media.Track)
	}{
		{
			name: "absent counters and genre",
			mutate: func(r extract.RawMetadata) {
				delete(r, "view_count")
				delete(r, "like_count")
				delete(r, "genre")
			},
			check: func(t *testing.T, track *media.Track) {
				assert.Zero(t, track.ViewCount)
				assert.Zero(t, track.LikeCount)
				assert.Equal(t, "", track.Genre)
			},
		},
		{
			name:   "null repost count",
			mutate: func(r extract.RawMetadata) { r["repost_count"] = nil },
			check:  func(t *testing.T, track *media.Track) { assert.Zero(t, track.RepostCount) },
		},
		{
			name:   "none counter",
			mutate: func(r extract.RawMetadata) { r["comment_count"] = "none" },
			check:  func(t *testing.T, track *media.Track) { assert.Zero(t, track.CommentCount) },
		},
		{
			name: "upload date when no timestamp",
			mutate: func(r extract.RawMetadata) {
				delete(r, "timestamp")
				r["upload_date"] = "20200215"
			},
			check: func(t *testing.T, track *media.Track) {
				require.NotNil(t, track.Timestamp)
				assert.Equal(t, time.Date(2020, 2, 15, 0, 0, 0, 0, time.UTC), *track.Timestamp)
			},
		},
		{
			name:   "no timestamp at all",
			mutate: func(r extract.RawMetadata) { delete(r, "timestamp") },
			check:  func(t *testing.T, track *media.Track) { assert.Nil(t, track.Timestamp) },
		},
		{
			name: "single thumbnail",
			mutate: func(r extract.RawMetadata) {
				delete(r, "thumbnails")
				r["thumbnail"] = "https://i.ytimg.com/vi/x/hq.jpg"
			},
			check: func(t *testing.T, track *media.Track) {
				assert.Equal(t, []media.Thumbnail{{URL: "https://i.ytimg.com/vi/x/hq.jpg"}}, track.Thumbnails)
			},
		},
		{
			name:   "numeric id",
			mutate: func(r extract.RawMetadata) { r["id"] = json.Number("123456") },
			check:  func(t *testing.T, track *media.Track) { assert.Equal(t, "123456", track.ExternalID) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := ytdlpRecord("t1")
			tt.mutate(raw)

			track, err := normalize.NormalizeTrack(media.YouTube, raw)
			require.NoError(t, err)
			tt.check(t, track)
		})
	}
}

func Test_NormalizeTrack_MissingRequiredField(t *testing.T) {
	raw := ytdlpRecord("t1")
	delete(raw, "title")

	_, err := normalize.NormalizeTrack(media.YouTube, raw)
	var nErr *normalize.NormalizationError
	require.ErrorAs(t, err, &nErr)
	assert.Equal(t, "title", nErr.Field)
	assert.Equal(t, "t1", nErr.ExternalID)
	assert.ErrorIs(t, err, normalize.ErrMissingField)
}

func Test_NormalizeTrack_MalformedCounter(t *testing.T) {
	raw := ytdlpRecord("t1")
	raw["view_count"] = map[string]any{"nested": true}

	_, err := normalize.NormalizeTrack(media.YouTube, raw)
	var nErr *normalize.NormalizationError
	require.ErrorAs(t, err, &nErr)
	assert.Equal(t, "view_count", nErr.Field)
}

func Test_NormalizeTrack_Spotify(t *testing.T) {
	raw := extract.RawMetadata{
		"id":            "4uLU6hMCjMI75M1A2tKUQC",
		"name":          "Never Gonna Give You Up",
		"duration_ms":   json.Number("213573"),
		"popularity":    json.Number("77"),
		"external_urls": map[string]any{"spotify": "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC"},
		"artists": []any{
			map[string]any{"id": "0gxyHStUsqpMadRV0Di1Qt", "name": "Rick Astley", "external_urls": map[string]any{"spotify": "https://open.spotify.com/artist/0gxyHStUsqpMadRV0Di1Qt"}},
		},
		"album": map[string]any{
			"release_date": "1987-11",
			"images":       []any{map[string]any{"url": "https://i.scdn.co/image/a", "width": json.Number("640"), "height": json.Number("640")}},
		},
	}

	track, err := normalize.NormalizeTrack(media.Spotify, raw)
	require.NoError(t, err)
	assert.Equal(t, "Rick Astley", track.Uploader)
	assert.Equal(t, "0gxyHStUsqpMadRV0Di1Qt", track.UploaderID)
	assert.InDelta(t, 213.573, track.DurationSeconds, 0.0001)
	assert.Equal(t, "spotify", track.Extractor)
	assert.Equal(t, "Spotify", track.ExtractorKey)
	assert.Zero(t, track.ViewCount)
	assert.Equal(t, "", track.Genre)
	require.NotNil(t, track.Timestamp)
	assert.Equal(t, time.Date(1987, 11, 1, 0, 0, 0, 0, time.UTC), *track.Timestamp)
	assert.Equal(t, []media.Thumbnail{{URL: "https://i.scdn.co/image/a", Width: 640, Height: 640}}, track.Thumbnails)

	delete(raw, "external_urls")
	track, err = normalize.NormalizeTrack(media.Spotify, raw)
	require.NoError(t, err)
	assert.Equal(t, "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC", track.SourceURL)
}

func Test_NormalizePlaylist_PreservesOrderAndIsolatesFailures(t *testing.T) {
	header := extract.RawMetadata{
		"playlist_id":    "mix",
		"playlist_title": "Summer Mix",
		"original_url":   "https://soundcloud.com/alice/sets/summer-mix",
		"extractor":      "soundcloud:set",
		"extractor_key":  "SoundcloudSet",
	}
	broken := ytdlpRecord("t2")
	delete(broken, "id")
	members := []extract.RawMetadata{ytdlpRecord("t1"), broken, ytdlpRecord("t3"), ytdlpRecord("t4")}

	result, err := normalize.Normalize(media.SoundCloud, media.PLAYLIST, &extract.Extraction{Playlist: header, Tracks: members})
	require.NoError(t, err)

	require.NotNil(t, result.Playlist)
	assert.Equal(t, "mix", result.Playlist.ExternalID)
	assert.Equal(t, "Summer Mix", result.Playlist.Title)
	assert.Equal(t, "alice", result.Playlist.Uploader, "owner is taken from the set URL")
	assert.Equal(t, "https://soundcloud.com/alice/sets/summer-mix", result.Playlist.SourceURL)

	ids := make([]string, 0)
	for _, track := range result.Tracks {
		ids = append(ids, track.ExternalID)
	}
	assert.Equal(t, []string{"t1", "t3", "t4"}, ids)
	assert.Equal(t, result.Tracks, result.Playlist.Tracks)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, 1, result.Failures[0].Index)
	assert.Equal(t, "external_id", result.Failures[0].Field)
}

func Test_Normalize_AllMembersBroken(t *testing.T) {
	broken := ytdlpRecord("t1")
	delete(broken, "webpage_url")

	_, err := normalize.Normalize(media.YouTube, media.PLAYLIST, &extract.Extraction{
		Playlist: extract.RawMetadata{"playlist_id": "PL1", "original_url": "https://www.youtube.com/playlist?list=PL1"},
		Tracks:   []extract.RawMetadata{broken},
	})
	assert.ErrorIs(t, err, normalize.ErrNoTracksResolved)
	assert.ErrorIs(t, err, normalize.ErrMissingField)
}

func Test_Normalize_SpotifyPlaylistHeader(t *testing.T) {
	result, err := normalize.Normalize(media.Spotify, media.PLAYLIST, &extract.Extraction{
		Playlist: extract.RawMetadata{
			"id":            "37i9dQZF1DXcBWIGoYBM5M",
			"name":          "Today's Top Hits",
			"owner":         map[string]any{"display_name": "Spotify", "id": "spotify"},
			"external_urls": map[string]any{"spotify": "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M"},
			"followers":     map[string]any{"total": json.Number("34000000")},
		},
		Tracks: []extract.RawMetadata{{"id": "a", "name": "A", "artists": []any{map[string]any{"name": "Band"}}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Spotify", result.Playlist.Uploader)
	assert.Equal(t, "spotify", result.Playlist.Extractor)
	require.Len(t, result.Tracks, 1)
	assert.Equal(t, "Band", result.Tracks[0].Uploader)
}

func Test_Normalize_Track(t *testing.T) {
	result, err := normalize.Normalize(media.YouTube, media.TRACK, &extract.Extraction{Tracks: []extract.RawMetadata{ytdlpRecord("dQw4w9WgXcQ")}})
	require.NoError(t, err)
	assert.Nil(t, result.Playlist)
	require.Len(t, result.Tracks, 1)
	assert.Equal(t, media.YouTube, result.Tracks[0].Platform)
}
