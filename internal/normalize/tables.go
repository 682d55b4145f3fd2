package normalize

import "github.com/hbomb79/Tempo/internal/media"

type (
	// source is a candidate location for a canonical field within a raw
	// record, with an optional conversion applied to the value found there.
	source struct {
		path    string
		convert converter
	}

	// field describes how a single canonical field is populated. Sources are
	// tried in order and the first present value wins; if no source yields a
	// value, the fallback is used (which may be nil, leaving the zero value).
	field struct {
		sources  []source
		fallback any
		required bool
	}

	// thumbnailSource locates a list of image objects within a raw record.
	thumbnailSource struct {
		path                        string
		urlKey, widthKey, heightKey string
	}

	platformTable struct {
		track      map[string]field
		timestamp  field
		thumbnails []thumbnailSource
		// single is a path to a lone thumbnail URL, used when none of the
		// thumbnail lists are present.
		single   string
		playlist map[string]field
	}
)

func from(path string) source { return source{path: path} }

func via(path string, convert converter) source { return source{path: path, convert: convert} }

func texts(paths ...string) field {
	sources := make([]source, len(paths))
	for i, p := range paths {
		sources[i] = via(p, text)
	}

	return field{sources: sources}
}

func countOf(paths ...string) field {
	sources := make([]source, len(paths))
	for i, p := range paths {
		sources[i] = via(p, counter)
	}

	return field{sources: sources, fallback: int64(0)}
}

func constant(v any) field { return field{fallback: v} }

func required(f field) field {
	f.required = true
	return f
}

func withFallback(f field, fallback any) field {
	f.fallback = fallback
	return f
}

// ytdlpTrackFields maps the records printed by the generic extraction tool. The
// field names are consistent across its extractors, though not every
// extractor populates every field.
func ytdlpTrackFields() map[string]field {
	return map[string]field{
		"external_id":   required(texts("id")),
		"title":         required(texts("title", "track", "fulltitle")),
		"uploader":      withFallback(texts("uploader", "channel", "artist", "creator"), ""),
		"uploader_id":   withFallback(texts("uploader_id", "channel_id"), ""),
		"uploader_url":  withFallback(texts("uploader_url", "channel_url"), ""),
		"duration":      {sources: []source{via("duration", seconds)}, fallback: float64(0)},
		"source_url":    required(texts("webpage_url", "original_url", "url")),
		"view_count":    countOf("view_count"),
		"like_count":    countOf("like_count"),
		"comment_count": countOf("comment_count"),
		"repost_count":  countOf("repost_count"),
		"genre":         withFallback(texts("genre", "genres.0"), ""),
		"extractor":     withFallback(texts("extractor"), ""),
		"extractor_key": withFallback(texts("extractor_key"), ""),
	}
}

func ytdlpPlaylistFields(owner ...source) map[string]field {
	uploader := field{fallback: ""}
	for _, p := range []string{"playlist_uploader", "playlist_channel"} {
		uploader.sources = append(uploader.sources, via(p, text))
	}
	uploader.sources = append(uploader.sources, owner...)

	return map[string]field{
		"external_id":   required(texts("playlist_id")),
		"title":         withFallback(texts("playlist_title", "playlist"), ""),
		"uploader":      uploader,
		"source_url":    required(texts("playlist_webpage_url", "original_url")),
		"extractor":     withFallback(texts("extractor"), ""),
		"extractor_key": withFallback(texts("extractor_key"), ""),
	}
}

var ytdlpTimestamp = field{sources: []source{
	via("timestamp", epoch),
	via("release_timestamp", epoch),
	via("upload_date", compactDate),
}}

var ytdlpThumbnails = []thumbnailSource{{path: "thumbnails", urlKey: "url", widthKey: "width", heightKey: "height"}}

var spotifyThumbnails = []thumbnailSource{
	{path: "album.images", urlKey: "url", widthKey: "width", heightKey: "height"},
	{path: "images", urlKey: "url", widthKey: "width", heightKey: "height"},
}

// tables is the per-platform field mapping. Canonical field names match the
// mapstructure tags of media.Track and media.Playlist; any field not named
// here never reaches the canonical record.
var tables = map[media.Platform]platformTable{
	media.YouTube: {
		track:      ytdlpTrackFields(),
		timestamp:  ytdlpTimestamp,
		thumbnails: ytdlpThumbnails,
		single:     "thumbnail",
		playlist:   ytdlpPlaylistFields(via("playlist_channel_id", text)),
	},
	media.SoundCloud: {
		track:      ytdlpTrackFields(),
		timestamp:  ytdlpTimestamp,
		thumbnails: ytdlpThumbnails,
		single:     "thumbnail",
		// Sets do not carry an owner, so it is taken from the URL path
		// (soundcloud.com/<owner>/sets/<name>).
		playlist: ytdlpPlaylistFields(via("playlist_webpage_url", urlOwner), via("original_url", urlOwner)),
	},
	media.Spotify: {
		track: map[string]field{
			"external_id":  required(texts("id")),
			"title":        required(texts("name")),
			"uploader":     withFallback(texts("artists.0.name"), ""),
			"uploader_id":  withFallback(texts("artists.0.id"), ""),
			"uploader_url": withFallback(texts("artists.0.external_urls.spotify"), ""),
			"duration":     {sources: []source{via("duration_ms", milliseconds)}, fallback: float64(0)},
			"source_url": required(field{sources: []source{
				via("external_urls.spotify", text),
				via("id", prefixed("https://open.spotify.com/track/")),
			}}),
			"view_count":    countOf(),
			"like_count":    countOf(),
			"comment_count": countOf(),
			"repost_count":  countOf(),
			"genre":         withFallback(texts("genres.0", "album.genres.0"), ""),
			"extractor":     constant("spotify"),
			"extractor_key": constant("Spotify"),
		},
		timestamp: field{sources: []source{via("album.release_date", releaseDate)}},
		thumbnails: spotifyThumbnails,
		playlist: map[string]field{
			"external_id":   required(texts("id")),
			"title":         withFallback(texts("name"), ""),
			"uploader":      withFallback(texts("owner.display_name", "owner.id", "artists.0.name"), ""),
			"source_url":    required(texts("external_urls.spotify", "uri")),
			"extractor":     constant("spotify"),
			"extractor_key": constant("Spotify"),
		},
	},
}
