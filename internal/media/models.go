package media

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type (
	// Platform is the closed set of streaming platforms Tempo is able
	// to acquire media from.
	Platform string

	// Kind describes whether a URL (and the metadata extracted from it)
	// refers to a single track, or a collection of tracks.
	Kind int

	Thumbnail struct {
		URL    string `db:"url" json:"url" mapstructure:"url"`
		Width  int    `db:"width" json:"width" mapstructure:"width"`
		Height int    `db:"height" json:"height" mapstructure:"height"`
	}

	// Track is the canonical representation of a single piece of audio,
	// regardless of the platform it was sourced from. Counters and the genre
	// are never nil; absent upstream values are defaulted during normalization.
	Track struct {
		ID              uuid.UUID   `db:"id" json:"id"`
		Platform        Platform    `db:"platform" json:"platform" mapstructure:"platform"`
		ExternalID      string      `db:"external_id" json:"external_id" mapstructure:"external_id"`
		Title           string      `db:"title" json:"title" mapstructure:"title"`
		Uploader        string      `db:"uploader" json:"uploader" mapstructure:"uploader"`
		UploaderID      string      `db:"uploader_id" json:"uploader_id" mapstructure:"uploader_id"`
		UploaderURL     string      `db:"uploader_url" json:"uploader_url" mapstructure:"uploader_url"`
		Timestamp       *time.Time  `db:"published_at" json:"timestamp" mapstructure:"-"`
		DurationSeconds float64     `db:"duration_seconds" json:"duration_seconds" mapstructure:"duration"`
		SourceURL       string      `db:"source_url" json:"source_url" mapstructure:"source_url"`
		ViewCount       int64       `db:"view_count" json:"view_count" mapstructure:"view_count"`
		LikeCount       int64       `db:"like_count" json:"like_count" mapstructure:"like_count"`
		CommentCount    int64       `db:"comment_count" json:"comment_count" mapstructure:"comment_count"`
		RepostCount     int64       `db:"repost_count" json:"repost_count" mapstructure:"repost_count"`
		Genre           string      `db:"genre" json:"genre" mapstructure:"genre"`
		Extractor       string      `db:"extractor" json:"extractor" mapstructure:"extractor"`
		ExtractorKey    string      `db:"extractor_key" json:"extractor_key" mapstructure:"extractor_key"`
		StorageKey      *string     `db:"storage_key" json:"storage_key"`
		StorageURL      *string     `db:"storage_url" json:"storage_url"`
		Thumbnails      []Thumbnail `db:"-" json:"thumbnails" mapstructure:"-"`
		CreatedAt       time.Time   `db:"created_at" json:"created_at"`
		UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
	}

	// Playlist is the canonical representation of an ordered collection
	// of tracks (a YouTube playlist, a SoundCloud set, a Spotify playlist or album).
	Playlist struct {
		ID           uuid.UUID `db:"id" json:"id"`
		Platform     Platform  `db:"platform" json:"platform" mapstructure:"platform"`
		ExternalID   string    `db:"external_id" json:"external_id" mapstructure:"external_id"`
		Title        string    `db:"title" json:"title" mapstructure:"title"`
		Uploader     string    `db:"uploader" json:"uploader" mapstructure:"uploader"`
		SourceURL    string    `db:"source_url" json:"source_url" mapstructure:"source_url"`
		Extractor    string    `db:"extractor" json:"extractor" mapstructure:"extractor"`
		ExtractorKey string    `db:"extractor_key" json:"extractor_key" mapstructure:"extractor_key"`
		Tracks       []*Track  `db:"-" json:"tracks"`
		CreatedAt    time.Time `db:"created_at" json:"created_at"`
		UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
	}

	Stats struct {
		Tracks     int `db:"tracks" json:"tracks"`
		Playlists  int `db:"playlists" json:"playlists"`
		Thumbnails int `db:"thumbnails" json:"thumbnails"`
	}
)

const (
	YouTube    Platform = "youtube"
	SoundCloud Platform = "soundcloud"
	Spotify    Platform = "spotify"
)

const (
	TRACK Kind = iota
	PLAYLIST
)

var Platforms = []Platform{YouTube, SoundCloud, Spotify}

func ParsePlatform(s string) (Platform, error) {
	for _, p := range Platforms {
		if string(p) == s {
			return p, nil
		}
	}

	return "", fmt.Errorf("platform %q is not recognized", s)
}

func (p Platform) String() string { return string(p) }

func (k Kind) String() string {
	switch k {
	case TRACK:
		return "track"
	case PLAYLIST:
		return "playlist"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (t *Track) String() string {
	return fmt.Sprintf("Track{platform=%s id=%s title=%q}", t.Platform, t.ExternalID, t.Title)
}

func (p *Playlist) String() string {
	return fmt.Sprintf("Playlist{platform=%s id=%s title=%q tracks=%d}", p.Platform, p.ExternalID, p.Title, len(p.Tracks))
}
