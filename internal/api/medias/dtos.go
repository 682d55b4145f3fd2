package medias

import (
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Tempo/internal/api/util"
	"github.com/hbomb79/Tempo/internal/media"
)

type (
	thumbnailDto struct {
		URL    string `json:"url"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	}

	// trackDto exposes the canonical track. The storage key is omitted as
	// it is an implementation detail of the backend; the URL is enough
	// for a client to find the artifact.
	trackDto struct {
		ID              uuid.UUID      `json:"id"`
		Platform        media.Platform `json:"platform"`
		ExternalID      string         `json:"external_id"`
		Title           string         `json:"title"`
		Uploader        string         `json:"uploader"`
		UploaderID      string         `json:"uploader_id"`
		UploaderURL     string         `json:"uploader_url"`
		Timestamp       *time.Time     `json:"timestamp"`
		DurationSeconds float64        `json:"duration_seconds"`
		SourceURL       string         `json:"source_url"`
		ViewCount       int64          `json:"view_count"`
		LikeCount       int64          `json:"like_count"`
		CommentCount    int64          `json:"comment_count"`
		RepostCount     int64          `json:"repost_count"`
		Genre           string         `json:"genre"`
		StorageURL      *string        `json:"storage_url"`
		Thumbnails      []thumbnailDto `json:"thumbnails"`
		CreatedAt       time.Time      `json:"created_at"`
		UpdatedAt       time.Time      `json:"updated_at"`
	}

	playlistStubDto struct {
		ID         uuid.UUID      `json:"id"`
		Platform   media.Platform `json:"platform"`
		ExternalID string         `json:"external_id"`
		Title      string         `json:"title"`
		Uploader   string         `json:"uploader"`
		SourceURL  string         `json:"source_url"`
		UpdatedAt  time.Time      `json:"updated_at"`
	}

	// playlistDto is a fully inflated version of playlistStubDto, which
	// includes the playlists tracks in playlist order.
	playlistDto struct {
		playlistStubDto
		CreatedAt time.Time   `json:"created_at"`
		Tracks    []*trackDto `json:"tracks"`
	}
)

func newTrackDto(model *media.Track) *trackDto {
	return &trackDto{
		ID:              model.ID,
		Platform:        model.Platform,
		ExternalID:      model.ExternalID,
		Title:           model.Title,
		Uploader:        model.Uploader,
		UploaderID:      model.UploaderID,
		UploaderURL:     model.UploaderURL,
		Timestamp:       model.Timestamp,
		DurationSeconds: model.DurationSeconds,
		SourceURL:       model.SourceURL,
		ViewCount:       model.ViewCount,
		LikeCount:       model.LikeCount,
		CommentCount:    model.CommentCount,
		RepostCount:     model.RepostCount,
		Genre:           model.Genre,
		StorageURL:      model.StorageURL,
		Thumbnails: util.ApplyConversion(model.Thumbnails, func(t media.Thumbnail) thumbnailDto {
			return thumbnailDto{URL: t.URL, Width: t.Width, Height: t.Height}
		}),
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

func newPlaylistStubDto(model *media.Playlist) playlistStubDto {
	return playlistStubDto{
		ID:         model.ID,
		Platform:   model.Platform,
		ExternalID: model.ExternalID,
		Title:      model.Title,
		Uploader:   model.Uploader,
		SourceURL:  model.SourceURL,
		UpdatedAt:  model.UpdatedAt,
	}
}

func newPlaylistDto(model *media.Playlist) *playlistDto {
	return &playlistDto{
		playlistStubDto: newPlaylistStubDto(model),
		CreatedAt:       model.CreatedAt,
		Tracks:          util.ApplyConversion(model.Tracks, newTrackDto),
	}
}
