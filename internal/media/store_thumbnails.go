package media

import (
	"github.com/google/uuid"
	"github.com/hbomb79/Tempo/internal/database"
)

type thumbnailStore struct{}

// SaveTrackThumbnails replaces the thumbnails associated with the given
// track. The order of the thumbnails provided is preserved.
func (store *thumbnailStore) SaveTrackThumbnails(db database.Queryable, trackID uuid.UUID, thumbnails []Thumbnail) error {
	if _, err := db.Exec(`DELETE FROM thumbnail WHERE track_id=$1`, trackID); err != nil {
		return err
	}

	if len(thumbnails) == 0 {
		return nil
	}

	type thumbnailRow struct {
		ID       uuid.UUID `db:"id"`
		TrackID  uuid.UUID `db:"track_id"`
		Position int       `db:"position"`
		URL      string    `db:"url"`
		Width    int       `db:"width"`
		Height   int       `db:"height"`
	}
	rows := make([]thumbnailRow, len(thumbnails))
	for k, v := range thumbnails {
		rows[k] = thumbnailRow{uuid.New(), trackID, k, v.URL, v.Width, v.Height}
	}

	_, err := db.NamedExec(`
		INSERT INTO thumbnail(id, track_id, position, url, width, height)
		VALUES(:id, :track_id, :position, :url, :width, :height)
		ON CONFLICT(track_id, position) DO NOTHING
	`, rows)

	return err
}
