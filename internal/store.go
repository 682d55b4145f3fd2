package internal

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/hbomb79/Tempo/internal/database"
	"github.com/hbomb79/Tempo/internal/media"
	"github.com/jmoiron/sqlx"
)

type (
	// dataOrchestrator is responsible for managing all of Tempo's resources,
	// especially relational data (playlists and their ordered tracks). You can
	// think of the data stores below this layer being 'dumb', and this store
	// linking them together and providing the database instance.
	dataOrchestrator struct {
		db         database.Manager
		MediaStore *media.Store
	}
)

func newDataOrchestrator(db database.Manager) *dataOrchestrator {
	return &dataOrchestrator{db: db, MediaStore: &media.Store{}}
}

// SaveIngestion upserts every track provided and then, if provided, the
// playlist along with its membership. The playlist membership is taken
// from the playlist's Tracks, which must be a subset of the tracks provided.
// All changes are made inside of a single transaction.
func (data *dataOrchestrator) SaveIngestion(playlist *media.Playlist, tracks []*media.Track) error {
	return data.db.WrapTx(func(tx *sqlx.Tx) error {
		for _, track := range tracks {
			created, err := data.MediaStore.SaveTrack(tx, track)
			if err != nil {
				return err
			}
			if created {
				log.Debugf("Created %s (%s)\n", track, track.ID)
			}
		}

		if playlist == nil {
			return nil
		}

		if _, err := data.MediaStore.SavePlaylist(tx, playlist); err != nil {
			return fmt.Errorf("failed to save playlist %s: %w", playlist, err)
		}

		return nil
	})
}

func (data *dataOrchestrator) GetTrack(id uuid.UUID) (*media.Track, error) {
	return data.MediaStore.GetTrack(data.db.GetSqlxDb(), id)
}

func (data *dataOrchestrator) ListTracks(filter media.ListFilter) ([]*media.Track, error) {
	return data.MediaStore.ListTracks(data.db.GetSqlxDb(), filter)
}

func (data *dataOrchestrator) DeleteTrack(id uuid.UUID) error {
	return data.MediaStore.DeleteTrack(data.db.GetSqlxDb(), id)
}

// GetPlaylist returns the playlist, with it's tracks populated in order.
func (data *dataOrchestrator) GetPlaylist(id uuid.UUID) (*media.Playlist, error) {
	return data.MediaStore.GetPlaylist(data.db.GetSqlxDb(), id)
}

func (data *dataOrchestrator) ListPlaylists(filter media.ListFilter) ([]*media.Playlist, error) {
	return data.MediaStore.ListPlaylists(data.db.GetSqlxDb(), filter)
}

func (data *dataOrchestrator) DeletePlaylist(id uuid.UUID) error {
	return data.MediaStore.DeletePlaylist(data.db.GetSqlxDb(), id)
}

func (data *dataOrchestrator) GetStats() (*media.Stats, error) {
	return data.MediaStore.CountStats(data.db.GetSqlxDb())
}
