package media

import (
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/hbomb79/Tempo/internal/database"
	"github.com/hbomb79/Tempo/pkg/logger"
)

var (
	log = logger.Get("MediaStore")

	ErrNoRowFound = errors.New("no row found")
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type (
	// ListFilter restricts the rows returned by the list queries.
	ListFilter struct {
		Platform *Platform
		Uploader string
		Limit    int
		Offset   int
	}

	Store struct {
		thumbnails thumbnailStore
	}
)

// SaveTrack upserts the provided Track to the database. Existing rows
// to update are found using the (platform, external_id) pair as this is expected to be a stable
// identifier. The thumbnails of the track are replaced wholesale.
//
// The returned boolean is true if a new row was created.
//
// NOTE: the ID of the track may be UPDATED to match existing DB entry (if any)
func (store *Store) SaveTrack(db database.Queryable, track *Track) (bool, error) {
	if track.ID == uuid.Nil {
		track.ID = uuid.New()
	}

	var result struct {
		ID        uuid.UUID `db:"id"`
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
		Inserted  bool      `db:"inserted"`
	}
	if err := db.Get(&result, `
		INSERT INTO track(
			id, platform, external_id, title, uploader, uploader_id, uploader_url, published_at,
			duration_seconds, source_url, view_count, like_count, comment_count, repost_count,
			genre, extractor, extractor_key, storage_key, storage_url, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, current_timestamp, current_timestamp)
		ON CONFLICT(platform, external_id) DO UPDATE
		SET (title, uploader, uploader_id, uploader_url, published_at, duration_seconds, source_url,
			view_count, like_count, comment_count, repost_count, genre, extractor, extractor_key,
			storage_key, storage_url, updated_at) =
			(EXCLUDED.title, EXCLUDED.uploader, EXCLUDED.uploader_id, EXCLUDED.uploader_url, EXCLUDED.published_at,
			EXCLUDED.duration_seconds, EXCLUDED.source_url, EXCLUDED.view_count, EXCLUDED.like_count,
			EXCLUDED.comment_count, EXCLUDED.repost_count, EXCLUDED.genre, EXCLUDED.extractor, EXCLUDED.extractor_key,
			COALESCE(EXCLUDED.storage_key, track.storage_key), COALESCE(EXCLUDED.storage_url, track.storage_url),
			current_timestamp)
		RETURNING id, created_at, updated_at, (xmax = 0) AS inserted
	`,
		track.ID, track.Platform, track.ExternalID, track.Title, track.Uploader, track.UploaderID, track.UploaderURL,
		track.Timestamp, track.DurationSeconds, track.SourceURL, track.ViewCount, track.LikeCount, track.CommentCount,
		track.RepostCount, track.Genre, track.Extractor, track.ExtractorKey, track.StorageKey, track.StorageURL,
	); err != nil {
		return false, fmt.Errorf("failed to upsert track %s: %w", track, err)
	}

	track.ID = result.ID
	track.CreatedAt = result.CreatedAt
	track.UpdatedAt = result.UpdatedAt
	if err := store.thumbnails.SaveTrackThumbnails(db, track.ID, track.Thumbnails); err != nil {
		return false, fmt.Errorf("failed to save thumbnails for track %s: %w", track, err)
	}

	return result.Inserted, nil
}

// SavePlaylist upserts the provided Playlist (but NOT the tracks it contains) to
// the database, using (platform, external_id) as the stable identifier. The
// membership of the playlist is replaced using the order of the tracks
// in the playlist. The tracks MUST have been saved already.
//
// The returned boolean is true if a new row was created.
func (store *Store) SavePlaylist(db database.Queryable, playlist *Playlist) (bool, error) {
	if playlist.ID == uuid.Nil {
		playlist.ID = uuid.New()
	}

	var result struct {
		ID        uuid.UUID `db:"id"`
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
		Inserted  bool      `db:"inserted"`
	}
	if err := db.Get(&result, `
		INSERT INTO playlist(id, platform, external_id, title, uploader, source_url, extractor, extractor_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, current_timestamp, current_timestamp)
		ON CONFLICT(platform, external_id) DO UPDATE
		SET (title, uploader, source_url, extractor, extractor_key, updated_at) =
			(EXCLUDED.title, EXCLUDED.uploader, EXCLUDED.source_url, EXCLUDED.extractor, EXCLUDED.extractor_key, current_timestamp)
		RETURNING id, created_at, updated_at, (xmax = 0) AS inserted
	`,
		playlist.ID, playlist.Platform, playlist.ExternalID, playlist.Title, playlist.Uploader,
		playlist.SourceURL, playlist.Extractor, playlist.ExtractorKey,
	); err != nil {
		return false, fmt.Errorf("failed to upsert playlist %s: %w", playlist, err)
	}

	playlist.ID = result.ID
	playlist.CreatedAt = result.CreatedAt
	playlist.UpdatedAt = result.UpdatedAt
	if err := store.savePlaylistMembership(db, playlist); err != nil {
		return false, err
	}

	return result.Inserted, nil
}

func (store *Store) savePlaylistMembership(db database.Queryable, playlist *Playlist) error {
	if _, err := db.Exec(`DELETE FROM playlist_track WHERE playlist_id=$1`, playlist.ID); err != nil {
		return fmt.Errorf("failed to clear membership of playlist %s: %w", playlist, err)
	}

	if len(playlist.Tracks) == 0 {
		return nil
	}

	type membership struct {
		PlaylistID uuid.UUID `db:"playlist_id"`
		TrackID    uuid.UUID `db:"track_id"`
		Position   int       `db:"position"`
	}
	rows := make([]membership, 0, len(playlist.Tracks))
	for k, v := range playlist.Tracks {
		if v.ID == uuid.Nil {
			return fmt.Errorf("playlist member %s has not been saved", v)
		}
		rows = append(rows, membership{playlist.ID, v.ID, k})
	}

	if _, err := db.NamedExec(`
		INSERT INTO playlist_track(playlist_id, track_id, position)
		VALUES(:playlist_id, :track_id, :position)
		ON CONFLICT(playlist_id, position) DO NOTHING
	`, rows); err != nil {
		return fmt.Errorf("failed to save membership of playlist %s: %w", playlist, err)
	}

	return nil
}

// GetTrackWithExternalID finds the track with the platform-specific external ID
// provided. ErrNoRowFound is returned if no such track exists.
func (store *Store) GetTrackWithExternalID(db database.Queryable, platform Platform, externalID string) (*Track, error) {
	query, args, err := selectTrackBuilder().Where(squirrel.Eq{"track.platform": platform, "track.external_id": externalID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select track query: %w", err)
	}

	var dest trackModel
	if err := db.Get(&dest, db.Rebind(query), args...); err != nil {
		if database.IsNotFound(err) {
			return nil, ErrNoRowFound
		}
		return nil, err
	}

	return dest.toTrack(), nil
}

func (store *Store) GetTrack(db database.Queryable, id uuid.UUID) (*Track, error) {
	query, args, err := selectTrackBuilder().Where(squirrel.Eq{"track.id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select track query: %w", err)
	}

	var dest trackModel
	if err := db.Get(&dest, db.Rebind(query), args...); err != nil {
		if database.IsNotFound(err) {
			return nil, ErrNoRowFound
		}
		return nil, err
	}

	return dest.toTrack(), nil
}

func (store *Store) ListTracks(db database.Queryable, filter ListFilter) ([]*Track, error) {
	builder := applyFilter(selectTrackBuilder(), "track", filter).OrderBy("track.created_at DESC", "track.id")
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct list tracks query: %w", err)
	}

	var results []trackModel
	if err := db.Select(&results, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	output := make([]*Track, len(results))
	for k, v := range results {
		output[k] = v.toTrack()
	}

	return output, nil
}

// GetPlaylistWithExternalID finds the playlist with the platform-specific
// external ID provided, including its tracks in playlist order.
func (store *Store) GetPlaylistWithExternalID(db database.Queryable, platform Platform, externalID string) (*Playlist, error) {
	return store.getPlaylist(db, squirrel.Eq{"playlist.platform": platform, "playlist.external_id": externalID})
}

func (store *Store) GetPlaylist(db database.Queryable, id uuid.UUID) (*Playlist, error) {
	return store.getPlaylist(db, squirrel.Eq{"playlist.id": id})
}

func (store *Store) getPlaylist(db database.Queryable, where squirrel.Eq) (*Playlist, error) {
	query, args, err := selectPlaylistBuilder().Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select playlist query: %w", err)
	}

	var playlist Playlist
	if err := db.Get(&playlist, db.Rebind(query), args...); err != nil {
		if database.IsNotFound(err) {
			return nil, ErrNoRowFound
		}
		return nil, err
	}

	tracks, err := store.GetPlaylistTracks(db, playlist.ID)
	if err != nil {
		return nil, err
	}
	playlist.Tracks = tracks

	return &playlist, nil
}

// GetPlaylistTracks returns the tracks for the given playlist, ordered
// by their position in the playlist.
func (store *Store) GetPlaylistTracks(db database.Queryable, playlistID uuid.UUID) ([]*Track, error) {
	query, args, err := selectTrackBuilder().
		InnerJoin("playlist_track pt ON pt.track_id = track.id").
		Where(squirrel.Eq{"pt.playlist_id": playlistID}).
		OrderBy("pt.position").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct playlist tracks query: %w", err)
	}

	var results []trackModel
	if err := db.Select(&results, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	output := make([]*Track, len(results))
	for k, v := range results {
		output[k] = v.toTrack()
	}

	return output, nil
}

// ListPlaylists returns the playlists matching the filter. The tracks
// of each playlist are NOT populated.
func (store *Store) ListPlaylists(db database.Queryable, filter ListFilter) ([]*Playlist, error) {
	builder := applyFilter(selectPlaylistBuilder(), "playlist", filter).OrderBy("playlist.created_at DESC", "playlist.id")
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct list playlists query: %w", err)
	}

	var results []*Playlist
	if err := db.Select(&results, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	return results, nil
}

func (store *Store) DeleteTrack(db database.Queryable, id uuid.UUID) error {
	_, err := db.Exec(`DELETE FROM track WHERE id=$1`, id)
	return err
}

func (store *Store) DeletePlaylist(db database.Queryable, id uuid.UUID) error {
	_, err := db.Exec(`DELETE FROM playlist WHERE id=$1`, id)
	return err
}

// CountStats returns the number of tracks, playlists and thumbnails stored.
func (store *Store) CountStats(db database.Queryable) (*Stats, error) {
	var stats Stats
	if err := db.Get(&stats, `
		SELECT
			(SELECT COUNT(*) FROM track) AS tracks,
			(SELECT COUNT(*) FROM playlist) AS playlists,
			(SELECT COUNT(*) FROM thumbnail) AS thumbnails
	`); err != nil {
		return nil, fmt.Errorf("failed to count stats: %w", err)
	}

	log.Emit(logger.VERBOSE, "Counted stats %#v\n", stats)
	return &stats, nil
}

// trackModel is the database row for a track, combined with
// a JSON aggregation of the thumbnail rows for that track.
type trackModel struct {
	Track
	Thumbnails database.JsonColumn[[]Thumbnail] `db:"thumbnails"`
}

func (m *trackModel) toTrack() *Track {
	t := m.Track
	t.Thumbnails = m.Thumbnails.Get()
	if t.Thumbnails == nil {
		t.Thumbnails = []Thumbnail{}
	}

	return &t
}

func selectTrackBuilder() squirrel.SelectBuilder {
	return squirrel.Select(
		"track.*",
		`COALESCE(
			(SELECT json_agg(json_build_object('url', th.url, 'width', th.width, 'height', th.height) ORDER BY th.position)
			FROM thumbnail th WHERE th.track_id = track.id),
			'[]'
		) AS thumbnails`,
	).From("track")
}

func selectPlaylistBuilder() squirrel.SelectBuilder {
	return squirrel.Select("playlist.*").From("playlist")
}

func applyFilter(builder squirrel.SelectBuilder, table string, filter ListFilter) squirrel.SelectBuilder {
	if filter.Platform != nil {
		builder = builder.Where(squirrel.Eq{table + ".platform": *filter.Platform})
	}
	if filter.Uploader != "" {
		builder = builder.Where(squirrel.Eq{table + ".uploader": filter.Uploader})
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	} else if limit > MaxListLimit {
		limit = MaxListLimit
	}
	builder = builder.Limit(uint64(limit))
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	return builder
}
