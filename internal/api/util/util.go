package util

import (
	"github.com/google/uuid"
	"github.com/hbomb79/Tempo/internal/media"
)

// ApplyConversion converts every model to its DTO. A nil slice yields an
// empty (non-nil) slice, so it is rendered as [] rather than null.
func ApplyConversion[T any, K any](models []T, converter func(T) K) []K {
	dtos := make([]K, 0, len(models))
	for _, v := range models {
		dtos = append(dtos, converter(v))
	}

	return dtos
}

// TrackIDs returns the IDs of the tracks provided, in order. Tracks which
// have not been persisted (nil ID) are skipped.
func TrackIDs(tracks []*media.Track) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(tracks))
	for _, t := range tracks {
		if t != nil && t.ID != uuid.Nil {
			ids = append(ids, t.ID)
		}
	}

	return ids
}

// ErrorMessages renders each error as its message.
func ErrorMessages[E error](errs []E) []string {
	return ApplyConversion(errs, func(err E) string { return err.Error() })
}
