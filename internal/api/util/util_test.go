package util_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hbomb79/Tempo/internal/api/util"
	"github.com/hbomb79/Tempo/internal/media"
	"github.com/stretchr/testify/assert"
)

func Test_ApplyConversion_NilIsEmpty(t *testing.T) {
	out := util.ApplyConversion([]*media.Track(nil), func(t *media.Track) string { return t.Title })
	assert.NotNil(t, out)
	assert.Empty(t, out)

	titles := util.ApplyConversion([]*media.Track{{Title: "a"}, {Title: "b"}}, func(t *media.Track) string { return t.Title })
	assert.Equal(t, []string{"a", "b"}, titles)
}

func Test_TrackIDs_SkipsUnsaved(t *testing.T) {
	first, second := uuid.New(), uuid.New()
	ids := util.TrackIDs([]*media.Track{{ID: first}, {}, nil, {ID: second}})
	assert.Equal(t, []uuid.UUID{first, second}, ids)
}

func Test_ErrorMessages(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, util.ErrorMessages([]error{errors.New("a"), errors.New("b")}))
	assert.Equal(t, []string{}, util.ErrorMessages([]error(nil)))
}
