package storage_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hbomb79/Tempo/internal/storage"
	"github.com/hbomb79/Tempo/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

type failingReader struct {
	data []byte
	err  error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, f.err
	}

	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func Test_Local_PutExistsDelete(t *testing.T) {
	ctx := context.Background()
	local := storage.NewLocal(storage.LocalConfig{Root: t.TempDir()})
	require.NoError(t, local.Usable())

	key := storage.Key("youtube/alice/abc.mp3")
	exists, err := local.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	location, err := local.Put(ctx, key, strings.NewReader("audio"))
	require.NoError(t, err)
	assert.Equal(t, local.Path(key), location)

	content, err := os.ReadFile(location)
	require.NoError(t, err)
	assert.Equal(t, "audio", string(content))

	exists, err = local.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, local.Delete(ctx, key))
	require.NoError(t, local.Delete(ctx, key), "deleting a missing key is not an error")
	exists, err = local.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func Test_Local_FailedPutLeavesNothing(t *testing.T) {
	ctx := context.Background()
	local := storage.NewLocal(storage.LocalConfig{Root: t.TempDir()})

	key := storage.Key("soundcloud/alice/mix/1.mp3")
	_, err := local.Put(ctx, key, &failingReader{data: []byte("partial"), err: errors.New("tool exited with status 1")})
	require.Error(t, err)

	exists, err := local.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	entries, err := os.ReadDir(filepath.Dir(local.Path(key)))
	require.NoError(t, err)
	assert.Empty(t, entries, "partial file must be removed")
}

func Test_Local_DeletePrefix(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	local := storage.NewLocal(storage.LocalConfig{Root: root})

	for _, k := range []storage.Key{"spotify/bob/trip/1.mp3", "spotify/bob/trip/2.mp3", "spotify/bob/other/3.mp3"} {
		_, err := local.Put(ctx, k, io.LimitReader(strings.NewReader("xxxx"), 2))
		require.NoError(t, err)
	}

	require.NoError(t, local.DeletePrefix(ctx, "spotify/bob/trip"))
	exists, _ := local.Exists(ctx, "spotify/bob/trip/1.mp3")
	assert.False(t, exists)
	exists, _ = local.Exists(ctx, "spotify/bob/other/3.mp3")
	assert.True(t, exists)

	assert.Error(t, local.DeletePrefix(ctx, ""), "the root itself must never be removed")
}

func Test_Local_PathStaysBeneathRoot(t *testing.T) {
	root := t.TempDir()
	local := storage.NewLocal(storage.LocalConfig{Root: root})
	assert.True(t, strings.HasPrefix(local.Path("../../etc/passwd"), root))
}

func Test_Local_UnusableWithoutRoot(t *testing.T) {
	local := storage.NewLocal(storage.LocalConfig{})
	assert.ErrorIs(t, local.Usable(), storage.ErrBackendUnusable)

	_, err := storage.Backends{storage.LOCAL: local}.Get(storage.LOCAL)
	assert.ErrorIs(t, err, storage.ErrBackendUnusable)

	_, err = storage.Backends{}.Get(storage.S3)
	assert.ErrorIs(t, err, storage.ErrBackendUnusable)
}

func Test_Local_ReserveCommit(t *testing.T) {
	local := storage.NewLocal(storage.LocalConfig{Root: t.TempDir()})
	key := storage.Key("youtube/alice/abc.mp3")

	stem, err := local.Reserve(key)
	require.NoError(t, err)
	assert.Equal(t, filepath.Dir(local.Path(key)), filepath.Dir(stem))
	assert.Contains(t, filepath.Base(stem), ".part-")

	// The tool leaves its source container beside the converted audio.
	require.NoError(t, os.WriteFile(stem+".webm", []byte("source"), 0o644))
	require.NoError(t, os.WriteFile(stem+".mp3", []byte("audio"), 0o644))

	location, err := local.Commit(key, stem)
	require.NoError(t, err)
	assert.Equal(t, local.Path(key), location)

	content, err := os.ReadFile(location)
	require.NoError(t, err)
	assert.Equal(t, "audio", string(content))

	entries, err := os.ReadDir(filepath.Dir(location))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "partial files must be removed once committed")
}

func Test_Local_CommitWithoutArtifact(t *testing.T) {
	local := storage.NewLocal(storage.LocalConfig{Root: t.TempDir()})
	key := storage.Key("youtube/alice/abc.mp3")

	stem, err := local.Reserve(key)
	require.NoError(t, err)
	_, err = local.Commit(key, stem)
	assert.ErrorIs(t, err, storage.ErrNoArtifact)

	require.NoError(t, os.WriteFile(stem+".mp3", nil, 0o644))
	_, err = local.Commit(key, stem)
	assert.ErrorIs(t, err, storage.ErrNoArtifact)

	local.Discard(stem)
	assert.NoFileExists(t, stem+".mp3")
	exists, err := local.Exists(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, exists)
}
