package download_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hbomb79/Tempo/internal/download"
	"github.com/hbomb79/Tempo/internal/extract"
	"github.com/hbomb79/Tempo/internal/media"
	"github.com/hbomb79/Tempo/internal/storage"
	"github.com/hbomb79/Tempo/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

// fakeTool stands in for the download tool. It logs the URL it was asked to
// fetch, fails for URLs containing 'fail', writes nothing for URLs containing
// 'empty' and otherwise writes a small payload derived from the URL. Like the
// real tool, the payload goes to stdout when the output is '-', and otherwise
// to the output template with '%(ext)s' replaced by the audio format.
type fakeTool struct {
	path string
	log  string
	args string
}

func newFakeTool(t *testing.T) *fakeTool {
	dir := t.TempDir()
	tool := &fakeTool{path: filepath.Join(dir, "yt-dlp"), log: filepath.Join(dir, "invocations"), args: filepath.Join(dir, "args")}
	script := fmt.Sprintf(`#!/bin/sh
echo "$@" >> %s
out=""; format=""; last=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift ;;
    --audio-format) format="$2"; shift ;;
  esac
  last="$1"; shift
done
echo "$last" >> %s
case "$last" in
  *fail*) echo "ERROR: [youtube] $last: Video unavailable" >&2; exit 1 ;;
  *empty*) exit 0 ;;
esac
if [ "$out" = "-" ]; then
  printf 'audio:%%s' "$last"
else
  printf 'source' > "${out%%".%%(ext)s"}.webm"
  printf 'audio:%%s' "$last" > "${out%%".%%(ext)s"}.$format"
fi
`, tool.args, tool.log)
	require.NoError(t, os.WriteFile(tool.path, []byte(script), 0o755))

	return tool
}

// outputs returns the value of the '-o' argument for every invocation.
func (f *fakeTool) outputs(t *testing.T) []string {
	content, err := os.ReadFile(f.args)
	require.NoError(t, err)

	output := make([]string, 0)
	for _, line := range strings.Split(strings.TrimSpace(string(content)), "\n") {
		fields := strings.Fields(line)
		for i, field := range fields {
			if field == "-o" && i+1 < len(fields) {
				output = append(output, fields[i+1])
			}
		}
	}

	return output
}

func (f *fakeTool) invocations(t *testing.T) []string {
	content, err := os.ReadFile(f.log)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}
	}
	require.NoError(t, err)

	return strings.Fields(string(content))
}

func track(id string) *media.Track {
	return &media.Track{
		Platform:   media.YouTube,
		ExternalID: id,
		Title:      "Song " + id,
		Uploader:   "Alice",
		SourceURL:  "https://www.youtube.com/watch?v=" + id,
	}
}

func tracks(ids ...string) []*media.Track {
	output := make([]*media.Track, len(ids))
	for i, id := range ids {
		output[i] = track(id)
	}

	return output
}

func localCoordinator(t *testing.T, tool *fakeTool, concurrency int) (*download.Coordinator, *storage.Local) {
	local := storage.NewLocal(storage.LocalConfig{Root: t.TempDir()})
	config := download.Config{Concurrency: concurrency, AudioFormat: "mp3"}

	return download.NewCoordinatorWithSearcher(config, tool.path, nil, storage.Backends{storage.LOCAL: local}), local
}

func outcomes(batch *download.Batch) map[string]download.Outcome {
	output := make(map[string]download.Outcome)
	for _, r := range batch.Results {
		output[r.Track.ExternalID] = r.Outcome
	}

	return output
}

func Test_Process_Idempotent(t *testing.T) {
	tool := newFakeTool(t)
	coordinator, local := localCoordinator(t, tool, 2)
	opts := download.Options{Destination: storage.LOCAL}

	batch, err := coordinator.Process(context.Background(), tracks("a", "b", "c"), opts)
	require.NoError(t, err)
	assert.Equal(t, 3, batch.Count(download.DOWNLOADED))
	assert.Len(t, tool.invocations(t), 3)

	content, err := os.ReadFile(local.Path("youtube/Alice/a.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "audio:https://www.youtube.com/watch?v=a", string(content))

	again := tracks("a", "b", "c")
	batch, err = coordinator.Process(context.Background(), again, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, batch.Count(download.ALREADY_EXISTS))
	assert.Len(t, tool.invocations(t), 3, "existing artifacts must not invoke the tool again")

	for _, tr := range again {
		require.NotNil(t, tr.StorageKey)
		require.NotNil(t, tr.StorageURL)
		assert.Equal(t, local.Path(storage.Key(*tr.StorageKey)), *tr.StorageURL)
	}
}

func Test_Process_LocalToolWritesBesideKey(t *testing.T) {
	tool := newFakeTool(t)
	coordinator, local := localCoordinator(t, tool, 1)

	batch, err := coordinator.Process(context.Background(), tracks("a"), download.Options{Destination: storage.LOCAL})
	require.NoError(t, err)
	require.Equal(t, download.DOWNLOADED, outcomes(batch)["a"])

	target := local.Path("youtube/Alice/a.mp3")
	outputs := tool.outputs(t)
	require.Len(t, outputs, 1)
	assert.NotEqual(t, "-", outputs[0], "local downloads must not be piped through stdout")
	assert.Equal(t, filepath.Dir(target), filepath.Dir(outputs[0]))
	assert.True(t, strings.HasPrefix(filepath.Base(outputs[0]), "a.part-"))
	assert.True(t, strings.HasSuffix(outputs[0], ".%(ext)s"))

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "audio:https://www.youtube.com/watch?v=a", string(content), "the converted audio must be stored, not the source container")

	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func Test_Process_PartialFailure(t *testing.T) {
	tool := newFakeTool(t)
	coordinator, local := localCoordinator(t, tool, 4)

	batch, err := coordinator.Process(context.Background(), tracks("a", "fail", "c"), download.Options{Destination: storage.LOCAL})
	require.NoError(t, err)
	require.Len(t, batch.Results, 3)
	assert.True(t, batch.Succeeded())

	assert.Equal(t, map[string]download.Outcome{
		"a":    download.DOWNLOADED,
		"fail": download.FAILED,
		"c":    download.DOWNLOADED,
	}, outcomes(batch))

	failures := batch.Failures()
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Reason(), "Video unavailable", "failure must carry the tool's stderr")
	assert.True(t, download.IsToolError(failures[0].Err))
	assert.Nil(t, failures[0].Track.StorageKey)

	exists, err := local.Exists(context.Background(), "youtube/Alice/fail.mp3")
	require.NoError(t, err)
	assert.False(t, exists, "a failed download must not leave an artifact")
}

func Test_Process_AllFailed(t *testing.T) {
	tool := newFakeTool(t)
	coordinator, _ := localCoordinator(t, tool, 4)

	batch, err := coordinator.Process(context.Background(), tracks("fail1", "fail2"), download.Options{Destination: storage.LOCAL})
	require.NoError(t, err)
	assert.Len(t, batch.Results, 2)
	assert.False(t, batch.Succeeded())
}

func Test_Process_EmptyOutputIsFailure(t *testing.T) {
	tool := newFakeTool(t)
	coordinator, _ := localCoordinator(t, tool, 1)

	batch, err := coordinator.Process(context.Background(), tracks("empty"), download.Options{Destination: storage.LOCAL})
	require.NoError(t, err)
	require.Len(t, batch.Results, 1)
	assert.Equal(t, download.FAILED, batch.Results[0].Outcome)
	assert.ErrorIs(t, batch.Results[0].Err, download.ErrEmptyOutput)
}

func Test_Process_ManyTracksBoundedPool(t *testing.T) {
	tool := newFakeTool(t)
	coordinator, _ := localCoordinator(t, tool, 4)

	ids := make([]string, 50)
	for i := range ids {
		ids[i] = fmt.Sprintf("track%02d", i)
	}

	batch, err := coordinator.Process(context.Background(), tracks(ids...), download.Options{Destination: storage.LOCAL})
	require.NoError(t, err)
	require.Len(t, batch.Results, 50)

	seen := make([]string, 0, 50)
	indexes := make(map[int]bool)
	for _, r := range batch.Results {
		assert.Equal(t, download.DOWNLOADED, r.Outcome)
		seen = append(seen, r.Track.ExternalID)
		indexes[r.Index] = true
	}
	sort.Strings(seen)
	assert.Equal(t, ids, seen, "every track must be reported exactly once")
	assert.Len(t, indexes, 50)
	assert.Len(t, tool.invocations(t), 50)
}

func Test_Process_DuplicateKeysInBatch(t *testing.T) {
	tool := newFakeTool(t)
	coordinator, _ := localCoordinator(t, tool, 4)

	batch, err := coordinator.Process(context.Background(), tracks("dup", "dup", "other"), download.Options{Destination: storage.LOCAL})
	require.NoError(t, err)
	require.Len(t, batch.Results, 3)
	assert.Equal(t, 2, batch.Count(download.DOWNLOADED))
	assert.Equal(t, 1, batch.Count(download.ALREADY_EXISTS))
	assert.Len(t, tool.invocations(t), 2)
}

func Test_Process_PlaylistMembersAndFresh(t *testing.T) {
	tool := newFakeTool(t)
	coordinator, local := localCoordinator(t, tool, 2)
	playlist := &media.Playlist{Platform: media.YouTube, Uploader: "Bob", Title: "Road Trip"}

	stale := storage.Key("youtube/Bob/Road-Trip/removed.mp3")
	_, err := local.Put(context.Background(), stale, strings.NewReader("old"))
	require.NoError(t, err)
	_, err = local.Put(context.Background(), "youtube/Bob/Road-Trip/a.mp3", strings.NewReader("old"))
	require.NoError(t, err)

	batch, err := coordinator.Process(context.Background(), tracks("a", "b"), download.Options{Destination: storage.LOCAL, Playlist: playlist, Fresh: true})
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Count(download.DOWNLOADED), "fresh batches must re-download existing members")

	exists, err := local.Exists(context.Background(), stale)
	require.NoError(t, err)
	assert.False(t, exists)

	for _, r := range batch.Results {
		assert.Equal(t, storage.Key("youtube/Bob/Road-Trip/"+r.Track.ExternalID+".mp3"), r.Key)
	}
}

func Test_Process_CancelledBeforeStart(t *testing.T) {
	tool := newFakeTool(t)
	coordinator, _ := localCoordinator(t, tool, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch, err := coordinator.Process(ctx, tracks("a", "b", "c"), download.Options{Destination: storage.LOCAL})
	require.NoError(t, err)
	require.Len(t, batch.Results, 3)
	for _, r := range batch.Results {
		assert.Equal(t, download.FAILED, r.Outcome)
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
	assert.Empty(t, tool.invocations(t))
}

func Test_Process_UnusableDestination(t *testing.T) {
	tool := newFakeTool(t)
	backends := storage.Backends{storage.S3: storage.NewS3(context.Background(), storage.S3Config{})}
	coordinator := download.NewCoordinatorWithSearcher(download.Config{Concurrency: 2}, tool.path, nil, backends)

	_, err := coordinator.Process(context.Background(), tracks("a"), download.Options{Destination: storage.S3})
	assert.ErrorIs(t, err, storage.ErrBackendUnusable)
	assert.Empty(t, tool.invocations(t))
}

type mockObjectAPI struct {
	mock.Mock
	storage.ObjectAPI
}

func (m *mockObjectAPI) HeadObject(ctx context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.HeadObjectOutput)
	return out, args.Error(1)
}

// streamingUploader consumes the body like the multipart uploader does,
// failing the upload if the body returns an error.
type streamingUploader struct {
	bodies map[string]string
}

func (u *streamingUploader) Upload(_ context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, fmt.Errorf("read upload body: %w", err)
	}

	u.bodies[*input.Key] = string(body)
	return &manager.UploadOutput{}, nil
}

func Test_Process_UploadsToObjectStorage(t *testing.T) {
	tool := newFakeTool(t)
	api := &mockObjectAPI{}
	api.On("HeadObject", mock.Anything, mock.Anything).Return(nil, &types.NotFound{})
	uploader := &streamingUploader{bodies: make(map[string]string)}
	backend := storage.NewS3WithClient(storage.S3Config{Bucket: "media", Region: "eu-west-2"}, api, uploader)

	coordinator := download.NewCoordinatorWithSearcher(download.Config{Concurrency: 2}, tool.path, nil, storage.Backends{storage.S3: backend})
	batch, err := coordinator.Process(context.Background(), tracks("a", "fail"), download.Options{Destination: storage.S3, AudioFormat: "opus"})
	require.NoError(t, err)

	assert.Equal(t, map[string]download.Outcome{"a": download.UPLOADED, "fail": download.FAILED}, outcomes(batch))
	assert.Equal(t, map[string]string{"youtube/Alice/a.opus": "audio:https://www.youtube.com/watch?v=a"}, uploader.bodies)
	assert.Equal(t, []string{"-", "-"}, tool.outputs(t), "uploads must stream the tool's stdout")

	for _, r := range batch.Results {
		if r.Outcome == download.UPLOADED {
			assert.Equal(t, "https://media.s3.eu-west-2.amazonaws.com/youtube/Alice/a.opus", r.Location)
		} else {
			assert.Contains(t, r.Reason(), "Video unavailable")
		}
	}
}

type mockSearcher struct {
	mock.Mock
}

func (m *mockSearcher) Search(ctx context.Context, query string, limit int) ([]extract.RawMetadata, error) {
	args := m.Called(ctx, query, limit)
	results, _ := args.Get(0).([]extract.RawMetadata)
	return results, args.Error(1)
}

func Test_Process_SpotifyIsResolvedBySearch(t *testing.T) {
	tool := newFakeTool(t)
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, "Rick Astley - Never Gonna Give You Up", 3).Return([]extract.RawMetadata{
		{"id": "live1", "title": "Rick Astley - Never Gonna Give You Up (Live at Glastonbury)"},
		{"id": "dQw4w9WgXcQ", "title": "Rick Astley - Never Gonna Give You Up", "url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"id": "cover", "title": "Piano cover compilation"},
	}, nil).Once()
	searcher.On("Search", mock.Anything, "Nobody - Nothing", 3).Return([]extract.RawMetadata{{"id": "x", "title": "Completely unrelated"}}, nil).Once()

	local := storage.NewLocal(storage.LocalConfig{Root: t.TempDir()})
	config := download.Config{Concurrency: 1, SearchResults: 3, MatchThreshold: 0.8}
	coordinator := download.NewCoordinatorWithSearcher(config, tool.path, searcher, storage.Backends{storage.LOCAL: local})

	tracks := []*media.Track{
		{Platform: media.Spotify, ExternalID: "4uLU6hMCjMI75M1A2tKUQC", Title: "Never Gonna Give You Up", Uploader: "Rick Astley"},
		{Platform: media.Spotify, ExternalID: "missing", Title: "Nothing", Uploader: "Nobody"},
	}
	batch, err := coordinator.Process(context.Background(), tracks, download.Options{Destination: storage.LOCAL})
	require.NoError(t, err)

	assert.Equal(t, map[string]download.Outcome{"4uLU6hMCjMI75M1A2tKUQC": download.DOWNLOADED, "missing": download.FAILED}, outcomes(batch))
	assert.Equal(t, []string{"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}, tool.invocations(t))
	for _, r := range batch.Failures() {
		assert.ErrorIs(t, r.Err, download.ErrNoMatch)
	}
	searcher.AssertExpectations(t)
}

// panickingBackend is local storage which panics when asked about any key
// containing 'boom'.
type panickingBackend struct {
	*storage.Local
}

func (b panickingBackend) Exists(ctx context.Context, key storage.Key) (bool, error) {
	if strings.Contains(string(key), "boom") {
		panic("corrupt artifact")
	}

	return b.Local.Exists(ctx, key)
}

func Test_Process_PanicFailsOnlyItsTrack(t *testing.T) {
	tool := newFakeTool(t)
	backend := panickingBackend{Local: storage.NewLocal(storage.LocalConfig{Root: t.TempDir()})}
	coordinator := download.NewCoordinatorWithSearcher(download.Config{Concurrency: 2}, tool.path, nil, storage.Backends{storage.LOCAL: backend})

	batch, err := coordinator.Process(context.Background(), tracks("a", "boom", "boom", "c"), download.Options{Destination: storage.LOCAL})
	require.NoError(t, err)
	require.Len(t, batch.Results, 4)
	assert.Equal(t, 2, batch.Count(download.DOWNLOADED))
	assert.Equal(t, 2, batch.Count(download.FAILED), "a duplicate of a panicked track must not wait forever")
	assert.True(t, batch.Succeeded())

	for _, r := range batch.Failures() {
		assert.Equal(t, "boom", r.Track.ExternalID)
		assert.ErrorIs(t, r.Err, download.ErrDownloadPanicked)
		assert.Contains(t, r.Reason(), "corrupt artifact")
		assert.Equal(t, storage.Key("youtube/Alice/boom.mp3"), r.Key)
	}
}
