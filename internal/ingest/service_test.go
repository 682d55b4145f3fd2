package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Tempo/internal/download"
	"github.com/hbomb79/Tempo/internal/event"
	"github.com/hbomb79/Tempo/internal/extract"
	"github.com/hbomb79/Tempo/internal/ingest"
	"github.com/hbomb79/Tempo/internal/ingest/mocks"
	"github.com/hbomb79/Tempo/internal/media"
	"github.com/hbomb79/Tempo/internal/source"
	"github.com/hbomb79/Tempo/internal/storage"
	"github.com/hbomb79/Tempo/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const playlistURL = "https://www.youtube.com/playlist?list=PL123"

// A default event bus which should be used as a NOOP event bus. DO NOT subscribe to this
// inside of a test as the subscriber are not removed between tests.
var (
	defaultEventBus = event.New()
	errExpected     = errors.New("test: expected error")
)

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

type Service interface {
	Submit(string, ingest.Options) (*ingest.IngestItem, error)
	GetIngest(uuid.UUID) *ingest.IngestItem
	GetAllIngests() []*ingest.IngestItem
	RemoveIngest(uuid.UUID) error
	ResolveTroubledIngest(uuid.UUID, ingest.ResolutionType) error
}

type fixture struct {
	extractor   *mocks.MockExtractor
	coordinator *mocks.MockCoordinator
	store       *mocks.MockDataStore
}

func newFixture(t *testing.T) fixture {
	return fixture{
		extractor:   mocks.NewMockExtractor(t),
		coordinator: mocks.NewMockCoordinator(t),
		store:       mocks.NewMockDataStore(t),
	}
}

func startServiceWithBus(t *testing.T, config ingest.Config, f fixture, eventBus event.EventCoordinator) Service {
	srv, err := ingest.New(config, f.extractor, f.coordinator, f.store, eventBus)
	require.NoError(t, err)

	wg := sync.WaitGroup{}
	wg.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer wg.Done()
		assert.Nil(t, srv.Run(ctx))
	}()

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	return srv
}

func startService(t *testing.T, f fixture) Service {
	return startServiceWithBus(t, ingest.Config{IngestionParallelism: 1}, f, defaultEventBus)
}

func youtubePlaylist(ids ...string) *extract.Extraction {
	tracks := make([]extract.RawMetadata, len(ids))
	for i, id := range ids {
		tracks[i] = extract.RawMetadata{
			"id":          id,
			"title":       "Video " + id,
			"uploader":    "Channel",
			"webpage_url": "https://www.youtube.com/watch?v=" + id,
			"formats":     []any{},
		}
	}

	return &extract.Extraction{
		Playlist: extract.RawMetadata{
			"playlist_id":          "PL123",
			"playlist_title":       "Mix",
			"playlist_uploader":    "Channel",
			"playlist_webpage_url": playlistURL,
		},
		Tracks: tracks,
	}
}

// batchFailing returns a coordinator response which fails the tracks
// with the external IDs provided, and downloads the rest.
func batchFailing(failing ...string) func([]*media.Track, download.Options) *download.Batch {
	return func(tracks []*media.Track, _ download.Options) *download.Batch {
		batch := &download.Batch{}
		for i, track := range tracks {
			result := &download.Result{Index: i, Track: track, Key: storage.Key(track.ExternalID), Outcome: download.DOWNLOADED}
			for _, id := range failing {
				if id == track.ExternalID {
					result.Outcome = download.FAILED
					result.Err = &download.ToolError{Tool: "yt-dlp", Stderr: "Video unavailable", Err: errExpected}
				}
			}
			batch.Results = append(batch.Results, result)
		}

		return batch
	}
}

func assignIDs(args mock.Arguments) {
	//nolint:forcetypeassert
	for _, track := range args.Get(1).([]*media.Track) {
		track.ID = uuid.New()
	}
}

type recorder struct {
	sync.Mutex
	events map[event.Event][]event.Payload
}

func record(bus event.EventCoordinator, events ...event.Event) *recorder {
	r := &recorder{events: make(map[event.Event][]event.Payload)}
	for _, ev := range events {
		bus.RegisterHandlerFunction(ev, func(ev event.Event, payload event.Payload) {
			r.Lock()
			defer r.Unlock()
			r.events[ev] = append(r.events[ev], payload)
		})
	}

	return r
}

func (r *recorder) count(ev event.Event) int {
	r.Lock()
	defer r.Unlock()
	return len(r.events[ev])
}

func Test_Submit_RejectsUnsupportedURL(t *testing.T) {
	t.Parallel()
	srv := startService(t, newFixture(t))

	item, err := srv.Submit("https://example.com/foo", ingest.Options{})
	assert.ErrorIs(t, err, source.ErrUnsupportedURL)
	assert.Nil(t, item)
	assert.Empty(t, srv.GetAllIngests())
}

func Test_Submit_RejectsUnusableDestination(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.coordinator.On("Usable", storage.S3).Return(fmt.Errorf("%w: missing credentials", storage.ErrBackendUnusable)).Once()
	srv := startService(t, f)

	item, err := srv.Submit(playlistURL, ingest.Options{Destination: storage.S3})
	assert.ErrorIs(t, err, storage.ErrBackendUnusable)
	assert.Nil(t, item)
	assert.Empty(t, srv.GetAllIngests())
}

func Test_Submit_RejectsUnavailableExtractor(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.coordinator.On("Usable", storage.LOCAL).Return(nil).Once()
	f.extractor.On("Usable", media.Spotify).Return(extract.ErrExtractorUnavailable).Once()
	srv := startService(t, f)

	_, err := srv.Submit("https://open.spotify.com/track/abc123", ingest.Options{})
	assert.ErrorIs(t, err, extract.ErrExtractorUnavailable)
	assert.Empty(t, srv.GetAllIngests())
}

func Test_Playlist_PartialFailureIsSaved(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.coordinator.On("Usable", storage.LOCAL).Return(nil)
	f.extractor.On("Usable", media.YouTube).Return(nil)
	f.extractor.On("Extract", mock.Anything, mock.MatchedBy(func(c source.Classification) bool {
		return c.Platform == media.YouTube && c.Kind == media.PLAYLIST
	})).Return(youtubePlaylist("a", "b", "c"), nil).Once()
	f.coordinator.On("Process", mock.Anything, mock.Anything, mock.MatchedBy(func(opts download.Options) bool {
		return opts.Destination == storage.LOCAL && opts.Playlist != nil && opts.Playlist.ExternalID == "PL123"
	})).Return(batchFailing("b"), nil).Once()
	f.store.On("SaveIngestion",
		mock.MatchedBy(func(p *media.Playlist) bool {
			return p != nil && len(p.Tracks) == 2 && p.Tracks[0].ExternalID == "a" && p.Tracks[1].ExternalID == "c"
		}),
		mock.MatchedBy(func(tracks []*media.Track) bool { return len(tracks) == 2 }),
	).Run(assignIDs).Return(nil).Once()

	bus := event.New()
	events := record(bus, event.TRACK_SAVED, event.INGEST_COMPLETE, event.INGEST_UPDATE)
	srv := startServiceWithBus(t, ingest.Config{IngestionParallelism: 1}, f, bus)

	item, err := srv.Submit(playlistURL, ingest.Options{})
	require.NoError(t, err)

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		assert.Equal(c, 1, events.count(event.INGEST_COMPLETE))
		assert.Equal(c, 2, events.count(event.TRACK_SAVED))
	}, 2*time.Second, 50*time.Millisecond)

	got := srv.GetIngest(item.ID)
	require.NotNil(t, got)
	assert.Equal(t, ingest.COMPLETE, got.State)
	assert.Nil(t, got.Trouble)
	require.NotNil(t, got.Report)
	assert.True(t, got.Report.Succeeded)
	assert.Len(t, got.Report.Results, 3)
	assert.Len(t, got.Report.Saved, 2)
	assert.GreaterOrEqual(t, events.count(event.INGEST_UPDATE), 3)
}

func Test_ExtractionFailure_TroubledThenRetried(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.coordinator.On("Usable", storage.LOCAL).Return(nil)
	f.extractor.On("Usable", media.YouTube).Return(nil)
	f.extractor.On("Extract", mock.Anything, mock.Anything).
		Return(nil, &extract.ExtractionError{URL: playlistURL, Stderr: "ERROR: private playlist", Err: errExpected}).Once()
	srv := startService(t, f)

	item, err := srv.Submit(playlistURL, ingest.Options{})
	require.NoError(t, err)

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		got := srv.GetIngest(item.ID)
		if assert.NotNil(c, got) && assert.Equal(c, ingest.TROUBLED, got.State) && assert.NotNil(c, got.Trouble) {
			assert.Equal(c, ingest.EXTRACTION_FAILURE, got.Trouble.Type())
			assert.Contains(c, got.Trouble.Error(), "private playlist")
		}
	}, 2*time.Second, 50*time.Millisecond)

	// The second attempt succeeds.
	f.extractor.On("Extract", mock.Anything, mock.Anything).Return(youtubePlaylist("a"), nil).Once()
	f.coordinator.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(batchFailing(), nil).Once()
	f.store.On("SaveIngestion", mock.Anything, mock.Anything).Run(assignIDs).Return(nil).Once()

	require.NoError(t, srv.ResolveTroubledIngest(item.ID, ingest.RETRY))
	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		got := srv.GetIngest(item.ID)
		if assert.NotNil(c, got) {
			assert.Equal(c, ingest.COMPLETE, got.State)
		}
	}, 2*time.Second, 50*time.Millisecond)
}

func Test_AllDownloadsFailed_NothingSaved(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.coordinator.On("Usable", storage.LOCAL).Return(nil)
	f.extractor.On("Usable", media.YouTube).Return(nil)
	f.extractor.On("Extract", mock.Anything, mock.Anything).Return(youtubePlaylist("a", "b"), nil).Once()
	f.coordinator.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(batchFailing("a", "b"), nil).Once()
	srv := startService(t, f)

	item, err := srv.Submit(playlistURL, ingest.Options{})
	require.NoError(t, err)

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		got := srv.GetIngest(item.ID)
		if assert.NotNil(c, got) && assert.Equal(c, ingest.TROUBLED, got.State) && assert.NotNil(c, got.Trouble) {
			assert.Equal(c, ingest.DOWNLOAD_FAILURE, got.Trouble.Type())
			if assert.NotNil(c, got.Report) {
				assert.False(c, got.Report.Succeeded)
				assert.Len(c, got.Report.Results, 2)
			}
		}
	}, 2*time.Second, 50*time.Millisecond)

	f.store.AssertNotCalled(t, "SaveIngestion", mock.Anything, mock.Anything)
}

func Test_PersistenceFailure_Troubled(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.coordinator.On("Usable", storage.LOCAL).Return(nil)
	f.extractor.On("Usable", media.YouTube).Return(nil)
	f.extractor.On("Extract", mock.Anything, mock.Anything).Return(youtubePlaylist("a"), nil).Once()
	f.coordinator.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(batchFailing(), nil).Once()
	f.store.On("SaveIngestion", mock.Anything, mock.Anything).Return(errExpected).Once()
	srv := startService(t, f)

	item, err := srv.Submit(playlistURL, ingest.Options{})
	require.NoError(t, err)

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		got := srv.GetIngest(item.ID)
		if assert.NotNil(c, got) && assert.NotNil(c, got.Trouble) {
			assert.Equal(c, ingest.PERSISTENCE_FAILURE, got.Trouble.Type())
		}
	}, 2*time.Second, 50*time.Millisecond)
}

func Test_AbortResolution_RemovesItem(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.coordinator.On("Usable", storage.LOCAL).Return(nil)
	f.extractor.On("Usable", media.YouTube).Return(nil)
	f.extractor.On("Extract", mock.Anything, mock.Anything).Return(nil, errExpected).Once()
	srv := startService(t, f)

	item, err := srv.Submit(playlistURL, ingest.Options{})
	require.NoError(t, err)

	assert.ErrorIs(t, srv.ResolveTroubledIngest(uuid.New(), ingest.ABORT), ingest.ErrIngestNotFound)
	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		got := srv.GetIngest(item.ID)
		if assert.NotNil(c, got) {
			assert.Equal(c, ingest.TROUBLED, got.State)
		}
	}, 2*time.Second, 50*time.Millisecond)

	require.NoError(t, srv.ResolveTroubledIngest(item.ID, ingest.ABORT))
	assert.Nil(t, srv.GetIngest(item.ID))
	assert.ErrorIs(t, srv.ResolveTroubledIngest(item.ID, ingest.RETRY), ingest.ErrIngestNotFound)
}

func Test_DropFile_SubmitsEachURL(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	dropFile := filepath.Join(dir, "queue.txt")
	require.NoError(t, os.WriteFile(dropFile, []byte("# weekly\n\nhttps://example.com/nope\nhttps://www.youtube.com/watch?v=abc123\n"), 0o644))

	manifest := filepath.Join(dir, "nested", "upload.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(manifest), 0o755))
	require.NoError(t, os.WriteFile(manifest, []byte("destination: s3\nfresh: true\nurls:\n  - https://soundcloud.com/alice/sets/mix\n"), 0o644))

	f := newFixture(t)
	f.coordinator.On("Usable", mock.Anything).Return(nil)
	f.extractor.On("Usable", mock.Anything).Return(nil)
	// Items are left queued: extraction blocks until the service stops.
	f.extractor.On("Extract", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		//nolint:forcetypeassert
		<-args.Get(0).(context.Context).Done()
	}).Return(nil, context.Canceled).Maybe()

	cfg := ingest.Config{IngestionParallelism: 1, WatchPath: dir, ForceSyncSeconds: 1}
	srv := startServiceWithBus(t, cfg, f, defaultEventBus)

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		items := srv.GetAllIngests()
		if !assert.Len(c, items, 2) {
			return
		}

		byURL := make(map[string]*ingest.IngestItem)
		for _, item := range items {
			byURL[item.URL] = item
		}
		if yt, ok := byURL["https://www.youtube.com/watch?v=abc123"]; assert.True(c, ok) {
			assert.Equal(c, media.TRACK, yt.Classification.Kind)
			assert.Equal(c, storage.LOCAL, yt.Options.Destination)
		}
		if sc, ok := byURL["https://soundcloud.com/alice/sets/mix"]; assert.True(c, ok) {
			assert.Equal(c, media.PLAYLIST, sc.Classification.Kind)
			assert.Equal(c, storage.S3, sc.Options.Destination)
			assert.True(c, sc.Options.Fresh)
		}
	}, 3*time.Second, 100*time.Millisecond)

	assert.FileExists(t, dropFile+".submitted")
	assert.FileExists(t, manifest+".submitted")
	assert.NoFileExists(t, dropFile)
}
