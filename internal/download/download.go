package download

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/hbomb79/Tempo/internal/extract"
	"github.com/hbomb79/Tempo/internal/ffmpeg"
	"github.com/hbomb79/Tempo/internal/media"
	"github.com/hbomb79/Tempo/internal/storage"
	"github.com/hbomb79/Tempo/pkg/logger"
	tsync "github.com/hbomb79/Tempo/pkg/sync"
	"github.com/hbomb79/Tempo/pkg/worker"
)

var log = logger.Get("Download")

type (
	Config struct {
		Concurrency int    `yaml:"concurrency" env:"DOWNLOAD_CONCURRENCY" env-default:"4"`
		AudioFormat string `yaml:"audio_format" env:"DOWNLOAD_AUDIO_FORMAT" env-default:"mp3"`

		// SearchResults is the number of candidates considered when resolving
		// media that cannot be downloaded directly (Spotify).
		SearchResults  int     `yaml:"search_results" env:"DOWNLOAD_SEARCH_RESULTS" env-default:"5"`
		MatchThreshold float64 `yaml:"match_threshold" env:"DOWNLOAD_MATCH_THRESHOLD" env-default:"0.75"`

		VerifyLocal bool          `yaml:"verify_local" env:"DOWNLOAD_VERIFY_LOCAL" env-default:"false"`
		TagLocal    bool          `yaml:"tag_local" env:"DOWNLOAD_TAG_LOCAL" env-default:"true"`
		Probe       ffmpeg.Config `yaml:"probe"`
	}

	// Searcher finds candidate sources for a free-text query.
	Searcher interface {
		Search(ctx context.Context, query string, limit int) ([]extract.RawMetadata, error)
	}

	// Options apply to a single batch.
	Options struct {
		Destination storage.Destination
		// AudioFormat overrides the configured codec for this batch.
		AudioFormat string
		// Playlist, when set, places every track beneath the playlist's key.
		Playlist *media.Playlist
		// Fresh removes the playlist's existing artifacts before processing.
		Fresh bool
	}

	// Coordinator fans the download of a batch of tracks out across a bounded
	// pool of workers. Each track is checked against the storage backend
	// before any work is done, so re-processing a batch is idempotent.
	Coordinator struct {
		config   Config
		toolPath string
		searcher Searcher
		backends storage.Backends
	}

	job struct {
		index int
		track *media.Track
	}

	// inflight tracks the first job to claim a storage key within a batch,
	// so duplicates within the batch wait for it rather than racing it.
	inflight struct {
		done   chan struct{}
		result *Result
	}
)

func NewCoordinator(config Config, tool *extract.YtDlp, backends storage.Backends) *Coordinator {
	return NewCoordinatorWithSearcher(config, tool.BinaryPath(), tool, backends)
}

func NewCoordinatorWithSearcher(config Config, toolPath string, searcher Searcher, backends storage.Backends) *Coordinator {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.AudioFormat == "" {
		config.AudioFormat = "mp3"
	}
	if config.SearchResults <= 0 {
		config.SearchResults = 1
	}

	return &Coordinator{config: config, toolPath: toolPath, searcher: searcher, backends: backends}
}

// Usable returns an error if the destination cannot be used for a batch.
func (c *Coordinator) Usable(dest storage.Destination) error {
	_, err := c.backends.Get(dest)
	return err
}

// Process downloads every track in the batch and returns one result per
// track, in the order the tracks completed. An error is returned only if
// the batch could not be started at all (e.g. an unusable destination); per
// track failures are reported in the batch results. Tracks are mutated to
// record their storage key and location.
func (c *Coordinator) Process(ctx context.Context, tracks []*media.Track, opts Options) (*Batch, error) {
	backend, err := c.backends.Get(opts.Destination)
	if err != nil {
		return nil, err
	}

	codec := opts.AudioFormat
	if codec == "" {
		codec = c.config.AudioFormat
	}

	if opts.Fresh && opts.Playlist != nil {
		prefix := storage.PlaylistKey(opts.Playlist)
		log.Emit(logger.REMOVE, "Clearing existing artifacts under %s\n", prefix)
		if err := backend.DeletePrefix(ctx, prefix); err != nil {
			return nil, fmt.Errorf("failed to clear %s: %w", prefix, err)
		}
	}

	batch := &Batch{Results: make([]*Result, 0, len(tracks))}
	if len(tracks) == 0 {
		return batch, nil
	}

	run := &batchRun{
		coordinator: c,
		backend:     backend,
		codec:       codec,
		playlist:    opts.Playlist,
		results:     make(chan *Result, len(tracks)),
		queue:       make([]job, len(tracks)),
	}
	for i, t := range tracks {
		run.queue[i] = job{index: i, track: t}
	}

	size := min(c.config.Concurrency, len(tracks))
	pool := worker.NewWorkerPool()
	for i := 0; i < size; i++ {
		label := fmt.Sprintf("DownloadWorker:%d", i)
		if err := pool.PushWorker(worker.NewWorker(label, func(w worker.Worker) (bool, error) { return run.work(ctx, w) })); err != nil {
			return nil, err
		}
	}
	if err := pool.Start(); err != nil {
		return nil, err
	}
	defer pool.Close()

	for range tracks {
		result := <-run.results
		batch.Results = append(batch.Results, result)
		log.Emit(logger.VERBOSE, "Track %d/%d finished: %s\n", len(batch.Results), len(tracks), result)
	}

	return batch, nil
}

// batchRun is the state shared by the workers of a single batch.
type batchRun struct {
	coordinator *Coordinator
	backend     storage.Backend
	codec       string
	playlist    *media.Playlist

	mutex   sync.Mutex
	queue   []job
	results chan *Result
	keys    tsync.TypedSyncMap[storage.Key, *inflight]
}

// work claims the next queued track and processes it. Returns false when the
// queue is empty, putting the worker to sleep until the pool is closed.
func (run *batchRun) work(ctx context.Context, _ worker.Worker) (bool, error) {
	j, ok := run.claim()
	if !ok {
		return false, nil
	}

	if err := ctx.Err(); err != nil {
		run.results <- failed(j, "", fmt.Errorf("not started: %w", err))
		return true, nil
	}

	run.results <- run.process(ctx, j)
	return true, nil
}

func (run *batchRun) claim() (job, bool) {
	run.mutex.Lock()
	defer run.mutex.Unlock()

	if len(run.queue) == 0 {
		return job{}, false
	}

	j := run.queue[0]
	run.queue = run.queue[1:]
	return j, true
}

// process handles one track, deferring to an earlier job in the same batch
// that resolved to the same key.
func (run *batchRun) process(ctx context.Context, j job) *Result {
	key := storage.TrackKey(j.track, run.playlist, run.codec)
	claim := &inflight{done: make(chan struct{})}
	if existing, loaded := run.keys.LoadOrStore(key, claim); loaded {
		select {
		case <-existing.done:
		case <-ctx.Done():
			return failed(j, key, fmt.Errorf("interrupted waiting for duplicate: %w", ctx.Err()))
		}

		return duplicateOf(j, key, existing.result)
	}

	result := run.guardedDownload(ctx, j, key)
	claim.result = result
	close(claim.done)

	return result
}

// guardedDownload downloads the track, reporting a panic as a failed result
// so the rest of the batch is unaffected.
func (run *batchRun) guardedDownload(ctx context.Context, j job, key storage.Key) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Emit(logger.ERROR, "Download of %s panicked: %v\n%s\n", j.track, r, debug.Stack())
			result = failed(j, key, fmt.Errorf("%w: %v", ErrDownloadPanicked, r))
		}
	}()

	return run.download(ctx, j, key)
}

func duplicateOf(j job, key storage.Key, original *Result) *Result {
	if original.Outcome == FAILED {
		return failed(j, key, original.Err)
	}

	location := original.Location
	j.track.StorageKey = ptr(string(key))
	j.track.StorageURL = ptr(location)
	return &Result{Index: j.index, Track: j.track, Key: key, Outcome: ALREADY_EXISTS, Location: location}
}

func failed(j job, key storage.Key, err error) *Result {
	return &Result{Index: j.index, Track: j.track, Key: key, Outcome: FAILED, Err: err}
}

func ptr[T any](v T) *T { return &v }

// IsToolError returns true if the error originated from an external tool.
func IsToolError(err error) bool {
	var toolErr *ToolError
	return errors.As(err, &toolErr)
}
