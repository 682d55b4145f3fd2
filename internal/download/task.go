package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/hbomb79/Tempo/internal/media"
	"github.com/hbomb79/Tempo/internal/process"
	"github.com/hbomb79/Tempo/internal/storage"
	"github.com/hbomb79/Tempo/pkg/logger"
)

const (
	toolName       = "yt-dlp"
	maxStderrBytes = 64 * 1024
)

var (
	ErrEmptyOutput      = errors.New("download produced no output")
	ErrDownloadPanicked = errors.New("download panicked")
)

// download runs the existence check, and (if required) downloads the track
// and stores it at the key.
func (run *batchRun) download(ctx context.Context, j job, key storage.Key) *Result {
	exists, err := run.backend.Exists(ctx, key)
	if err != nil {
		return failed(j, key, fmt.Errorf("existence check failed: %w", err))
	}

	location := run.backend.Location(key)
	if exists {
		log.Emit(logger.DEBUG, "Skipping %s, artifact already exists at %s\n", j.track, location)
		j.track.StorageKey = ptr(string(key))
		j.track.StorageURL = ptr(location)
		return &Result{Index: j.index, Track: j.track, Key: key, Outcome: ALREADY_EXISTS, Location: location}
	}

	sourceURL, err := run.coordinator.resolveSource(ctx, j.track)
	if err != nil {
		return failed(j, key, err)
	}

	log.Emit(logger.NEW, "Downloading %s from %s to %s\n", j.track, sourceURL, key)
	if sink, ok := run.backend.(storage.FileSink); ok && !run.backend.Destination().IsRemote() {
		location, err = run.coordinator.fetch(ctx, sourceURL, run.codec, sink, key)
	} else {
		location, err = run.coordinator.stream(ctx, sourceURL, run.codec, func(r io.Reader) (string, error) {
			return run.backend.Put(ctx, key, r)
		})
	}
	if err != nil {
		return failed(j, key, err)
	}

	outcome := UPLOADED
	if !run.backend.Destination().IsRemote() {
		outcome = DOWNLOADED
		if err := run.coordinator.postProcess(j.track, run.codec, location); err != nil {
			if delErr := run.backend.Delete(ctx, key); delErr != nil {
				log.Emit(logger.WARNING, "Failed to remove rejected artifact %s: %v\n", key, delErr)
			}
			return failed(j, key, err)
		}
	}

	j.track.StorageKey = ptr(string(key))
	j.track.StorageURL = ptr(location)
	log.Emit(logger.SUCCESS, "Stored %s at %s\n", j.track, location)
	return &Result{Index: j.index, Track: j.track, Key: key, Outcome: outcome, Location: location}
}

// toolArgs returns the download tool's arguments. The output is either a
// filename template, or '-' to write the audio to stdout.
func toolArgs(codec string, output string, sourceURL string) []string {
	return []string{
		"--format", "bestaudio/best",
		"--extract-audio",
		"--audio-format", codec,
		"--audio-quality", "0",
		"--no-progress",
		"--quiet",
		"-o", output,
		sourceURL,
	}
}

// fetch runs the download tool with its output written beside the key, so
// that the tool can convert the audio to the codec before the artifact is
// moved in to place.
func (c *Coordinator) fetch(ctx context.Context, sourceURL string, codec string, sink storage.FileSink, key storage.Key) (string, error) {
	stem, err := sink.Reserve(key)
	if err != nil {
		return "", err
	}

	cmd := process.Command(ctx, c.toolPath, toolArgs(codec, stem+".%(ext)s", sourceURL)...)
	stderr := &process.LimitedBuffer{Max: maxStderrBytes}
	cmd.Stderr = stderr
	if err := process.WrapWaitError(ctx, toolName, cmd.Run(), stderr.String()); err != nil {
		sink.Discard(stem)
		return "", &ToolError{Tool: toolName, Err: err, Stderr: stderr.String()}
	}

	location, err := sink.Commit(key, stem)
	if err != nil {
		sink.Discard(stem)
		if errors.Is(err, storage.ErrNoArtifact) {
			return "", &ToolError{Tool: toolName, Err: fmt.Errorf("%w: %v", ErrEmptyOutput, err), Stderr: stderr.String()}
		}
		return "", err
	}

	return location, nil
}

// stream runs the download tool, passing its stdout to the sink as it is
// produced. The tool's exit status is folded in to the stream: the sink
// observes a read error (rather than EOF) if the tool fails, so a failed
// download never produces an artifact.
func (c *Coordinator) stream(ctx context.Context, sourceURL string, codec string, sink func(io.Reader) (string, error)) (string, error) {
	cmd := process.Command(ctx, c.toolPath, toolArgs(codec, "-", sourceURL)...)
	stderr := &process.LimitedBuffer{Max: maxStderrBytes}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", &ToolError{Tool: toolName, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return "", &ToolError{Tool: toolName, Err: err}
	}

	reader := &toolReader{ctx: ctx, cmd: cmd, stdout: stdout, stderr: stderr}
	location, sinkErr := sink(reader)
	consumed := reader.waited
	waitErr := reader.finish()

	// A tool failure observed by the sink is reported as the tool error,
	// as it carries the tool's stderr.
	if consumed && waitErr != nil {
		return "", waitErr
	}
	if sinkErr != nil {
		return "", sinkErr
	}
	if waitErr != nil {
		return "", waitErr
	}

	return location, nil
}

// toolReader reads the stdout of a running tool. When stdout is exhausted the
// process is reaped; a failed exit is reported in place of io.EOF.
type toolReader struct {
	ctx    context.Context
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *process.LimitedBuffer

	read    int64
	waited  bool
	waitErr error
}

func (r *toolReader) Read(p []byte) (int, error) {
	if r.waited {
		if r.waitErr != nil {
			return 0, r.waitErr
		}
		return 0, io.EOF
	}

	n, err := r.stdout.Read(p)
	r.read += int64(n)
	if errors.Is(err, io.EOF) {
		if waitErr := r.wait(); waitErr != nil {
			return n, waitErr
		}
		if r.read == 0 {
			r.waitErr = &ToolError{Tool: toolName, Err: ErrEmptyOutput, Stderr: r.stderr.String()}
			return n, r.waitErr
		}
	}

	return n, err
}

// finish ensures the process has been reaped. If the sink stopped reading
// early the tool is killed, and its remaining output discarded.
func (r *toolReader) finish() error {
	if !r.waited {
		_ = process.Kill(r.cmd)
		_, _ = io.Copy(io.Discard, r.stdout)
		if err := r.wait(); err != nil {
			return err
		}
		return &ToolError{Tool: toolName, Err: errors.New("output was not fully consumed"), Stderr: r.stderr.String()}
	}

	return r.waitErr
}

func (r *toolReader) wait() error {
	if r.waited {
		return r.waitErr
	}

	r.waited = true
	if err := process.WrapWaitError(r.ctx, toolName, r.cmd.Wait(), r.stderr.String()); err != nil {
		r.waitErr = &ToolError{Tool: toolName, Err: err, Stderr: r.stderr.String()}
	}

	return r.waitErr
}

func (c *Coordinator) postProcess(track *media.Track, codec string, path string) error {
	if c.config.VerifyLocal {
		if err := c.verify(path); err != nil {
			return err
		}
	}
	if c.config.TagLocal && codec == "mp3" {
		if err := tagMP3(path, track); err != nil {
			log.Emit(logger.WARNING, "Failed to tag %s: %v\n", path, err)
		}
	}

	return nil
}
