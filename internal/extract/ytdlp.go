package extract

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/hbomb79/Tempo/internal/media"
	"github.com/hbomb79/Tempo/internal/process"
	"github.com/hbomb79/Tempo/internal/source"
	"github.com/hbomb79/Tempo/pkg/logger"
)

const (
	toolName = "yt-dlp"

	// A single record can include hundreds of formats, so
	// lines are allowed to grow well beyond bufio's default.
	initialLineBuffer = 64 * 1024
	maxLineBuffer     = 64 * 1024 * 1024
	maxStderrBytes    = 64 * 1024
)

type (
	YtDlpConfig struct {
		BinaryPath string `yaml:"binary_path" env:"YTDLP_BIN_PATH" env-default:"yt-dlp"`
	}

	// YtDlp extracts metadata by running the generic extraction tool in
	// metadata-only mode and parsing the JSON record it prints per line.
	YtDlp struct {
		config YtDlpConfig
	}
)

func NewYtDlp(config YtDlpConfig) *YtDlp {
	if config.BinaryPath == "" {
		config.BinaryPath = toolName
	}

	return &YtDlp{config: config}
}

func (y *YtDlp) BinaryPath() string { return y.config.BinaryPath }

func (y *YtDlp) Usable() error {
	if _, err := exec.LookPath(y.config.BinaryPath); err != nil {
		return fmt.Errorf("%w: %s not found: %v", ErrExtractorUnavailable, y.config.BinaryPath, err)
	}

	return nil
}

// Extract runs the extraction tool against the classified URL. Records are
// parsed incrementally as the tool prints them; any output on stderr, or a
// non-zero exit status, is fatal and discards everything parsed so far.
func (y *YtDlp) Extract(ctx context.Context, classification source.Classification) (*Extraction, error) {
	args := []string{"--skip-download", "--print-json", "--no-warnings"}
	if classification.Kind == media.TRACK {
		// A watch URL carrying a list parameter must resolve to the video itself.
		args = append(args, "--no-playlist")
	}
	args = append(args, classification.URL)

	records := make([]RawMetadata, 0)
	err := y.StreamRecords(ctx, args, func(r RawMetadata) error {
		records = append(records, r)
		log.Emit(logger.VERBOSE, "Parsed record %d (%v) from %s\n", len(records), r["id"], classification.URL)
		return nil
	})
	if err != nil {
		return nil, newExtractionError(classification.URL, err)
	}
	if len(records) == 0 {
		return nil, &ExtractionError{URL: classification.URL, Err: ErrNoRecords}
	}

	if classification.Kind == media.TRACK {
		return &Extraction{Tracks: records[:1]}, nil
	}

	return &Extraction{Playlist: playlistHeader(records[0], classification.URL), Tracks: records}, nil
}

// Search asks the extraction tool for the top 'limit' results for the query
// on YouTube, without resolving each result fully.
func (y *YtDlp) Search(ctx context.Context, query string, limit int) ([]RawMetadata, error) {
	if limit <= 0 {
		limit = 1
	}

	target := fmt.Sprintf("ytsearch%d:%s", limit, query)
	results := make([]RawMetadata, 0, limit)
	err := y.StreamRecords(ctx, []string{"--flat-playlist", "--skip-download", "--print-json", "--no-warnings", target}, func(r RawMetadata) error {
		results = append(results, r)
		return nil
	})
	if err != nil {
		return nil, newExtractionError(target, err)
	}

	return results, nil
}

// StreamRecords runs the tool with the arguments provided, calling onRecord for
// every JSON object printed on stdout. The process is always reaped before
// returning, and stderr is captured concurrently so a noisy tool cannot
// block on a full pipe.
func (y *YtDlp) StreamRecords(ctx context.Context, args []string, onRecord func(RawMetadata) error) error {
	cmd := process.Command(ctx, y.config.BinaryPath, args...)
	stderr := &process.LimitedBuffer{Max: maxStderrBytes}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout of %s: %w", toolName, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", toolName, err)
	}

	scanErr := ScanJSONLines(stdout, onRecord)
	if scanErr != nil {
		_ = process.Kill(cmd)
		_, _ = io.Copy(io.Discard, stdout)
	}

	waitErr := cmd.Wait()
	if scanErr != nil {
		return scanErr
	}
	if err := process.WrapWaitError(ctx, toolName, waitErr, stderr.String()); err != nil {
		return err
	}
	if msg := stderr.String(); msg != "" {
		return &process.ExitError{Tool: toolName, ExitCode: 0, Stderr: msg}
	}

	return nil
}

// ScanJSONLines reads one JSON object per non-empty line from the reader,
// decoding numbers as json.Number so large counters survive intact.
func ScanJSONLines(r io.Reader, onRecord func(RawMetadata) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, initialLineBuffer), maxLineBuffer)

	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}

		decoder := json.NewDecoder(bytes.NewReader(text))
		decoder.UseNumber()

		var record RawMetadata
		if err := decoder.Decode(&record); err != nil {
			return fmt.Errorf("malformed JSON record on line %d: %w", line, err)
		}
		if err := onRecord(record); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read records: %w", err)
	}

	return nil
}

func newExtractionError(url string, err error) *ExtractionError {
	var exitErr *process.ExitError
	if errors.As(err, &exitErr) {
		return &ExtractionError{URL: url, Stderr: exitErr.Stderr, Err: err}
	}

	return &ExtractionError{URL: url, Err: err}
}

// playlistHeader builds the container record for a playlist from the
// playlist context the tool attaches to each member record.
func playlistHeader(first RawMetadata, requestURL string) RawMetadata {
	header := RawMetadata{"original_url": requestURL}
	for k, v := range first {
		if strings.HasPrefix(k, "playlist") {
			header[k] = v
		}
	}
	for _, k := range []string{"extractor", "extractor_key"} {
		if v, ok := first[k]; ok {
			header[k] = v
		}
	}

	return header
}
