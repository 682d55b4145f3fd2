package download

import (
	"encoding/json"
	"fmt"

	"github.com/hbomb79/Tempo/internal/media"
	"github.com/hbomb79/Tempo/internal/storage"
)

type (
	Outcome int

	// Result is the outcome of processing a single track. Location is the
	// public URL (UPLOADED), local path (DOWNLOADED) or existing location
	// (ALREADY_EXISTS) of the artifact. Err is set only for FAILED results.
	Result struct {
		Index    int          `json:"index"`
		Track    *media.Track `json:"-"`
		Key      storage.Key  `json:"key"`
		Outcome  Outcome      `json:"outcome"`
		Location string       `json:"location,omitempty"`
		Err      error        `json:"-"`
	}

	// Batch holds the results of a batch in completion order.
	Batch struct {
		Results []*Result
	}

	// ToolError carries the output of an external tool which failed while
	// processing a track.
	ToolError struct {
		Tool   string
		Stderr string
		Err    error
	}
)

const (
	UPLOADED Outcome = iota
	DOWNLOADED
	ALREADY_EXISTS
	FAILED
)

func (o Outcome) String() string {
	switch o {
	case UPLOADED:
		return "UPLOADED"
	case DOWNLOADED:
		return "DOWNLOADED"
	case ALREADY_EXISTS:
		return "ALREADY_EXISTS"
	case FAILED:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", int(o))
	}
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (e *ToolError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	}

	return fmt.Sprintf("%s failed: %v: %s", e.Tool, e.Err, e.Stderr)
}

func (e *ToolError) Unwrap() error { return e.Err }

func (r *Result) String() string {
	if r.Outcome == FAILED {
		return fmt.Sprintf("Result{track=%s outcome=%s err=%v}", r.Track, r.Outcome, r.Err)
	}

	return fmt.Sprintf("Result{track=%s outcome=%s location=%s}", r.Track, r.Outcome, r.Location)
}

// Reason returns the failure reason, including any tool output.
func (r *Result) Reason() string {
	if r.Err == nil {
		return ""
	}

	return r.Err.Error()
}

func (r *Result) MarshalJSON() ([]byte, error) {
	type alias Result
	return json.Marshal(struct {
		*alias
		TrackID    string `json:"track_external_id"`
		TrackTitle string `json:"track_title"`
		Reason     string `json:"reason,omitempty"`
	}{(*alias)(r), r.Track.ExternalID, r.Track.Title, r.Reason()})
}

// Succeeded is true if at least one track in the batch did not fail.
func (b *Batch) Succeeded() bool {
	for _, r := range b.Results {
		if r.Outcome != FAILED {
			return true
		}
	}

	return false
}

// Count returns the number of results with the outcome provided.
func (b *Batch) Count(outcome Outcome) int {
	n := 0
	for _, r := range b.Results {
		if r.Outcome == outcome {
			n++
		}
	}

	return n
}

// Failures returns the failed results of the batch.
func (b *Batch) Failures() []*Result {
	output := make([]*Result, 0)
	for _, r := range b.Results {
		if r.Outcome == FAILED {
			output = append(output, r)
		}
	}

	return output
}
