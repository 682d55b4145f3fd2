package download

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/hbomb79/Tempo/internal/extract"
	"github.com/hbomb79/Tempo/internal/media"
	"github.com/hbomb79/Tempo/pkg/logger"
)

var ErrNoMatch = errors.New("no acceptable source found")

type candidate struct {
	url        string
	title      string
	similarity float64
}

// resolveSource returns the URL the download tool should fetch for the track.
// Spotify media cannot be downloaded directly, so a matching source is
// searched for using the track's artist and title.
func (c *Coordinator) resolveSource(ctx context.Context, track *media.Track) (string, error) {
	if track.Platform != media.Spotify {
		return track.SourceURL, nil
	}
	if c.searcher == nil {
		return "", fmt.Errorf("%w: no searcher configured for %s", ErrNoMatch, track.Platform)
	}

	query := strings.TrimSpace(fmt.Sprintf("%s - %s", track.Uploader, track.Title))
	results, err := c.searcher.Search(ctx, query, c.config.SearchResults)
	if err != nil {
		return "", &ToolError{Tool: toolName, Err: fmt.Errorf("search for %q failed: %w", query, err)}
	}

	best, ok := bestMatch(query, results, c.config.MatchThreshold)
	if !ok {
		return "", fmt.Errorf("%w for %q among %d results", ErrNoMatch, query, len(results))
	}

	log.Emit(logger.DEBUG, "Resolved %s to %s (%q, similarity %.2f)\n", track, best.url, best.title, best.similarity)
	return best.url, nil
}

// bestMatch scores each search result by the similarity of its title to the
// query, returning the highest scoring result at or above the threshold.
func bestMatch(query string, results []extract.RawMetadata, threshold float64) (candidate, bool) {
	metric := metrics.NewJaroWinkler()
	metric.CaseSensitive = false

	candidates := make([]candidate, 0, len(results))
	for _, r := range results {
		title, _ := r["title"].(string)
		url := resultURL(r)
		if title == "" || url == "" {
			continue
		}

		candidates = append(candidates, candidate{url: url, title: title, similarity: strutil.Similarity(query, title, metric)})
	}
	if len(candidates) == 0 {
		return candidate{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].similarity > candidates[j].similarity })
	if candidates[0].similarity < threshold {
		return candidates[0], false
	}

	return candidates[0], true
}

func resultURL(r extract.RawMetadata) string {
	for _, key := range []string{"webpage_url", "url"} {
		if s, ok := r[key].(string); ok && strings.HasPrefix(s, "http") {
			return s
		}
	}
	if id, ok := r["id"].(string); ok && id != "" {
		return "https://www.youtube.com/watch?v=" + id
	}

	return ""
}
