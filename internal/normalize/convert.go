package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// converter transforms a raw upstream value in to the type expected by the
// canonical field. Returning a nil value (and no error) signals that the
// upstream value should be treated as absent.
type converter func(any) (any, error)

// lookup walks a dotted path through nested objects and arrays, e.g.
// 'artists.0.external_urls.spotify'.
func lookup(raw map[string]any, path string) (any, bool) {
	var current any = raw
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}

	return current, true
}

func isNoneString(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "null", "na", "n/a":
		return true
	}

	return false
}

func toFloat(v any) (float64, bool, error) {
	switch n := v.(type) {
	case nil:
		return 0, false, nil
	case json.Number:
		f, err := n.Float64()
		return f, err == nil, err
	case float64:
		return n, true, nil
	case float32:
		return float64(n), true, nil
	case int:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case string:
		if isNoneString(n) {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil, err
	case bool:
		return 0, false, fmt.Errorf("expected number, found boolean %v", n)
	default:
		return 0, false, fmt.Errorf("expected number, found %T", v)
	}
}

// counter converts view/like/comment/repost style counters. Explicit 'none'
// values are treated as absent so the field falls back to zero.
func counter(v any) (any, error) {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return nonNegative(i)
		}
	}

	f, ok, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	return nonNegative(int64(math.Round(f)))
}

func nonNegative(i int64) (any, error) {
	if i < 0 {
		return nil, fmt.Errorf("counter must not be negative, found %d", i)
	}

	return i, nil
}

func seconds(v any) (any, error) {
	f, ok, err := toFloat(v)
	if err != nil || !ok {
		return nil, err
	}

	return f, nil
}

func milliseconds(v any) (any, error) {
	f, ok, err := toFloat(v)
	if err != nil || !ok {
		return nil, err
	}

	return f / 1000, nil
}

// text converts scalar values to strings. Objects and arrays are rejected
// so that a structural change upstream surfaces as a normalization error.
func text(v any) (any, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		return s, nil
	case json.Number:
		return s.String(), nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(s, 10), nil
	case int:
		return strconv.Itoa(s), nil
	case bool:
		return strconv.FormatBool(s), nil
	default:
		return nil, fmt.Errorf("expected text, found %T", v)
	}
}

// epoch converts seconds since the unix epoch to a UTC instant.
func epoch(v any) (any, error) {
	f, ok, err := toFloat(v)
	if err != nil || !ok {
		return nil, err
	}

	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

// compactDate converts the YYYYMMDD dates the extraction tool emits.
func compactDate(v any) (any, error) {
	s, err := text(v)
	if err != nil || s == nil {
		return nil, err
	}

	t, err := time.ParseInLocation("20060102", s.(string), time.UTC)
	if err != nil {
		return nil, fmt.Errorf("malformed date %q: %w", s, err)
	}

	return t, nil
}

// releaseDate converts Spotify release dates, which have a precision of
// day, month or year ('2006-01-02', '2006-01' or '2006').
func releaseDate(v any) (any, error) {
	s, err := text(v)
	if err != nil || s == nil {
		return nil, err
	}

	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if t, err := time.ParseInLocation(layout, s.(string), time.UTC); err == nil {
			return t, nil
		}
	}

	return nil, fmt.Errorf("malformed release date %q", s)
}

// urlOwner extracts the first path segment of a URL, which identifies
// the owning user for platforms such as SoundCloud.
func urlOwner(v any) (any, error) {
	s, err := text(v)
	if err != nil || s == nil {
		return nil, err
	}

	u, err := url.Parse(s.(string))
	if err != nil {
		return nil, nil
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return nil, nil
	}

	return segments[0], nil
}

func prefixed(prefix string) converter {
	return func(v any) (any, error) {
		s, err := text(v)
		if err != nil || s == nil {
			return nil, err
		}

		return prefix + s.(string), nil
	}
}
