package source

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hbomb79/Tempo/internal/media"
)

var ErrUnsupportedURL = errors.New("unsupported url")

type (
	// Classification is the result of matching a URL against the
	// known platform URL shapes.
	Classification struct {
		Platform media.Platform `json:"platform"`
		Kind     media.Kind     `json:"kind"`
		URL      string         `json:"url"`
	}

	rule struct {
		platform media.Platform
		hosts    []string
		match    func(u *url.URL, segments []string) (media.Kind, bool)
	}
)

// rules are checked in order, and the first match wins. The
// patterns are disjoint by host, so ordering only matters for readability.
var rules = []rule{
	{
		platform: media.Spotify,
		hosts:    []string{"open.spotify.com", "play.spotify.com"},
		match:    matchSpotify,
	},
	{
		platform: media.SoundCloud,
		hosts:    []string{"soundcloud.com", "www.soundcloud.com", "m.soundcloud.com"},
		match:    matchSoundCloud,
	},
	{
		platform: media.YouTube,
		hosts:    []string{"youtube.com", "www.youtube.com", "m.youtube.com", "music.youtube.com"},
		match:    matchYouTube,
	},
	{
		platform: media.YouTube,
		hosts:    []string{"youtu.be"},
		match:    matchYouTubeShort,
	},
}

// Classify matches the URL provided to the platform it belongs to, and
// whether it refers to a track or a playlist. URLs which match none
// of the known shapes return an error wrapping ErrUnsupportedURL; callers
// should treat this as a fatal input error.
func Classify(rawURL string) (Classification, error) {
	trimmed := strings.TrimSpace(rawURL)
	if strings.HasPrefix(trimmed, "spotify:") {
		return classifySpotifyURI(trimmed)
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return Classification{}, fmt.Errorf("%w: %q", ErrUnsupportedURL, rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Classification{}, fmt.Errorf("%w: %q has scheme %q", ErrUnsupportedURL, rawURL, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	segments := pathSegments(u.Path)
	for _, r := range rules {
		if !contains(r.hosts, host) {
			continue
		}

		if kind, ok := r.match(u, segments); ok {
			return Classification{Platform: r.platform, Kind: kind, URL: trimmed}, nil
		}
	}

	return Classification{}, fmt.Errorf("%w: %q", ErrUnsupportedURL, rawURL)
}

func matchSpotify(_ *url.URL, segments []string) (media.Kind, bool) {
	// Localised links carry a leading 'intl-xx' segment
	if len(segments) > 0 && strings.HasPrefix(segments[0], "intl-") {
		segments = segments[1:]
	}
	if len(segments) != 2 || segments[1] == "" {
		return 0, false
	}

	switch segments[0] {
	case "track":
		return media.TRACK, true
	case "album", "playlist":
		return media.PLAYLIST, true
	}

	return 0, false
}

func classifySpotifyURI(uri string) (Classification, error) {
	parts := strings.Split(uri, ":")
	if len(parts) == 3 && parts[2] != "" {
		switch parts[1] {
		case "track":
			return Classification{Platform: media.Spotify, Kind: media.TRACK, URL: uri}, nil
		case "album", "playlist":
			return Classification{Platform: media.Spotify, Kind: media.PLAYLIST, URL: uri}, nil
		}
	}

	return Classification{}, fmt.Errorf("%w: %q", ErrUnsupportedURL, uri)
}

// soundcloudReserved are first path segments which are site
// pages rather than user profiles.
var soundcloudReserved = []string{"discover", "search", "you", "stream", "upload", "charts", "pages", "terms-of-use", "settings"}

func matchSoundCloud(_ *url.URL, segments []string) (media.Kind, bool) {
	if len(segments) < 2 || contains(soundcloudReserved, segments[0]) {
		return 0, false
	}

	if segments[1] == "sets" {
		if len(segments) == 3 {
			return media.PLAYLIST, true
		}
		return 0, false
	}

	if len(segments) == 2 {
		return media.TRACK, true
	}

	return 0, false
}

func matchYouTube(u *url.URL, segments []string) (media.Kind, bool) {
	if len(segments) != 1 {
		return 0, false
	}

	q := u.Query()
	switch segments[0] {
	case "watch":
		if q.Get("v") != "" {
			return media.TRACK, true
		}
	case "playlist":
		if q.Get("list") != "" {
			return media.PLAYLIST, true
		}
	}

	return 0, false
}

func matchYouTubeShort(_ *url.URL, segments []string) (media.Kind, bool) {
	return media.TRACK, len(segments) == 1
}

func pathSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return []string{}
	}

	return strings.Split(trimmed, "/")
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}

	return false
}
