package storage

import (
	"fmt"
	"path"
	"strings"
	"unicode"

	"github.com/hbomb79/Tempo/internal/media"
)

const unknownSegment = "unknown"

// Key is a slash separated storage key, identical for every backend. The
// local backend maps it beneath its root directory, whereas object storage
// uses it verbatim as the object key.
type Key string

func (k Key) String() string { return string(k) }

// WithExtension appends the codec extension to the key.
func (k Key) WithExtension(ext string) Key {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return k
	}

	return Key(string(k) + "." + ext)
}

// Dir returns the key of the container (playlist or uploader) holding this key.
func (k Key) Dir() Key { return Key(path.Dir(string(k))) }

// ResolvePath derives the storage key for a track. Members of a playlist
// are nested beneath the playlist's directory:
//
//	<platform>/<uploader>/<id>
//	<platform>/<owner>/<playlist>/<id>
//
// The output depends only on the arguments, so re-extracting the same
// media always yields the same key. Owner and container names are slugged,
// the id is escaped so distinct ids never share a key.
func ResolvePath(platform media.Platform, kind media.Kind, owner string, container string, id string) Key {
	segments := []string{string(platform), Slug(owner)}
	if kind == media.PLAYLIST && strings.TrimSpace(container) != "" {
		segments = append(segments, Slug(container))
	}
	segments = append(segments, EscapeID(id))

	return Key(strings.Join(segments, "/"))
}

// TrackKey resolves the key for a canonical track, optionally as a member of
// the playlist provided. The track's external id forms the leaf segment.
func TrackKey(track *media.Track, playlist *media.Playlist, codec string) Key {
	if playlist != nil {
		return ResolvePath(track.Platform, media.PLAYLIST, playlist.Uploader, playlist.Title, track.ExternalID).WithExtension(codec)
	}

	return ResolvePath(track.Platform, media.TRACK, track.Uploader, "", track.ExternalID).WithExtension(codec)
}

// PlaylistKey resolves the key of the directory holding a playlist's members.
func PlaylistKey(playlist *media.Playlist) Key {
	return Key(strings.Join([]string{string(playlist.Platform), Slug(playlist.Uploader), Slug(playlist.Title)}, "/"))
}

// Slug converts a free-form name in to a single path segment. Letters and
// digits are preserved (including their case, as platform ids are case
// sensitive); runs of anything else collapse to a single '-'.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}

	out := strings.TrimRight(b.String(), "-")
	if out == "" {
		return unknownSegment
	}

	return out
}

// EscapeID converts a platform id in to a single path segment without losing
// its identity. Letters, digits, '-', '_' and '.' are kept verbatim; every
// other byte, including '%', is percent encoded. The segments "." and ".."
// are encoded in full.
func EscapeID(id string) string {
	switch id {
	case "":
		return unknownSegment
	case ".", "..":
		return strings.Repeat("%2E", len(id))
	}

	var b strings.Builder
	for _, r := range id {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		for _, c := range []byte(string(r)) {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}

	return b.String()
}
