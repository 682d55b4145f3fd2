package download

import (
	"fmt"
	"strconv"

	"github.com/bogem/id3v2/v2"
	"github.com/hbomb79/Tempo/internal/ffmpeg"
	"github.com/hbomb79/Tempo/internal/media"
)

func (c *Coordinator) verify(path string) error {
	info, err := ffmpeg.ProbeAudio(c.config.Probe, path)
	if err != nil {
		return &ToolError{Tool: "ffprobe", Err: err}
	}

	log.Verbosef("Verified %s: codec=%s duration=%.1fs\n", path, info.Codec, info.DurationSeconds)
	return nil
}

// tagMP3 writes the canonical track metadata to the ID3 tag of the file.
func tagMP3(path string, track *media.Track) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		tag, err = id3v2.Open(path, id3v2.Options{Parse: false})
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetTitle(track.Title)
	tag.SetArtist(track.Uploader)
	if track.Genre != "" {
		tag.SetGenre(track.Genre)
	}
	if track.Timestamp != nil {
		tag.SetYear(strconv.Itoa(track.Timestamp.Year()))
	}
	if track.SourceURL != "" {
		tag.AddTextFrame(tag.CommonID("WOAS"), id3v2.EncodingUTF8, track.SourceURL)
	}

	return tag.Save()
}
