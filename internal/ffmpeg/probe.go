package ffmpeg

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/floostack/transcoder"
	"github.com/floostack/transcoder/ffmpeg"
)

var ErrNoAudio = errors.New("file contains no audio stream")

type (
	Config struct {
		FfprobeBinaryPath string `yaml:"ffprobe_path" env:"FFPROBE_BIN_PATH" env-default:"/usr/bin/ffprobe"`
	}

	// AudioInfo is the subset of the probe output used to verify a
	// downloaded artifact.
	AudioInfo struct {
		Codec           string
		DurationSeconds float64
	}
)

func ProbeFile(config Config, path string) (transcoder.Metadata, error) {
	cfg := ffmpeg.Config{FfprobeBinPath: config.FfprobeBinaryPath}
	transcoder := ffmpeg.New(&cfg).Input(path)
	metadata, err := transcoder.GetMetadata()
	if err != nil {
		return nil, fmt.Errorf("failed to extract file metadata information using ffprobe: %s", err.Error())
	}

	return metadata, nil
}

// ProbeAudio checks that the file at the path contains a decodable audio
// stream with a positive duration.
func ProbeAudio(config Config, path string) (*AudioInfo, error) {
	metadata, err := ProbeFile(config, path)
	if err != nil {
		return nil, err
	}

	info := &AudioInfo{}
	for _, stream := range metadata.GetStreams() {
		if stream.GetCodecType() == "audio" {
			info.Codec = stream.GetCodecName()
			break
		}
	}
	if info.Codec == "" {
		return nil, fmt.Errorf("%s: %w", path, ErrNoAudio)
	}

	duration, err := strconv.ParseFloat(metadata.GetFormat().GetDuration(), 64)
	if err != nil || duration <= 0 {
		return nil, fmt.Errorf("%s: audio has no usable duration (%q)", path, metadata.GetFormat().GetDuration())
	}
	info.DurationSeconds = duration

	return info, nil
}
