package ingest

import (
	"time"

	"github.com/hbomb79/Tempo/internal/storage"
)

// Config contains configuration options that allow
// customization of how Tempo processes submitted URLs.
type Config struct {
	// Controls the number of workers that can perform ingestions. Each
	// ingestion fans its own downloads out, so this is best kept low.
	IngestionParallelism int `yaml:"parallelism" env:"INGEST_PARALLELISM" env-default:"1"`

	// The destination used for ingests which do not specify one.
	DefaultDestination storage.Destination `yaml:"-" env:"-"`

	// The path to a directory the service should monitor for files
	// containing URLs to ingest. Leave empty to disable.
	WatchPath string `yaml:"watch_path" env:"INGEST_WATCH_PATH"`

	// The watch directory uses a file system watcher, but a
	// 'force' sync can be performed on a regular interval
	// to protect against the watcher failing.
	ForceSyncSeconds int `yaml:"force_sync_seconds" env:"INGEST_FORCE_SYNC_SECONDS" env-default:"60"`

	// Files in the watch directory are only read once their modtime is
	// at least this far in the past, so partially written files are skipped.
	RequiredModTimeAgeSeconds int `yaml:"required_modtime_age_seconds" env:"INGEST_REQUIRED_MODTIME_AGE_SECONDS" env-default:"2"`
}

func (config *Config) RequiredModTimeAgeDuration() time.Duration {
	return time.Duration(config.RequiredModTimeAgeSeconds) * time.Second
}

func (config *Config) ForceSyncDuration() time.Duration {
	if config.ForceSyncSeconds <= 0 {
		return time.Minute
	}

	return time.Duration(config.ForceSyncSeconds) * time.Second
}
