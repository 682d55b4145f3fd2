package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hbomb79/Tempo/pkg/logger"
)

var (
	log = logger.Get("Storage")

	ErrBackendUnusable = errors.New("storage backend is not usable")
	ErrNoArtifact      = errors.New("no artifact was written")
)

type (
	// Destination names a storage backend.
	Destination string

	// Backend is a place artifacts can be stored. Implementations must be
	// safe for concurrent use.
	Backend interface {
		Destination() Destination

		// Usable returns an error wrapping ErrBackendUnusable if the backend
		// was constructed without the configuration it requires.
		Usable() error

		Exists(ctx context.Context, key Key) (bool, error)

		// Put stores the content of the reader at the key, returning the
		// location of the stored artifact. If the reader returns an error
		// no artifact is left at the key.
		Put(ctx context.Context, key Key, r io.Reader) (string, error)

		Delete(ctx context.Context, key Key) error

		// DeletePrefix removes every artifact beneath the key provided.
		DeletePrefix(ctx context.Context, prefix Key) error

		// Location returns where the artifact for the key is (or would be)
		// found: a public URL for object storage, a path for local storage.
		Location(key Key) string
	}

	// FileSink is implemented by backends which keep artifacts on this host.
	// A tool writes the artifact itself beside the key's final path, and the
	// result is moved in to place once the tool has finished.
	FileSink interface {
		Backend

		// Reserve returns a unique output stem for the key. The tool writes
		// '<stem>.<ext>', where ext is chosen by the tool.
		Reserve(key Key) (string, error)

		// Commit moves the file written beneath the stem to the key and
		// returns its location. ErrNoArtifact is returned if the tool wrote
		// nothing, or an empty file.
		Commit(key Key, stem string) (string, error)

		// Discard removes anything written beneath the stem.
		Discard(stem string)
	}

	Config struct {
		Default Destination `yaml:"default" env:"STORAGE_DEFAULT" env-default:"local"`
		Local   LocalConfig `yaml:"local"`
		S3      S3Config    `yaml:"s3"`
	}

	// Backends is the table of configured backends, keyed by destination.
	Backends map[Destination]Backend
)

const (
	LOCAL Destination = "local"
	S3    Destination = "s3"
)

func ParseDestination(s string) (Destination, error) {
	switch Destination(s) {
	case LOCAL, S3:
		return Destination(s), nil
	}

	return "", fmt.Errorf("storage destination %q is not recognized", s)
}

// IsRemote returns true for destinations which upload artifacts, rather than
// keeping them on this host.
func (d Destination) IsRemote() bool { return d == S3 }

// NewBackends constructs every backend. Backends which lack configuration are
// still constructed, but report themselves unusable.
func NewBackends(ctx context.Context, config Config) Backends {
	return Backends{
		LOCAL: NewLocal(config.Local),
		S3:    NewS3(ctx, config.S3),
	}
}

// Get returns the usable backend for the destination.
func (b Backends) Get(dest Destination) (Backend, error) {
	backend, ok := b[dest]
	if !ok || backend == nil {
		return nil, fmt.Errorf("%w: no backend for destination %q", ErrBackendUnusable, dest)
	}
	if err := backend.Usable(); err != nil {
		return nil, err
	}

	return backend, nil
}
