package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hbomb79/Tempo/pkg/logger"
	"github.com/labstack/gommon/random"
	"github.com/mitchellh/go-homedir"
)

const partialSuffix = ".part-"

var _ FileSink = (*Local)(nil)

type (
	LocalConfig struct {
		Root string `yaml:"root" env:"STORAGE_LOCAL_ROOT" env-default:"~/tempo/media"`
	}

	// Local stores artifacts on the filesystem beneath a root directory.
	// Artifacts are written to a temporary sibling file and renamed in to
	// place once complete, so a key never refers to a partial file. Local
	// is a FileSink, so a tool may write that sibling file itself.
	Local struct {
		root       string
		unusableBy error
	}
)

func NewLocal(config LocalConfig) *Local {
	root, err := homedir.Expand(config.Root)
	if err == nil && root == "" {
		err = errors.New("no root directory configured")
	}
	if err == nil {
		root, err = filepath.Abs(root)
	}
	if err == nil {
		err = os.MkdirAll(root, os.ModePerm)
	}
	if err != nil {
		log.Emit(logger.WARNING, "Local storage is unusable: %v\n", err)
		return &Local{unusableBy: fmt.Errorf("%w: local: %v", ErrBackendUnusable, err)}
	}

	return &Local{root: root}
}

func (l *Local) Destination() Destination { return LOCAL }

func (l *Local) Usable() error { return l.unusableBy }

// Path returns the absolute path on disk for the key.
func (l *Local) Path(key Key) string {
	return filepath.Join(l.root, filepath.FromSlash(filepath.Clean("/"+string(key))))
}

func (l *Local) Location(key Key) string { return l.Path(key) }

func (l *Local) Exists(_ context.Context, key Key) (bool, error) {
	_, err := os.Stat(l.Path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	return false, err
}

func (l *Local) Put(ctx context.Context, key Key, r io.Reader) (string, error) {
	target := l.Path(key)
	if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	partial := target + partialSuffix + random.String(8)
	file, err := os.Create(partial)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", partial, err)
	}

	written, copyErr := io.Copy(file, r)
	closeErr := file.Close()
	if err := errors.Join(copyErr, closeErr, ctx.Err()); err != nil {
		_ = os.Remove(partial)
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}

	if err := os.Rename(partial, target); err != nil {
		_ = os.Remove(partial)
		return "", fmt.Errorf("failed to move %s in to place: %w", key, err)
	}

	log.Emit(logger.DEBUG, "Stored %d bytes at %s\n", written, target)
	return target, nil
}

func (l *Local) Reserve(key Key) (string, error) {
	target := l.Path(key)
	if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	return strings.TrimSuffix(target, filepath.Ext(target)) + partialSuffix + random.String(8), nil
}

func (l *Local) Commit(key Key, stem string) (string, error) {
	target := l.Path(key)
	written, err := partials(stem)
	if err != nil {
		return "", err
	}

	// Prefer the file carrying the key's extension, as the tool may leave
	// its intermediate download alongside the converted audio.
	var source string
	expected := stem + filepath.Ext(target)
	for _, path := range written {
		if path == expected {
			source = path
		}
	}
	if source == "" && len(written) == 1 {
		source = written[0]
	}
	if source == "" {
		return "", fmt.Errorf("%w for %s: found %d candidate files", ErrNoArtifact, key, len(written))
	}

	if info, err := os.Stat(source); err != nil {
		return "", err
	} else if info.Size() == 0 {
		return "", fmt.Errorf("%w for %s: %s is empty", ErrNoArtifact, key, filepath.Base(source))
	}

	if err := os.Rename(source, target); err != nil {
		return "", fmt.Errorf("failed to move %s in to place: %w", key, err)
	}
	l.Discard(stem)

	log.Emit(logger.DEBUG, "Committed %s to %s\n", filepath.Base(source), target)
	return target, nil
}

func (l *Local) Discard(stem string) {
	written, err := partials(stem)
	if err != nil {
		log.Emit(logger.WARNING, "Failed to list partial files for %s: %v\n", stem, err)
		return
	}

	for _, path := range written {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Emit(logger.WARNING, "Failed to remove partial file %s: %v\n", path, err)
		}
	}
}

// partials returns the paths of the files written beneath the stem.
func partials(stem string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Dir(stem))
	if err != nil {
		return nil, err
	}

	prefix := filepath.Base(stem) + "."
	output := make([]string, 0, 1)
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			output = append(output, filepath.Join(filepath.Dir(stem), entry.Name()))
		}
	}

	return output, nil
}

func (l *Local) Delete(_ context.Context, key Key) error {
	if err := os.Remove(l.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

func (l *Local) DeletePrefix(_ context.Context, prefix Key) error {
	target := l.Path(prefix)
	if target == l.root {
		return fmt.Errorf("refusing to delete storage root %s", l.root)
	}

	return os.RemoveAll(target)
}
