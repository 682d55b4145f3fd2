package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hbomb79/Tempo/internal/storage"
	"github.com/hbomb79/Tempo/pkg/logger"
	"github.com/rjeczalik/notify"
	"gopkg.in/yaml.v3"
)

const submittedSuffix = ".submitted"

// manifest is the YAML form of a drop file, allowing the options
// for the URLs inside to be specified.
type manifest struct {
	URLs        []string `yaml:"urls"`
	Destination string   `yaml:"destination"`
	AudioFormat string   `yaml:"audio_format"`
	Fresh       bool     `yaml:"fresh"`
}

// watch listens to the OS file system for changes to the watch
// directory, as well as regularly polling it irrespective of the
// watcher. Returns once the context is cancelled.
func (service *ingestService) watch(ctx context.Context) error {
	fsNotifyChannel := make(chan notify.EventInfo, 16)
	if err := notify.Watch(service.config.WatchPath, fsNotifyChannel, notify.Create, notify.Write, notify.Rename); err != nil {
		log.Emit(logger.WARNING, "Unable to watch %s (%v), falling back to polling only\n", service.config.WatchPath, err)
	} else {
		defer notify.Stop(fsNotifyChannel)
	}

	forceSync := time.NewTicker(service.config.ForceSyncDuration())
	defer forceSync.Stop()

	service.DiscoverNewFiles()
	for {
		select {
		case <-fsNotifyChannel:
			service.DiscoverNewFiles()
		case <-forceSync.C:
			service.DiscoverNewFiles()
		case <-ctx.Done():
			return nil
		}
	}
}

// DiscoverNewFiles scans the watch directory for drop files (.txt files
// with one URL per line, or .yaml manifests). Each URL found is submitted,
// and the file is renamed so it is not read again. Files modified too
// recently are left for a later scan, as they may still be being written.
func (service *ingestService) DiscoverNewFiles() {
	if service.config.WatchPath == "" {
		return
	}

	files, err := walkDropFiles(service.config.WatchPath)
	if err != nil {
		log.Emit(logger.ERROR, "file system polling failed: %v\n", err)
		return
	}

	minModtimeAge := service.config.RequiredModTimeAgeDuration()
	for path, info := range files {
		if age := time.Since(info.ModTime()); age < minModtimeAge {
			log.Emit(logger.VERBOSE, "Holding drop file %s for %s\n", path, minModtimeAge-age)
			continue
		}

		service.submitDropFile(path)
	}
}

func (service *ingestService) submitDropFile(path string) {
	m, err := readDropFile(path)
	if err != nil {
		log.Emit(logger.ERROR, "Failed to read drop file %s: %v\n", path, err)
		return
	}

	opts := Options{AudioFormat: m.AudioFormat, Fresh: m.Fresh}
	if m.Destination != "" {
		if opts.Destination, err = storage.ParseDestination(m.Destination); err != nil {
			log.Emit(logger.ERROR, "Drop file %s is invalid: %v\n", path, err)
			service.markSubmitted(path)
			return
		}
	}

	submitted := 0
	for _, url := range m.URLs {
		if _, err := service.Submit(url, opts); err != nil {
			log.Emit(logger.WARNING, "Rejected %s from drop file %s: %v\n", url, path, err)
			continue
		}
		submitted++
	}

	log.Emit(logger.INFO, "Submitted %d of %d URL(s) from drop file %s\n", submitted, len(m.URLs), path)
	service.markSubmitted(path)
}

func (service *ingestService) markSubmitted(path string) {
	if err := os.Rename(path, path+submittedSuffix); err != nil {
		log.Emit(logger.ERROR, "Failed to mark drop file %s as submitted: %v\n", path, err)
	}
}

// walkDropFiles will walk the file system, starting at the directory provided,
// and construct a map of all the drop files inside (including any inside of
// nested directories). The key of the returned map is the path, and the value
// contains the FileInfo
func walkDropFiles(rootDirPath string) (map[string]fs.FileInfo, error) {
	foundItems := make(map[string]fs.FileInfo)
	err := filepath.WalkDir(rootDirPath, func(path string, dir fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if dir.IsDir() || !isDropFile(path) {
			return nil
		}

		fileInfo, err := dir.Info()
		if err != nil {
			return err
		}

		foundItems[path] = fileInfo
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk file system: %w", err)
	}

	return foundItems, nil
}

func isDropFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".yaml", ".yml":
		return true
	}

	return false
}

// readDropFile parses a drop file. Plain text files contain one URL per
// line, blank lines and lines starting with '#' are ignored.
func readDropFile(path string) (*manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m := &manifest{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(f).Decode(m); err != nil {
			return nil, fmt.Errorf("invalid manifest: %w", err)
		}
	default:
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			m.URLs = append(m.URLs, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	return m, nil
}
