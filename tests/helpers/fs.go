package helpers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TempDirWithFiles creates a temporary directory containing the files provided,
// keyed by their name relative to the directory. The directory, and the absolute
// paths of the files created, are returned.
func TempDirWithFiles(t *testing.T, files map[string]string) (string, []string) {
	dirPath := t.TempDir()
	filePaths := make([]string, 0, len(files))
	for name, content := range files {
		path := filepath.Join(dirPath, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755), "failed to create parent of temporary file")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644), "failed to create temporary file in temporary dir")
		filePaths = append(filePaths, path)
	}

	require.Len(t, filePaths, len(files), "Expected file paths recorded to match length of requested files")
	return dirPath, filePaths
}
