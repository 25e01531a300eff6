package service

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joeblew999/plat-mantle/internal/data"
)

// SourceService lists local data files under <dataDir>/sources. The file
// provider of the data router is rooted there, so a layer can use a
// source's name as its data url.
type SourceService struct {
	sourcesDir string
}

// NewSourceService creates a new source service.
func NewSourceService(dataDir string) *SourceService {
	return &SourceService{
		sourcesDir: filepath.Join(dataDir, "sources"),
	}
}

// List returns every source file whose type can be guessed from its name.
func (s *SourceService) List() ([]SourceFile, error) {
	entries, err := os.ReadDir(s.sourcesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SourceFile{}, nil
		}
		return nil, err
	}

	files := []SourceFile{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		dataType := data.GuessType(entry.Name())
		if dataType == "" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, SourceFile{
			Name:     entry.Name(),
			Size:     formatSize(info.Size()),
			DataType: dataType,
		})
	}

	return files, nil
}

// SourcesDir returns the path to the sources directory.
func (s *SourceService) SourcesDir() string {
	return s.sourcesDir
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
