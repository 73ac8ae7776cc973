package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pavelmac/faceshare/internal/photostore"
)

// DirLibrary is a filesystem photo library. The photo UID is the file
// name; taken-at falls back to the file modification time.
type DirLibrary struct {
	dir string
}

// NewDirLibrary creates a library over the given directory.
func NewDirLibrary(dir string) *DirLibrary {
	return &DirLibrary{dir: dir}
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// ListPhotos returns all photos newest first. Ties on timestamp fall back
// to file name so the order is stable across runs.
func (l *DirLibrary) ListPhotos(ctx context.Context) ([]photostore.Photo, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read library directory: %w", err)
	}

	var photos []photostore.Photo
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		photos = append(photos, photostore.Photo{
			UID:     e.Name(),
			Path:    filepath.Join(l.dir, e.Name()),
			TakenAt: info.ModTime().UTC(),
		})
	}

	sort.SliceStable(photos, func(i, j int) bool {
		if !photos[i].TakenAt.Equal(photos[j].TakenAt) {
			return photos[i].TakenAt.After(photos[j].TakenAt)
		}
		return photos[i].UID < photos[j].UID
	})
	return photos, nil
}

// ReadPhoto returns the raw bytes of one photo.
func (l *DirLibrary) ReadPhoto(ctx context.Context, uid string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.dir, uid))
	if err != nil {
		return nil, fmt.Errorf("read photo %s: %w", uid, err)
	}
	return data, nil
}
