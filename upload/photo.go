package upload

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gofrs/uuid"
)

// Photo is one attachment waiting on device storage.
type Photo struct {
	// ID identifies the photo locally until the broker issues a server
	// id. Filled in automatically when left empty.
	ID          string
	Filename    string
	LocalPath   string
	SizeBytes   int64
	ContentType string
	CapturedAt  time.Time
}

// CollectPhotos expands doublestar glob patterns into Photo values,
// reading size and capture time from the file system and deriving the
// content type from the extension. Patterns without a match are logged
// and skipped, not treated as errors; a camera roll directory is often
// partially empty.
func (u *Uploader) CollectPhotos(patterns []string) ([]Photo, error) {
	var photos []Photo
	for _, pattern := range patterns {
		if !strings.Contains(pattern, "*") {
			photo, err := u.photoFromPath(pattern)
			if err != nil {
				return nil, err
			}
			photos = append(photos, photo)
			continue
		}

		base, glob := doublestar.SplitPattern(pattern)
		absBase, err := u.pathModifier.AbsPath(base)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", base, err)
		}
		matches, err := doublestar.Glob(os.DirFS(absBase), glob, doublestar.WithNoFollow())
		if err != nil {
			u.logger.Warnf("Error in photo pattern '%s': %s", pattern, err)
			continue
		}
		if matches == nil {
			u.logger.Warnf("No match for photo pattern: %s", pattern)
			continue
		}
		for _, match := range matches {
			photo, err := u.photoFromPath(filepath.Join(absBase, match))
			if err != nil {
				return nil, err
			}
			photos = append(photos, photo)
		}
	}
	return photos, nil
}

func (u *Uploader) photoFromPath(path string) (Photo, error) {
	absPath, err := u.pathModifier.AbsPath(path)
	if err != nil {
		return Photo{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return Photo{}, fmt.Errorf("stat photo: %w", err)
	}
	if info.IsDir() {
		return Photo{}, fmt.Errorf("photo path %s is a directory", absPath)
	}

	contentType := mime.TypeByExtension(filepath.Ext(absPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return Photo{
		ID:          newLocalPhotoID(),
		Filename:    filepath.Base(absPath),
		LocalPath:   absPath,
		SizeBytes:   info.Size(),
		ContentType: contentType,
		CapturedAt:  info.ModTime().UTC(),
	}, nil
}

func newLocalPhotoID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Sprintf("photo-%d", time.Now().UnixNano())
	}
	return id.String()
}
