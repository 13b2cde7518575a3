// Package snapshot holds accepted captures for a session and delivers them:
// individually as PNG files and together as a zip archive.
package snapshot

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"
	"time"
)

// Naming for artifacts.
const (
	FilePrefix    = "qrcode_"
	FileExt       = ".png"
	ArchiveName   = "qrcode_snapshots.zip"
	ArchiveFolder = "qrcode_snapshots/"
	ContentType   = "image/png"
)

// Errors returned by the collection.
var (
	ErrNotFound = errors.New("snapshot: not found")
	ErrReleased = errors.New("snapshot: collection released")
	ErrEmpty    = errors.New("snapshot: empty image data")
)

// Capture is an accepted snapshot. It is immutable once created.
type Capture struct {
	Value      string        `json:"value"`   // payload that triggered the capture
	Decoded    string        `json:"decoded"` // payload read back from the image
	Corners    []image.Point `json:"corners,omitempty"`
	Filename   string        `json:"filename"`
	URL        string        `json:"url"` // display handle, revoked on release
	Size       int           `json:"size"`
	CapturedAt time.Time     `json:"captured_at"`
	Data       []byte        `json:"-"`
}

// Filename returns qrcode_<ms>.png for t.
func Filename(t time.Time) string {
	return FilePrefix + strconv.FormatInt(t.UnixMilli(), 10) + FileExt
}

// ParseFilename extracts the millisecond stamp from a capture filename.
func ParseFilename(name string) (int64, error) {
	if !strings.HasPrefix(name, FilePrefix) || !strings.HasSuffix(name, FileExt) {
		return 0, fmt.Errorf("snapshot: %q is not a capture filename", name)
	}
	ms, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, FilePrefix), FileExt), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("snapshot: %q: %w", name, err)
	}
	return ms, nil
}
