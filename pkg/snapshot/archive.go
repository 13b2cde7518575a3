package snapshot

import (
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"
)

// WriteArchive writes captures into a zip under ArchiveFolder. The folder
// entry is always written, so zero captures yield an archive with an empty folder.
func WriteArchive(w io.Writer, captures []Capture) error {
	zw := zip.NewWriter(w)

	if _, err := zw.CreateHeader(&zip.FileHeader{
		Name:     ArchiveFolder,
		Method:   zip.Store,
		Modified: time.Now(),
	}); err != nil {
		return fmt.Errorf("snapshot: archive folder: %w", err)
	}

	for _, c := range captures {
		// PNG is already deflated
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     ArchiveFolder + c.Filename,
			Method:   zip.Store,
			Modified: c.CapturedAt,
		})
		if err != nil {
			return fmt.Errorf("snapshot: archive %s: %w", c.Filename, err)
		}
		if _, err := fw.Write(c.Data); err != nil {
			return fmt.Errorf("snapshot: archive %s: %w", c.Filename, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("snapshot: archive close: %w", err)
	}
	return nil
}
