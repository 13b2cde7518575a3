package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Sink delivers an accepted capture somewhere outside the process.
type Sink interface {
	Deliver(ctx context.Context, c Capture) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, c Capture) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, c Capture) error { return f(ctx, c) }

// DirSink writes each capture into a directory as it is accepted.
type DirSink struct {
	dir  string
	once sync.Once
	err  error
}

// NewDirSink creates a sink for dir. The directory is created on first use.
func NewDirSink(dir string) *DirSink {
	return &DirSink{dir: dir}
}

// Dir returns the target directory.
func (d *DirSink) Dir() string { return d.dir }

// Deliver writes c.Data to dir/c.Filename.
func (d *DirSink) Deliver(ctx context.Context, c Capture) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.once.Do(func() { d.err = os.MkdirAll(d.dir, 0o755) })
	if d.err != nil {
		return fmt.Errorf("snapshot: create %s: %w", d.dir, d.err)
	}
	if c.Filename == "" || filepath.Base(c.Filename) != c.Filename {
		return fmt.Errorf("snapshot: bad filename %q", c.Filename)
	}
	return writeFileAtomic(filepath.Join(d.dir, c.Filename), c.Data)
}

// WriteArchive writes the archive of captures into dir/ArchiveName.
func (d *DirSink) WriteArchive(captures []Capture) (string, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("snapshot: create %s: %w", d.dir, err)
	}
	var buf bytes.Buffer
	if err := WriteArchive(&buf, captures); err != nil {
		return "", err
	}
	path := filepath.Join(d.dir, ArchiveName)
	return path, writeFileAtomic(path, buf.Bytes())
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".qrsnap-*")
	if err != nil {
		return fmt.Errorf("snapshot: write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", path, err)
	}
	return nil
}

// Multi delivers to every sink and joins the errors. A failing sink does
// not stop the others.
type Multi struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewMulti creates a fan-out sink. Nil sinks are skipped.
func NewMulti(logger *slog.Logger, sinks ...Sink) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Multi{logger: logger}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Add appends a sink.
func (m *Multi) Add(s Sink) {
	if s != nil {
		m.sinks = append(m.sinks, s)
	}
}

// Deliver fans c out to every sink.
func (m *Multi) Deliver(ctx context.Context, c Capture) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Deliver(ctx, c); err != nil {
			m.logger.Warn("delivery failed", "filename", c.Filename, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
