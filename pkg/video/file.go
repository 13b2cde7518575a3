package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// File reads frames from a video file with OpenCV.
type File struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	capture *gocv.VideoCapture
	bgr     gocv.Mat
	rgba    gocv.Mat
	meta    Metadata
	state   State
	seq     uint64
	closed  bool
}

// NewFile creates a file source. Nothing is opened until Open.
func NewFile(path string, logger *slog.Logger) *File {
	if logger == nil {
		logger = slog.Default()
	}
	return &File{path: path, logger: logger.With("component", "video", "source", "file")}
}

// Open opens the file and reads its metadata.
func (f *File) Open(ctx context.Context) (Metadata, error) {
	if f.path == "" {
		return Metadata{}, ErrNoHandle
	}
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return Metadata{}, ErrClosed
	}
	if f.capture != nil {
		return f.meta, nil
	}

	vc, err := gocv.VideoCaptureFile(f.path)
	if err != nil {
		return Metadata{}, &OpenError{Source: f.path, Err: err}
	}
	if !vc.IsOpened() {
		vc.Close()
		return Metadata{}, &OpenError{Source: f.path, Err: errors.New("unsupported or unreadable video")}
	}

	f.capture = vc
	f.bgr = gocv.NewMat()
	f.rgba = gocv.NewMat()
	f.meta = Metadata{
		Name:   filepath.Base(f.path),
		Width:  int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height: int(vc.Get(gocv.VideoCaptureFrameHeight)),
		FPS:    vc.Get(gocv.VideoCaptureFPS),
		Frames: int(vc.Get(gocv.VideoCaptureFrameCount)),
	}
	f.state = Playing

	f.logger.Info("video opened",
		"name", f.meta.Name,
		"width", f.meta.Width,
		"height", f.meta.Height,
		"fps", f.meta.FPS,
		"frames", f.meta.Frames)
	return f.meta, nil
}

// State reports the playback state.
func (f *File) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Pause stops frame advance until Resume.
func (f *File) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Playing {
		f.state = Paused
	}
}

// Resume continues after Pause.
func (f *File) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Paused {
		f.state = Playing
	}
}

// Read decodes the next frame into dst.
func (f *File) Read(dst *Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case f.closed:
		return ErrClosed
	case f.capture == nil:
		return ErrNotOpen
	case f.state == Ended:
		return ErrEnded
	}

	if ok := f.capture.Read(&f.bgr); !ok || f.bgr.Empty() {
		f.state = Ended
		f.logger.Info("video ended", "name", f.meta.Name, "frames_read", f.seq)
		return ErrEnded
	}
	if err := matToFrame(f.bgr, &f.rgba, dst); err != nil {
		return fmt.Errorf("video: frame %d: %w", f.seq+1, err)
	}

	f.seq++
	dst.Seq = f.seq
	dst.Timestamp = time.Duration(f.capture.Get(gocv.VideoCapturePosMsec)) * time.Millisecond
	return nil
}

// Close releases the capture. Safe to call more than once.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.state = Ended
	if f.capture == nil {
		return nil
	}
	f.bgr.Close()
	f.rgba.Close()
	return f.capture.Close()
}
