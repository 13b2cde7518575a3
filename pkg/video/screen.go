package video

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/kbinani/screenshot"
)

// Screen samples frames from a display. It never ends on its own.
type Screen struct {
	display int
	logger  *slog.Logger

	// capture is swapped in tests
	capture func(image.Rectangle) (*image.RGBA, error)

	mu     sync.Mutex
	bounds image.Rectangle
	state  State
	seq    uint64
	start  time.Time
	opened bool
	closed bool
}

// NewScreen creates a source for the given display index.
func NewScreen(display int, logger *slog.Logger) *Screen {
	if logger == nil {
		logger = slog.Default()
	}
	return &Screen{
		display: display,
		logger:  logger.With("component", "video", "source", "screen"),
		capture: screenshot.CaptureRect,
	}
}

// Open resolves the display bounds.
func (s *Screen) Open(ctx context.Context) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Metadata{}, ErrClosed
	}

	if !s.opened {
		n := screenshot.NumActiveDisplays()
		if s.display < 0 || s.display >= n {
			return Metadata{}, &OpenError{
				Source: fmt.Sprintf("display %d", s.display),
				Err:    fmt.Errorf("%d active displays", n),
			}
		}
		s.bounds = screenshot.GetDisplayBounds(s.display)
		s.state = Playing
		s.start = time.Now()
		s.opened = true
		s.logger.Info("display opened", "display", s.display, "bounds", s.bounds.String())
	}

	return Metadata{
		Name:   fmt.Sprintf("display-%d", s.display),
		Width:  s.bounds.Dx(),
		Height: s.bounds.Dy(),
	}, nil
}

// State reports the sampling state.
func (s *Screen) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pause stops sampling until Resume.
func (s *Screen) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Playing {
		s.state = Paused
	}
}

// Resume continues after Pause.
func (s *Screen) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Paused {
		s.state = Playing
	}
}

// Read captures the display into dst.
func (s *Screen) Read(dst *Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrClosed
	case !s.opened:
		return ErrNotOpen
	}

	img, err := s.capture(s.bounds)
	if err != nil {
		return fmt.Errorf("video: capture display %d: %w", s.display, err)
	}
	copyRGBA(img, dst)

	s.seq++
	dst.Seq = s.seq
	dst.Timestamp = time.Since(s.start)
	return nil
}

// Close stops the source.
func (s *Screen) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.state = Ended
	return nil
}

// copyRGBA copies img into dst row by row, dropping any stride padding.
func copyRGBA(img *image.RGBA, dst *Frame) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pix := dst.Reset(w, h)
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+w*4]
		copy(pix[y*w*4:], src)
	}
}
