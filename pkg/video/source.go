// Package video supplies RGBA frames to the sampling loop from video files,
// a screen, or a live WebRTC stream.
package video

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Errors returned by sources.
var (
	ErrEnded    = errors.New("video: stream ended")
	ErrClosed   = errors.New("video: source closed")
	ErrNotOpen  = errors.New("video: source not open")
	ErrNoFrame  = errors.New("video: no frame available")
	ErrNoHandle = errors.New("video: missing source handle")
)

// OpenError wraps a failure to open a source.
type OpenError struct {
	Source string
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("video: open %s: %v", e.Source, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// State is the playback state of a source.
type State int

const (
	Playing State = iota
	Paused
	Ended
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Frame is one RGBA image, row-major, 4 bytes per pixel with no padding.
// The loop reuses a single Frame; sources grow Pix only when needed.
type Frame struct {
	Pix       []byte
	Width     int
	Height    int
	Seq       uint64        // Frame number within the stream, from 1
	Timestamp time.Duration // Stream position when known
}

// Reset sizes the frame for width x height and returns the pixel slice.
func (f *Frame) Reset(width, height int) []byte {
	n := width * height * 4
	if cap(f.Pix) < n {
		f.Pix = make([]byte, n)
	}
	f.Pix = f.Pix[:n]
	f.Width, f.Height = width, height
	return f.Pix
}

// Empty reports whether the frame holds no pixels.
func (f *Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0 || len(f.Pix) == 0
}

// Metadata describes a stream once it is ready.
type Metadata struct {
	Name   string
	Width  int
	Height int
	FPS    float64 // 0 when unknown
	Frames int     // 0 when unknown or unbounded
}

// Source is a stream of frames.
type Source interface {
	// Open blocks until stream metadata is available.
	Open(ctx context.Context) (Metadata, error)

	// State reports whether the stream is playing, paused or ended.
	State() State

	// Read copies the current frame into dst. It returns ErrEnded once
	// the stream is exhausted.
	Read(dst *Frame) error

	// Close releases resources
	Close() error
}

// Pauser is implemented by sources the user can pause.
type Pauser interface {
	Pause()
	Resume()
}
