package video

import (
	"context"
	"sync"
)

// Step is one scripted read.
type Step struct {
	Frame Frame
	State State // Paused or Ended make the read report that state instead
	Err   error
}

// Scripted implements Source for testing. Each Read consumes one step;
// after the last step the source reports Ended.
type Scripted struct {
	// OpenFunc is called when Open is invoked.
	// If nil, Open returns Meta.
	OpenFunc func(ctx context.Context) (Metadata, error)

	Meta Metadata

	mu     sync.Mutex
	steps  []Step
	next   int
	reads  int
	closed bool
}

// NewScripted creates a source that plays steps in order.
func NewScripted(meta Metadata, steps ...Step) *Scripted {
	return &Scripted{Meta: meta, steps: steps}
}

// SolidFrame builds a w x h frame whose every pixel is (key, 0, 0, 255).
// Pair it with decode.NewMock to script payloads per frame.
func SolidFrame(key byte, w, h int) Frame {
	f := Frame{}
	pix := f.Reset(w, h)
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = key, 0, 0, 255
	}
	return f
}

// Open returns the metadata.
func (s *Scripted) Open(ctx context.Context) (Metadata, error) {
	if s.OpenFunc != nil {
		return s.OpenFunc(ctx)
	}
	return s.Meta, ctx.Err()
}

// State reports the state of the next step.
func (s *Scripted) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.next >= len(s.steps) {
		return Ended
	}
	st := s.steps[s.next].State
	if st == Paused {
		// a paused step is observed once, then playback continues
		s.next++
	}
	return st
}

// Read copies the next scripted frame into dst.
func (s *Scripted) Read(dst *Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.closed {
		return ErrClosed
	}
	if s.next >= len(s.steps) {
		return ErrEnded
	}
	step := s.steps[s.next]
	s.next++
	if step.Err != nil {
		return step.Err
	}
	copy(dst.Reset(step.Frame.Width, step.Frame.Height), step.Frame.Pix)
	dst.Seq = uint64(s.next)
	dst.Timestamp = step.Frame.Timestamp
	return nil
}

// Push appends steps while the source is running.
func (s *Scripted) Push(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

// Reads returns how many times Read ran.
func (s *Scripted) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Close marks the source closed.
func (s *Scripted) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Scripted) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
