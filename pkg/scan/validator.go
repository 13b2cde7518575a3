package scan

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/qrsnap/pkg/decode"
	"github.com/teslashibe/qrsnap/pkg/snapshot"
)

// Artifact is a capture waiting for validation.
type Artifact struct {
	Value      string    // payload detected in the frame
	Data       []byte    // encoded image
	FrameSeq   uint64    // frame the capture came from
	DetectedAt time.Time // tick time of the detection
}

// Accepted is an artifact that decoded cleanly on its own.
type Accepted struct {
	Artifact
	Decoded    string        // payload read back from Data, trimmed
	Corners    []image.Point // symbol corners in Data, when the decoder reports them
	AcceptedAt time.Time     // when validation finished
}

// Status is the outcome of a pending validation.
type Status int

const (
	StatusPending Status = iota
	StatusAccepted
	StatusRejected
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	case StatusCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Pending is a validation that was submitted and may not have finished.
// Pendings complete in any order.
type Pending struct {
	ID       uint64
	Artifact Artifact

	done   chan struct{}
	status Status
	reason string
}

// Done is closed when the validation finishes.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the validation finishes or ctx is done.
func (p *Pending) Wait(ctx context.Context) (Status, error) {
	select {
	case <-p.done:
		return p.status, nil
	case <-ctx.Done():
		return StatusPending, ctx.Err()
	}
}

// Reason explains a rejection. Empty until done.
func (p *Pending) Reason() string {
	select {
	case <-p.done:
		return p.reason
	default:
		return ""
	}
}

// ValidatorStats counts validation outcomes.
type ValidatorStats struct {
	Submitted int64 `json:"submitted"`
	Accepted  int64 `json:"accepted"`
	Rejected  int64 `json:"rejected"`
	Canceled  int64 `json:"canceled"`
	Pending   int   `json:"pending"`
}

// Validator re-decodes each capture from its own encoded image and only
// passes it on when a non-empty payload comes back.
type Validator struct {
	decoder decode.Decoder
	accept  func(Accepted)
	reject  func(Artifact, string)
	logger  *slog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[uint64]*Pending
	nextID  uint64
	closed  bool

	submitted atomic.Int64
	accepted  atomic.Int64
	rejected  atomic.Int64
	canceled  atomic.Int64
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// OnReject registers a callback for discarded captures.
func OnReject(fn func(Artifact, string)) ValidatorOption {
	return func(v *Validator) { v.reject = fn }
}

// WithValidatorLogger sets the logger.
func WithValidatorLogger(l *slog.Logger) ValidatorOption {
	return func(v *Validator) { v.logger = l }
}

// WithClock sets the clock used to stamp accepted captures.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// NewValidator creates a validator. accept runs on the validation goroutine
// and may be called concurrently for different artifacts.
func NewValidator(dec decode.Decoder, accept func(Accepted), opts ...ValidatorOption) (*Validator, error) {
	if dec == nil {
		return nil, ErrNoDecoder
	}
	if accept == nil {
		accept = func(Accepted) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	v := &Validator{
		decoder: dec,
		accept:  accept,
		logger:  slog.Default(),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[uint64]*Pending),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With("component", "validator")
	return v, nil
}

// Submit starts validating a. It returns at once; the decode runs on its
// own goroutine.
func (v *Validator) Submit(a Artifact) (*Pending, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, ErrClosed
	}
	v.nextID++
	p := &Pending{ID: v.nextID, Artifact: a, done: make(chan struct{})}
	v.pending[p.ID] = p
	v.wg.Add(1)
	v.mu.Unlock()

	v.submitted.Add(1)
	go v.resolve(p)
	return p, nil
}

// resolve decodes the artifact and settles p.
func (v *Validator) resolve(p *Pending) {
	defer v.wg.Done()

	res, reason := v.check(p.Artifact)

	v.mu.Lock()
	delete(v.pending, p.ID)
	canceled := v.ctx.Err() != nil
	v.mu.Unlock()

	switch {
	case canceled:
		p.status = StatusCanceled
		p.reason = "session ended"
		v.canceled.Add(1)
		v.logger.Debug("validation canceled", "value", p.Artifact.Value)
	case reason != "":
		p.status = StatusRejected
		p.reason = reason
		v.rejected.Add(1)
		v.logger.Info("capture discarded", "value", p.Artifact.Value, "reason", reason)
		if v.reject != nil {
			v.reject(p.Artifact, reason)
		}
	default:
		p.status = StatusAccepted
		v.accepted.Add(1)
		v.accept(Accepted{Artifact: p.Artifact, Decoded: res.Text, Corners: res.Points, AcceptedAt: v.now()})
	}
	close(p.done)
}

// check returns the re-decoded result with a trimmed payload, or a
// rejection reason.
func (v *Validator) check(a Artifact) (decode.Result, string) {
	if v.ctx.Err() != nil {
		return decode.Result{}, "canceled"
	}
	pix, w, h, err := snapshot.DecodePNG(a.Data)
	if err != nil {
		return decode.Result{}, err.Error()
	}
	res, ok := v.decoder.Decode(pix, w, h)
	if !ok {
		return decode.Result{}, "no code in capture"
	}
	text, ok := decode.Normalize(res.Text)
	if !ok {
		return decode.Result{}, "empty payload in capture"
	}
	if text != a.Value {
		v.logger.Debug("capture decodes to a different payload", "value", a.Value, "decoded", text)
	}
	res.Text = text
	return res, ""
}

// Pending returns the number of unfinished validations.
func (v *Validator) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}

// Stats returns outcome counters.
func (v *Validator) Stats() ValidatorStats {
	return ValidatorStats{
		Submitted: v.submitted.Load(),
		Accepted:  v.accepted.Load(),
		Rejected:  v.rejected.Load(),
		Canceled:  v.canceled.Load(),
		Pending:   v.Pending(),
	}
}

// Drain waits for every submitted validation to finish, or for ctx.
func (v *Validator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		v.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels outstanding validations and waits for their goroutines.
// No accept callback runs after Close returns. Safe to call more than once.
func (v *Validator) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	n := len(v.pending)
	v.mu.Unlock()

	v.cancel()
	v.wg.Wait()
	if n > 0 {
		v.logger.Debug("pending validations canceled", "count", n)
	}
}
