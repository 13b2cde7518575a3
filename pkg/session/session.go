// Package session ties one loaded stream to its sampling loop, validator
// and capture collection, from stream-ready to teardown.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/qrsnap/pkg/decode"
	"github.com/teslashibe/qrsnap/pkg/scan"
	"github.com/teslashibe/qrsnap/pkg/snapshot"
	"github.com/teslashibe/qrsnap/pkg/video"
)

// Errors returned by sessions.
var (
	ErrNoSession      = errors.New("session: no active session")
	ErrAlreadyStarted = errors.New("session: already started")
	ErrNotStarted     = errors.New("session: not started")
	ErrNotPausable    = errors.New("session: source cannot be paused")
)

// DefaultDeliverTimeout bounds each sink delivery.
const DefaultDeliverTimeout = 30 * time.Second

// Publisher receives session events. hub.Hub implements it.
type Publisher interface {
	Publish(v any)
}

// Options configures a session.
type Options struct {
	Cooldown      time.Duration
	RefreshRate   float64
	StopWhenEnded bool

	// URLPrefix builds display handles: URLPrefix + filename.
	URLPrefix string

	Sink      snapshot.Sink
	Publisher Publisher
	Logger    *slog.Logger

	DeliverTimeout time.Duration

	// Refresh and Encoder override loop internals. Used in tests.
	Refresh video.Refresh
	Encoder scan.Encoder
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		Cooldown:       scan.DefaultCooldown,
		RefreshRate:    60,
		URLPrefix:      "/api/snapshots/",
		DeliverTimeout: DefaultDeliverTimeout,
	}
}

// Status is a point-in-time view of a session.
type Status struct {
	ID         string              `json:"id"`
	Source     string              `json:"source"`
	State      string              `json:"state"`
	Stream     string              `json:"stream"`
	StartedAt  time.Time           `json:"started_at"`
	Captures   int                 `json:"captures"`
	Loop       scan.Stats          `json:"loop"`
	Validation scan.ValidatorStats `json:"validation"`
	// DeliveryFailures counts captures a sink could not take. The sink
	// reports the cause itself.
	DeliveryFailures int64  `json:"delivery_failures"`
	Error            string `json:"error,omitempty"`
}

// Session owns everything that lives for one stream.
type Session struct {
	ID string

	name       string
	source     video.Source
	loop       *scan.Loop
	validator  *scan.Validator
	collection *snapshot.Collection
	opts       Options
	logger     *slog.Logger

	// deliveries is canceled by Stop so in-flight sink calls end with it.
	deliveries    context.Context
	endDeliveries context.CancelFunc
	failures      atomic.Int64

	mu        sync.Mutex
	started   bool
	stopped   bool
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	onStop    []func()
}

// New builds a session for src. Missing handles fail immediately.
func New(name string, src video.Source, dec decode.Decoder, opts Options) (*Session, error) {
	if src == nil {
		return nil, scan.ErrNoSource
	}
	if dec == nil {
		return nil, scan.ErrNoDecoder
	}
	def := DefaultOptions()
	if opts.RefreshRate <= 0 {
		opts.RefreshRate = def.RefreshRate
	}
	if opts.DeliverTimeout <= 0 {
		opts.DeliverTimeout = def.DeliverTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	id := uuid.NewString()
	deliveries, endDeliveries := context.WithCancel(context.Background())
	s := &Session{
		ID:            id,
		name:          name,
		source:        src,
		collection:    snapshot.NewCollection(opts.URLPrefix),
		opts:          opts,
		logger:        opts.Logger.With("session", id),
		done:          make(chan struct{}),
		deliveries:    deliveries,
		endDeliveries: endDeliveries,
	}

	val, err := scan.NewValidator(dec, s.accept,
		scan.WithValidatorLogger(s.logger),
		scan.OnReject(s.rejected))
	if err != nil {
		endDeliveries()
		return nil, err
	}

	loopOpts := []scan.Option{
		scan.WithCooldown(opts.Cooldown),
		scan.WithRefreshRate(opts.RefreshRate),
		scan.WithStopWhenEnded(opts.StopWhenEnded),
		scan.WithLogger(s.logger),
	}
	if opts.Refresh != nil {
		loopOpts = append(loopOpts, scan.WithRefresh(opts.Refresh))
	}
	if opts.Encoder != nil {
		loopOpts = append(loopOpts, scan.WithEncoder(opts.Encoder))
	}
	loop, err := scan.NewLoop(src, dec, val, loopOpts...)
	if err != nil {
		val.Close()
		endDeliveries()
		return nil, err
	}

	s.validator = val
	s.loop = loop
	return s, nil
}

// Start runs the loop in the background. The session keeps running after
// ctx's caller returns only if ctx does.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return scan.ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.startedAt = time.Now()

	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)

	s.logger.Info("session started", "source", s.name)
	s.publish(Event{Type: EventState, State: scan.Idle.String()})
	return nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	err := s.loop.Run(ctx)
	switch {
	case errors.Is(err, video.ErrEnded):
		// let in-flight validations land before reporting the end
		if derr := s.validator.Drain(ctx); derr != nil {
			s.logger.Debug("drain interrupted", "error", derr)
		}
		s.logger.Info("stream finished", "captures", s.collection.Len())
		s.publish(Event{Type: EventState, State: video.Ended.String()})
		err = nil
	case errors.Is(err, context.Canceled):
		err = nil
	case err != nil:
		s.logger.Error("sampling failed", "error", err)
		s.publish(Event{Type: EventError, Reason: err.Error()})
	}

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// accept runs on validation goroutines.
func (s *Session) accept(a scan.Accepted) {
	c, err := s.collection.Add(snapshot.Capture{
		Value:      a.Value,
		Decoded:    a.Decoded,
		Corners:    a.Corners,
		Data:       a.Data,
		CapturedAt: a.AcceptedAt,
	})
	if err != nil {
		s.logger.Debug("capture dropped", "value", a.Value, "error", err)
		return
	}
	s.logger.Info("capture saved", "filename", c.Filename, "value", c.Value, "bytes", c.Size)

	if s.opts.Sink != nil {
		ctx, cancel := context.WithTimeout(s.deliveries, s.opts.DeliverTimeout)
		if err := s.opts.Sink.Deliver(ctx, c); err != nil {
			s.failures.Add(1)
		}
		cancel()
	}
	s.publish(Event{Type: EventCapture, Capture: &c})
}

func (s *Session) rejected(a scan.Artifact, reason string) {
	s.publish(Event{Type: EventRejected, Value: a.Value, Reason: reason})
}

func (s *Session) publish(ev Event) {
	if s.opts.Publisher == nil {
		return
	}
	ev.SessionID = s.ID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.opts.Publisher.Publish(ev)
}

// Done is closed when the loop stops.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the loop stops or ctx is done, and returns the loop
// error. A stream that ended normally is not an error.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnStop registers fn to run at the end of Stop, after the source is
// closed. On a stopped session fn runs at once.
func (s *Session) OnStop(fn func()) {
	s.mu.Lock()
	if !s.stopped {
		s.onStop = append(s.onStop, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

// Stop tears the session down: stops the loop, cancels pending
// validations and deliveries, releases captures and closes the source.
// Idempotent.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started, cancel := s.started, s.cancel
	hooks := s.onStop
	s.onStop = nil
	s.mu.Unlock()

	s.endDeliveries()
	if started {
		cancel()
		<-s.done
	}
	pending := s.validator.Pending()
	s.validator.Close()
	s.collection.Release()
	err := s.source.Close()
	for _, fn := range hooks {
		fn()
	}

	s.logger.Info("session stopped", "canceled_validations", pending)
	s.publish(Event{Type: EventState, State: scan.Stopped.String()})
	return err
}

// Pause pauses the source when it supports it.
func (s *Session) Pause() error {
	p, ok := s.source.(video.Pauser)
	if !ok {
		return ErrNotPausable
	}
	p.Pause()
	s.publish(Event{Type: EventState, State: video.Paused.String()})
	return nil
}

// Resume resumes a paused source.
func (s *Session) Resume() error {
	p, ok := s.source.(video.Pauser)
	if !ok {
		return ErrNotPausable
	}
	p.Resume()
	s.publish(Event{Type: EventState, State: video.Playing.String()})
	return nil
}

// Snapshots returns accepted captures in acceptance order.
func (s *Session) Snapshots() []snapshot.Capture {
	return s.collection.List()
}

// Snapshot returns one capture by filename.
func (s *Session) Snapshot(name string) (snapshot.Capture, error) {
	return s.collection.Get(name)
}

// WriteArchive writes every capture accepted so far as a zip.
func (s *Session) WriteArchive(w io.Writer) error {
	return snapshot.WriteArchive(w, s.collection.List())
}

// Status returns a view of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		ID:        s.ID,
		Source:    s.name,
		StartedAt: s.startedAt,
	}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	stopped := s.stopped
	s.mu.Unlock()

	st.State = s.loop.State().String()
	if stopped {
		st.State = scan.Stopped.String()
	}
	st.Stream = s.loop.Metadata().Name
	st.Captures = s.collection.Len()
	st.Loop = s.loop.Stats()
	st.Validation = s.validator.Stats()
	st.DeliveryFailures = s.failures.Load()
	return st
}
