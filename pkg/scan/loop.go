// Package scan runs the frame sampling loop: decode one frame per refresh
// tick, suppress repeats, and hand each new payload's frame to validation.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/qrsnap/pkg/decode"
	"github.com/teslashibe/qrsnap/pkg/video"
)

// State is the loop lifecycle state.
type State int32

const (
	// Idle until stream metadata is available.
	Idle State = iota
	// Running samples one frame per tick.
	Running
	// Paused while the stream is paused or ended. Ticks keep coming.
	Paused
	// Stopped after Run returns.
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is what a single tick did.
type Outcome int

const (
	OutcomeIdle          Outcome = iota // stream paused or no frame yet
	OutcomeEnded                        // stream ended
	OutcomeMiss                         // no code, or empty payload
	OutcomeCooldown                     // seen within the cooldown window
	OutcomeDuplicate                    // already captured this session
	OutcomeCaptured                     // artifact submitted for validation
	OutcomeCaptureFailed                // attempt made but no artifact produced
)

var outcomeNames = [...]string{"idle", "ended", "miss", "cooldown", "duplicate", "captured", "capture_failed"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Stats are loop counters.
type Stats struct {
	Ticks      int64 `json:"ticks"`
	Frames     int64 `json:"frames"`
	Detections int64 `json:"detections"`
	Cooldowns  int64 `json:"cooldowns"`
	Duplicates int64 `json:"duplicates"`
	Attempts   int64 `json:"attempts"`
	Failures   int64 `json:"failures"`
}

// Loop samples frames from a source and triggers captures.
type Loop struct {
	cfg       Config
	source    video.Source
	decoder   decode.Decoder
	validator *Validator
	dedup     *DedupState
	logger    *slog.Logger

	frame video.Frame // reused every tick
	meta  atomic.Pointer[video.Metadata]

	state   atomic.Int32
	running atomic.Bool

	ticks, frames, detections, cooldowns, duplicates, attempts, failures atomic.Int64
}

// NewLoop creates a loop with fresh dedup state.
func NewLoop(src video.Source, dec decode.Decoder, val *Validator, opts ...Option) (*Loop, error) {
	switch {
	case src == nil:
		return nil, ErrNoSource
	case dec == nil:
		return nil, ErrNoDecoder
	case val == nil:
		return nil, ErrNoValidator
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Encoder == nil {
		cfg.Encoder = EncodePNG
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Loop{
		cfg:       cfg,
		source:    src,
		decoder:   dec,
		validator: val,
		dedup:     NewDedupState(),
		logger:    cfg.Logger.With("component", "scan"),
	}, nil
}

// Run opens the source and samples one frame per refresh tick until ctx is
// done. It returns ctx.Err() on cancellation, or video.ErrEnded when
// StopWhenEnded is set and the stream ends.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer l.state.Store(int32(Stopped))

	meta, err := l.source.Open(ctx)
	if err != nil {
		return err
	}
	if meta.Width <= 0 || meta.Height <= 0 {
		return fmt.Errorf("scan: stream %q reports a %dx%d frame: %w", meta.Name, meta.Width, meta.Height, video.ErrNoHandle)
	}
	l.meta.Store(&meta)
	l.state.Store(int32(Running))

	refresh := l.cfg.Refresh
	if refresh == nil {
		rate := meta.FPS
		if rate <= 0 {
			rate = l.cfg.RefreshRate
		}
		refresh = video.NewTicker(rate)
	}
	defer refresh.Stop()

	l.logger.Info("sampling started",
		"stream", meta.Name,
		"width", meta.Width,
		"height", meta.Height,
		"fps", meta.FPS,
		"cooldown", l.cfg.Cooldown)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("sampling stopped", "ticks", l.ticks.Load(), "attempts", l.attempts.Load())
			return ctx.Err()
		case now := <-refresh.C():
			if l.Tick(now) == OutcomeEnded && l.cfg.StopWhenEnded {
				l.logger.Info("stream ended", "ticks", l.ticks.Load(), "attempts", l.attempts.Load())
				return video.ErrEnded
			}
		}
	}
}

// Tick runs one sampling step at time now. Exactly one decode happens per
// tick, and a capture is encoded from the same frame that was decoded.
func (l *Loop) Tick(now time.Time) Outcome {
	l.ticks.Add(1)

	switch l.source.State() {
	case video.Paused:
		l.state.Store(int32(Paused))
		return OutcomeIdle
	case video.Ended:
		l.state.Store(int32(Paused))
		return OutcomeEnded
	}
	l.state.Store(int32(Running))

	if err := l.source.Read(&l.frame); err != nil {
		if errors.Is(err, video.ErrEnded) {
			return OutcomeEnded
		}
		l.logger.Debug("frame unavailable", "error", err)
		return OutcomeIdle
	}
	l.frames.Add(1)

	res, ok := l.decoder.Decode(l.frame.Pix, l.frame.Width, l.frame.Height)
	if !ok {
		return OutcomeMiss
	}
	value, ok := decode.Normalize(res.Text)
	if !ok {
		return OutcomeMiss
	}
	l.detections.Add(1)

	// skip is judged against the previous sighting, then this one is recorded
	skip := l.dedup.ShouldSkip(value, now, l.cfg.Cooldown)
	l.dedup.RecordSeen(value, now)
	if skip {
		l.cooldowns.Add(1)
		return OutcomeCooldown
	}
	if !l.dedup.IsNew(value) {
		l.duplicates.Add(1)
		return OutcomeDuplicate
	}

	// one attempt per value, whatever validation decides
	l.dedup.MarkCaptured(value)
	l.attempts.Add(1)
	l.logger.Info("new code detected", "value", value, "frame", l.frame.Seq)

	data, err := l.cfg.Encoder(&l.frame)
	if err != nil {
		l.failures.Add(1)
		l.logger.Warn("capture encode failed", "value", value, "error", err)
		return OutcomeCaptureFailed
	}
	if _, err := l.validator.Submit(Artifact{
		Value:      value,
		Data:       data,
		FrameSeq:   l.frame.Seq,
		DetectedAt: now,
	}); err != nil {
		l.failures.Add(1)
		l.logger.Warn("capture not submitted", "value", value, "error", err)
		return OutcomeCaptureFailed
	}
	return OutcomeCaptured
}

// State returns the lifecycle state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Metadata returns the stream metadata once Run has opened the source.
func (l *Loop) Metadata() video.Metadata {
	if m := l.meta.Load(); m != nil {
		return *m
	}
	return video.Metadata{}
}

// Dedup exposes the dedup state. Only read it from the loop goroutine or
// after Run returns.
func (l *Loop) Dedup() *DedupState { return l.dedup }

// Stats returns loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:      l.ticks.Load(),
		Frames:     l.frames.Load(),
		Detections: l.detections.Load(),
		Cooldowns:  l.cooldowns.Load(),
		Duplicates: l.duplicates.Load(),
		Attempts:   l.attempts.Load(),
		Failures:   l.failures.Load(),
	}
}
