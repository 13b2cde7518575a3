package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/qrsnap/internal/log"
	"github.com/teslashibe/qrsnap/pkg/decode"
	"github.com/teslashibe/qrsnap/pkg/video"
)

const (
	keyA     byte = 1
	keyB     byte = 2
	keyC     byte = 3
	keyBlank byte = 4
	keyNone  byte = 9
)

var payloads = map[byte]string{
	keyA:     "A",
	keyB:     "B",
	keyC:     "C",
	keyBlank: "   ",
}

type harness struct {
	src      *video.Scripted
	dec      *decode.Mock
	val      *Validator
	loop     *Loop
	accepted *acceptLog
}

func newHarness(t *testing.T, keys []byte, opts ...Option) *harness {
	t.Helper()
	steps := make([]video.Step, len(keys))
	for i, k := range keys {
		steps[i] = video.Step{Frame: video.SolidFrame(k, 8, 8)}
	}
	h := &harness{
		src:      video.NewScripted(video.Metadata{Name: "test", Width: 8, Height: 8, FPS: 30}, steps...),
		dec:      decode.NewMock(payloads),
		accepted: &acceptLog{},
	}
	val, err := NewValidator(h.dec, h.accepted.add, WithValidatorLogger(log.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	h.val = val
	t.Cleanup(val.Close)

	opts = append([]Option{WithLogger(log.Discard())}, opts...)
	loop, err := NewLoop(h.src, h.dec, val, opts...)
	if err != nil {
		t.Fatal(err)
	}
	h.loop = loop
	return h
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.val.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func at(ms int64) time.Time { return time.UnixMilli(1_700_000_000_000 + ms) }

func TestNewLoopMissingHandles(t *testing.T) {
	src := video.NewScripted(video.Metadata{})
	dec := decode.NewMock(nil)
	val, _ := NewValidator(dec, nil)
	defer val.Close()

	tests := []struct {
		name string
		src  video.Source
		dec  decode.Decoder
		val  *Validator
		want error
	}{
		{"no source", nil, dec, val, ErrNoSource},
		{"no decoder", src, nil, val, ErrNoDecoder},
		{"no validator", src, dec, nil, ErrNoValidator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLoop(tt.src, tt.dec, tt.val); !errors.Is(err, tt.want) {
				t.Errorf("NewLoop: got %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := NewLoop(src, dec, val, WithCooldown(-time.Second)); err == nil {
		t.Error("negative cooldown: expected error")
	}
}

func TestSameValueCapturedOnce(t *testing.T) {
	h := newHarness(t, []byte{keyA, keyA, keyA, keyA}, WithCooldown(3*time.Second))

	want := []struct {
		ms      int64
		outcome Outcome
	}{
		{0, OutcomeCaptured},
		{1000, OutcomeCooldown},
		{2900, OutcomeCooldown},
		// last sighting was 2900, so 3100 is still inside the window
		{3100, OutcomeCooldown},
	}
	for _, w := range want {
		if got := h.loop.Tick(at(w.ms)); got != w.outcome {
			t.Errorf("t=%d: got %v, want %v", w.ms, got, w.outcome)
		}
	}

	last, _ := h.loop.Dedup().LastSeen("A")
	if !last.Equal(at(3100)) {
		t.Errorf("last seen: got %v, want t=3100", last)
	}

	h.drain(t)
	if got := h.accepted.values(); len(got) != 1 || got[0] != "A" {
		t.Errorf("captures: got %v, want [A]", got)
	}
	if s := h.loop.Stats(); s.Attempts != 1 || s.Cooldowns != 3 {
		t.Errorf("Stats: got %+v", s)
	}
}

func TestCapturedValueNeverRetried(t *testing.T) {
	h := newHarness(t, []byte{keyA, keyA, keyA})

	if got := h.loop.Tick(at(0)); got != OutcomeCaptured {
		t.Fatalf("t=0: got %v, want captured", got)
	}
	// well past any cooldown: permanent suppression still applies
	if got := h.loop.Tick(at(10_000)); got != OutcomeDuplicate {
		t.Errorf("t=10000: got %v, want duplicate", got)
	}
	if got := h.loop.Tick(at(20_000)); got != OutcomeDuplicate {
		t.Errorf("t=20000: got %v, want duplicate", got)
	}

	h.drain(t)
	if n := len(h.accepted.values()); n != 1 {
		t.Errorf("captures: got %d, want 1", n)
	}
}

func TestDistinctValuesCaptureIndependently(t *testing.T) {
	h := newHarness(t, []byte{keyA, keyB, keyA, keyB, keyNone, keyB})

	want := []Outcome{
		OutcomeCaptured,  // A
		OutcomeCaptured,  // B
		OutcomeCooldown,  // A again
		OutcomeCooldown,  // B again
		OutcomeMiss,      // nothing
		OutcomeDuplicate, // B after its window
	}
	times := []int64{0, 16, 33, 50, 4000, 8000}
	for i, w := range want {
		if got := h.loop.Tick(at(times[i])); got != w {
			t.Errorf("tick %d: got %v, want %v", i, got, w)
		}
	}

	h.drain(t)
	got := h.accepted.values()
	if len(got) != 2 {
		t.Fatalf("captures: got %v, want A and B", got)
	}
	seen := map[string]bool{got[0]: true, got[1]: true}
	if !seen["A"] || !seen["B"] {
		t.Errorf("captures: got %v, want A and B", got)
	}
}

func TestFailedValidationStillMarksCaptured(t *testing.T) {
	corrupt := func(*video.Frame) ([]byte, error) { return []byte("corrupted"), nil }
	h := newHarness(t, []byte{keyC, keyC}, WithEncoder(corrupt))

	if got := h.loop.Tick(at(0)); got != OutcomeCaptured {
		t.Fatalf("t=0: got %v, want captured", got)
	}
	h.drain(t)

	if n := len(h.accepted.values()); n != 0 {
		t.Errorf("accepted: got %d, want 0", n)
	}
	if s := h.val.Stats(); s.Rejected != 1 {
		t.Errorf("rejected: got %d, want 1", s.Rejected)
	}
	if h.loop.Dedup().IsNew("C") {
		t.Error("C not marked captured after failed validation")
	}
	if got := h.loop.Tick(at(60_000)); got != OutcomeDuplicate {
		t.Errorf("later C: got %v, want duplicate", got)
	}
}

func TestEncodeFailureStillMarksCaptured(t *testing.T) {
	broken := func(*video.Frame) ([]byte, error) { return nil, errors.New("no encoder") }
	h := newHarness(t, []byte{keyA, keyA}, WithEncoder(broken))

	if got := h.loop.Tick(at(0)); got != OutcomeCaptureFailed {
		t.Fatalf("t=0: got %v, want capture_failed", got)
	}
	if got := h.loop.Tick(at(60_000)); got != OutcomeDuplicate {
		t.Errorf("later A: got %v, want duplicate", got)
	}
	if s := h.val.Stats(); s.Submitted != 0 {
		t.Errorf("submitted: got %d, want 0", s.Submitted)
	}
}

func TestBlankPayloadChangesNothing(t *testing.T) {
	h := newHarness(t, []byte{keyBlank, keyNone})

	if got := h.loop.Tick(at(0)); got != OutcomeMiss {
		t.Errorf("blank: got %v, want miss", got)
	}
	if got := h.loop.Tick(at(16)); got != OutcomeMiss {
		t.Errorf("none: got %v, want miss", got)
	}
	d := h.loop.Dedup()
	if d.Seen() != 0 || d.Captured() != 0 {
		t.Errorf("dedup: seen %d captured %d, want 0 0", d.Seen(), d.Captured())
	}
	if s := h.loop.Stats(); s.Detections != 0 || s.Frames != 2 {
		t.Errorf("Stats: got %+v", s)
	}
}

func TestPausedStreamSkipsSampling(t *testing.T) {
	h := newHarness(t, nil)
	h.src.Push(
		video.Step{State: video.Paused},
		video.Step{Frame: video.SolidFrame(keyA, 8, 8)},
	)

	if got := h.loop.Tick(at(0)); got != OutcomeIdle {
		t.Errorf("paused: got %v, want idle", got)
	}
	if h.loop.State() != Paused {
		t.Errorf("state: got %v, want paused", h.loop.State())
	}
	if h.dec.Calls() != 0 {
		t.Errorf("decoder ran while paused: %d calls", h.dec.Calls())
	}

	if got := h.loop.Tick(at(16)); got != OutcomeCaptured {
		t.Errorf("resumed: got %v, want captured", got)
	}
	if h.loop.State() != Running {
		t.Errorf("state: got %v, want running", h.loop.State())
	}

	// ended streams keep polling and pick up again when frames return
	if got := h.loop.Tick(at(32)); got != OutcomeEnded {
		t.Errorf("ended: got %v, want ended", got)
	}
	h.src.Push(video.Step{Frame: video.SolidFrame(keyB, 8, 8)})
	if got := h.loop.Tick(at(48)); got != OutcomeCaptured {
		t.Errorf("after resume: got %v, want captured", got)
	}
}

func TestTransientReadErrorIsIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.src.Push(video.Step{Err: video.ErrNoFrame}, video.Step{Frame: video.SolidFrame(keyA, 8, 8)})

	if got := h.loop.Tick(at(0)); got != OutcomeIdle {
		t.Errorf("no frame: got %v, want idle", got)
	}
	if got := h.loop.Tick(at(16)); got != OutcomeCaptured {
		t.Errorf("next frame: got %v, want captured", got)
	}
}

func TestRunDrivenByRefresh(t *testing.T) {
	refresh := video.NewManual()
	h := newHarness(t, []byte{keyA, keyB}, WithRefresh(refresh))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	refresh.Tick(at(0))
	refresh.Tick(at(16))
	refresh.Tick(at(32)) // blocks until the second tick is processed
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run: got %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}

	h.drain(t)
	if n := len(h.accepted.values()); n != 2 {
		t.Errorf("captures: got %d, want 2", n)
	}
	if h.loop.State() != Stopped {
		t.Errorf("state: got %v, want stopped", h.loop.State())
	}
	if m := h.loop.Metadata(); m.Name != "test" {
		t.Errorf("Metadata: got %+v", m)
	}
	if err := h.loop.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run: got %v, want ErrAlreadyRunning", err)
	}
}

func TestRunStopWhenEnded(t *testing.T) {
	refresh := video.NewManual()
	h := newHarness(t, []byte{keyA}, WithRefresh(refresh), WithStopWhenEnded(true))

	done := make(chan error, 1)
	go func() { done <- h.loop.Run(context.Background()) }()

	refresh.Tick(at(0))
	refresh.Tick(at(16))

	select {
	case err := <-done:
		if !errors.Is(err, video.ErrEnded) {
			t.Errorf("Run: got %v, want ErrEnded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the stream ended")
	}
}

func TestRunOpenFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.src.OpenFunc = func(context.Context) (video.Metadata, error) {
		return video.Metadata{}, video.ErrNoHandle
	}
	if err := h.loop.Run(context.Background()); !errors.Is(err, video.ErrNoHandle) {
		t.Errorf("Run: got %v, want ErrNoHandle", err)
	}
	if h.loop.Stats().Ticks != 0 {
		t.Error("ticks ran after open failed")
	}
}

func TestRunZeroSizeStream(t *testing.T) {
	h := newHarness(t, []byte{keyA, keyA})
	h.src.Meta = video.Metadata{Name: "broken"}

	done := make(chan error, 1)
	go func() { done <- h.loop.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, video.ErrNoHandle) {
			t.Errorf("Run: got %v, want ErrNoHandle", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept polling a zero-size stream")
	}
	if s := h.loop.Stats(); s.Ticks != 0 || s.Frames != 0 {
		t.Errorf("Stats: got %+v, want no ticks", s)
	}
	if h.dec.Calls() != 0 {
		t.Errorf("decoder ran %d times", h.dec.Calls())
	}
}

func TestOutcomeString(t *testing.T) {
	if OutcomeCaptured.String() != "captured" || Outcome(99).String() != "outcome(99)" {
		t.Errorf("Outcome names: got %q, %q", OutcomeCaptured, Outcome(99))
	}
	if Running.String() != "running" || State(9).String() != "state(9)" {
		t.Errorf("State names: got %q, %q", Running, State(9))
	}
}
