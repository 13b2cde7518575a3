package scan

import "time"

// DedupState decides which detections may trigger a capture.
//
// Two independent gates apply: a cooldown keyed on the most recent
// sighting of a value, and a permanent set of values that already had a
// capture attempt. A value leaves cooldown on its own; it never leaves the
// captured set for the life of the session.
//
// DedupState has a single owner, the loop goroutine, and is not safe for
// concurrent use.
type DedupState struct {
	captured   map[string]struct{}
	lastSeenAt map[string]time.Time
}

// NewDedupState creates empty state for a new session.
func NewDedupState() *DedupState {
	return &DedupState{
		captured:   make(map[string]struct{}),
		lastSeenAt: make(map[string]time.Time),
	}
}

// ShouldSkip reports whether value was last seen less than cooldown before now.
func (d *DedupState) ShouldSkip(value string, now time.Time, cooldown time.Duration) bool {
	last, ok := d.lastSeenAt[value]
	return ok && now.Sub(last) < cooldown
}

// RecordSeen sets the last sighting of value to now. Called on every
// detection, captured or not.
func (d *DedupState) RecordSeen(value string, now time.Time) {
	d.lastSeenAt[value] = now
}

// LastSeen returns the last sighting of value.
func (d *DedupState) LastSeen(value string) (time.Time, bool) {
	t, ok := d.lastSeenAt[value]
	return t, ok
}

// IsNew reports whether value has not had a capture attempt yet.
func (d *DedupState) IsNew(value string) bool {
	_, ok := d.captured[value]
	return !ok
}

// MarkCaptured adds value to the captured set. Idempotent.
func (d *DedupState) MarkCaptured(value string) {
	d.captured[value] = struct{}{}
}

// Captured returns how many values had a capture attempt.
func (d *DedupState) Captured() int { return len(d.captured) }

// Seen returns how many distinct values were detected.
func (d *DedupState) Seen() int { return len(d.lastSeenAt) }
