package snapshot

import (
	"sync"
	"time"
)

// Collection is the append-only set of captures accepted in one session.
// Validations finish concurrently, so every method is safe for concurrent use.
type Collection struct {
	urlPrefix string

	mu       sync.RWMutex
	items    []Capture
	byName   map[string]int
	released bool
}

// NewCollection creates an empty collection. Display URLs are
// urlPrefix + filename; an empty prefix leaves URL unset.
func NewCollection(urlPrefix string) *Collection {
	return &Collection{urlPrefix: urlPrefix, byName: make(map[string]int)}
}

// Add stores an accepted capture and returns the stored record. Value,
// Decoded, Corners, Data and CapturedAt are taken from draft; the rest is
// assigned here. The millisecond stamp is bumped until the filename is unique.
func (c *Collection) Add(draft Capture) (Capture, error) {
	if len(draft.Data) == 0 {
		return Capture{}, ErrEmpty
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return Capture{}, ErrReleased
	}

	t := draft.CapturedAt.Truncate(time.Millisecond)
	name := Filename(t)
	for {
		if _, taken := c.byName[name]; !taken {
			break
		}
		t = t.Add(time.Millisecond)
		name = Filename(t)
	}

	capture := Capture{
		Value:      draft.Value,
		Decoded:    draft.Decoded,
		Corners:    draft.Corners,
		Filename:   name,
		Size:       len(draft.Data),
		CapturedAt: t,
		Data:       draft.Data,
	}
	if c.urlPrefix != "" {
		capture.URL = c.urlPrefix + name
	}
	c.byName[name] = len(c.items)
	c.items = append(c.items, capture)
	return capture, nil
}

// List returns captures in acceptance order.
func (c *Collection) List() []Capture {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Capture, len(c.items))
	copy(out, c.items)
	return out
}

// Get returns a capture by filename.
func (c *Collection) Get(name string) (Capture, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.released {
		return Capture{}, ErrNotFound
	}
	i, ok := c.byName[name]
	if !ok {
		return Capture{}, ErrNotFound
	}
	return c.items[i], nil
}

// Len returns the number of captures.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Release drops image data and revokes display handles. Later Adds fail.
func (c *Collection) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
	c.items = nil
	c.byName = make(map[string]int)
}
