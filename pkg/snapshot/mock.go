package snapshot

import (
	"context"
	"sync"
)

// MockSink implements Sink for testing.
type MockSink struct {
	// DeliverFunc is called when Deliver is invoked.
	// If nil, Deliver succeeds.
	DeliverFunc func(ctx context.Context, c Capture) error

	mu        sync.Mutex
	delivered []Capture
}

// Deliver records c and calls DeliverFunc.
func (m *MockSink) Deliver(ctx context.Context, c Capture) error {
	m.mu.Lock()
	m.delivered = append(m.delivered, c)
	fn := m.DeliverFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, c)
	}
	return nil
}

// Delivered returns every capture passed to Deliver, in call order.
func (m *MockSink) Delivered() []Capture {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Capture, len(m.delivered))
	copy(out, m.delivered)
	return out
}
