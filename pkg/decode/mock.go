package decode

import "sync"

// Mock implements Decoder for testing.
type Mock struct {
	// DecodeFunc is called when Decode is invoked.
	// If nil, every frame is a miss.
	DecodeFunc func(pix []byte, width, height int) (Result, bool)

	mu     sync.Mutex
	calls  int
	closed bool
}

// NewMock returns a mock that maps the first pixel's red channel to a
// payload through table. Frames whose key is missing decode as a miss.
func NewMock(table map[byte]string) *Mock {
	return &Mock{
		DecodeFunc: func(pix []byte, width, height int) (Result, bool) {
			if len(pix) == 0 {
				return Result{}, false
			}
			text, ok := table[pix[0]]
			return Result{Text: text}, ok
		},
	}
}

// Decode calls DecodeFunc and counts the call.
func (m *Mock) Decode(pix []byte, width, height int) (Result, bool) {
	m.mu.Lock()
	m.calls++
	fn := m.DecodeFunc
	m.mu.Unlock()
	if fn == nil {
		return Result{}, false
	}
	return fn(pix, width, height)
}

// Close marks the mock closed.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns how many times Decode ran.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
