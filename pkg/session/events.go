package session

import (
	"time"

	"github.com/teslashibe/qrsnap/pkg/snapshot"
)

// Event types.
const (
	EventCapture  = "capture"
	EventRejected = "rejected"
	EventState    = "state"
	EventError    = "error"
)

// Event is pushed to clients as JSON.
type Event struct {
	Type      string            `json:"type"`
	SessionID string            `json:"session_id"`
	Time      time.Time         `json:"time"`
	State     string            `json:"state,omitempty"`
	Value     string            `json:"value,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Capture   *snapshot.Capture `json:"capture,omitempty"`
}
