package scan

import "errors"

// Errors returned by the loop and validator.
var (
	ErrNoSource       = errors.New("scan: missing frame source")
	ErrNoDecoder      = errors.New("scan: missing decoder")
	ErrNoValidator    = errors.New("scan: missing validator")
	ErrAlreadyRunning = errors.New("scan: loop already running")
	ErrClosed         = errors.New("scan: validator closed")
)
