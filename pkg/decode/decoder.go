// Package decode turns RGBA pixel buffers into QR code payloads.
package decode

import (
	"image"
	"strings"
)

// Result is a single decoded symbol.
type Result struct {
	Text   string        // Raw payload, untrimmed
	Points []image.Point // Symbol corners in pixel coordinates, when known
}

// Decoder is the interface for QR decoding backends.
type Decoder interface {
	// Decode looks for one symbol in an RGBA, row-major buffer of
	// width*height*4 bytes. ok is false when nothing was found.
	Decode(pix []byte, width, height int) (res Result, ok bool)

	// Close releases resources
	Close() error
}

// Func adapts a plain function to the Decoder interface.
type Func func(pix []byte, width, height int) (Result, bool)

// Decode calls f.
func (f Func) Decode(pix []byte, width, height int) (Result, bool) {
	return f(pix, width, height)
}

// Close is a no-op.
func (f Func) Close() error { return nil }

// Normalize trims a payload. ok is false for empty or whitespace-only text,
// which must never reach dedup state.
func Normalize(text string) (value string, ok bool) {
	value = strings.TrimSpace(text)
	return value, value != ""
}

// ValidBuffer reports whether pix has exactly the size an RGBA frame of
// the given dimensions needs.
func ValidBuffer(pix []byte, width, height int) bool {
	return width > 0 && height > 0 && len(pix) == width*height*4
}
