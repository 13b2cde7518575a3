package snapshot

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
)

// EncodePNG encodes an RGBA, row-major buffer as PNG.
func EncodePNG(pix []byte, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 || len(pix) != width*height*4 {
		return nil, fmt.Errorf("snapshot: encode: bad buffer %d bytes for %dx%d", len(pix), width, height)
	}
	img := &image.RGBA{
		Pix:    pix,
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePNG decodes a PNG into a tightly packed RGBA buffer.
func DecodePNG(data []byte) (pix []byte, width, height int, err error) {
	if len(data) == 0 {
		return nil, 0, 0, ErrEmpty
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("snapshot: decode: %w", err)
	}
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != b.Dx()*4 || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return rgba.Pix, b.Dx(), b.Dy(), nil
}
