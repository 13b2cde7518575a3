package decode

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// QR decodes symbols with OpenCV's QRCodeDetector.
// Safe for concurrent use: the loop and pending validations share one instance.
type QR struct {
	detector gocv.QRCodeDetector
	mu       sync.Mutex // Protects detector
	closed   bool
}

// NewQR creates a QR decoder.
func NewQR() *QR {
	return &QR{detector: gocv.NewQRCodeDetector()}
}

// Decode converts the RGBA buffer to BGR and runs detect-and-decode.
func (q *QR) Decode(pix []byte, width, height int) (Result, bool) {
	if !ValidBuffer(pix, width, height) {
		return Result{}, false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Result{}, false
	}

	rgba, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC4, pix)
	if err != nil {
		return Result{}, false
	}
	defer rgba.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)

	points := gocv.NewMat()
	defer points.Close()
	straight := gocv.NewMat()
	defer straight.Close()

	text := q.detector.DetectAndDecode(bgr, &points, &straight)
	if text == "" {
		return Result{}, false
	}
	return Result{Text: text, Points: corners(points)}, true
}

// corners reads the 2-channel float point list the detector fills in.
func corners(points gocv.Mat) []image.Point {
	if points.Empty() {
		return nil
	}
	n := points.Rows() * points.Cols()
	out := make([]image.Point, 0, n)
	for i := 0; i < n; i++ {
		row, col := 0, i
		if points.Cols() == 1 {
			row, col = i, 0
		}
		v := points.GetVecfAt(row, col)
		if len(v) < 2 {
			continue
		}
		out = append(out, image.Pt(int(v[0]), int(v[1])))
	}
	return out
}

// Close releases the detector.
func (q *QR) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	if err := q.detector.Close(); err != nil {
		return fmt.Errorf("decode: close detector: %w", err)
	}
	return nil
}
