package video

import (
	"fmt"

	"gocv.io/x/gocv"
)

// matToFrame converts a BGR Mat into dst as RGBA.
func matToFrame(bgr gocv.Mat, rgba *gocv.Mat, dst *Frame) error {
	if bgr.Empty() {
		return ErrNoFrame
	}
	gocv.CvtColor(bgr, rgba, gocv.ColorBGRToRGBA)

	w, h := rgba.Cols(), rgba.Rows()
	data := rgba.ToBytes()
	if len(data) != w*h*4 {
		return fmt.Errorf("video: unexpected RGBA size %d for %dx%d", len(data), w, h)
	}
	copy(dst.Reset(w, h), data)
	return nil
}

// decodeJPEG decodes an encoded image into dst as RGBA.
func decodeJPEG(data []byte, dst *Frame) error {
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("video: decode image: %w", err)
	}
	defer img.Close()

	rgba := gocv.NewMat()
	defer rgba.Close()
	return matToFrame(img, &rgba, dst)
}
