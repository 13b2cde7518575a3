package video

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// H.264 NAL unit types the depacketizer cares about.
const (
	nalIDR = 5
	nalSPS = 7
	nalPPS = 8
)

var startCode = []byte{0, 0, 0, 1}

// splitAnnexB splits an Annex-B byte stream into NAL units without start codes.
func splitAnnexB(data []byte) [][]byte {
	var nals [][]byte
	i := 0
	start := -1
	for i+3 <= len(data) {
		n := 0
		switch {
		case i+4 <= len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1:
			n = 4
		case data[i] == 0 && data[i+1] == 0 && data[i+2] == 1:
			n = 3
		}
		if n == 0 {
			i++
			continue
		}
		if start >= 0 && i > start {
			nals = append(nals, data[start:i])
		}
		i += n
		start = i
	}
	if start >= 0 && start < len(data) {
		nals = append(nals, data[start:])
	}
	return nals
}

// nalType returns the type of a NAL unit (without start code).
func nalType(nal []byte) byte {
	if len(nal) == 0 {
		return 0
	}
	return nal[0] & 0x1F
}

// accessUnits accumulates a decodable H.264 run: the latest parameter sets,
// the latest IDR and everything after it.
type accessUnits struct {
	sps, pps []byte
	buf      bytes.Buffer
	keyed    bool
}

// Write adds Annex-B data from one depacketized RTP payload.
func (a *accessUnits) Write(annexB []byte) {
	for _, nal := range splitAnnexB(annexB) {
		switch nalType(nal) {
		case nalSPS:
			a.sps = append(a.sps[:0], nal...)
		case nalPPS:
			a.pps = append(a.pps[:0], nal...)
		case nalIDR:
			a.buf.Reset()
			a.keyed = true
			a.buf.Write(startCode)
			a.buf.Write(nal)
		default:
			if a.keyed {
				a.buf.Write(startCode)
				a.buf.Write(nal)
			}
		}
	}
}

// Ready reports whether a decode can succeed.
func (a *accessUnits) Ready() bool {
	return a.keyed && len(a.sps) > 0 && len(a.pps) > 0
}

// Bytes returns parameter sets followed by the buffered run.
func (a *accessUnits) Bytes() []byte {
	var out bytes.Buffer
	out.Grow(len(a.sps) + len(a.pps) + a.buf.Len() + 8)
	out.Write(startCode)
	out.Write(a.sps)
	out.Write(startCode)
	out.Write(a.pps)
	out.Write(a.buf.Bytes())
	return out.Bytes()
}

// decodeH264 pipes an Annex-B run through ffmpeg and returns the last
// decoded picture as JPEG.
func decodeH264(ctx context.Context, data []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-loglevel", "error",
		"-f", "h264",
		"-i", "pipe:0",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "2",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// ffmpeg exits non-zero when the run ends mid-frame; keep what it produced
		if stdout.Len() == 0 {
			return nil, fmt.Errorf("video: ffmpeg: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
	}
	jpg := lastJPEG(stdout.Bytes())
	if jpg == nil {
		return nil, ErrNoFrame
	}
	return jpg, nil
}

// lastJPEG returns the last complete JPEG in a concatenated MJPEG stream.
func lastJPEG(stream []byte) []byte {
	soi := []byte{0xFF, 0xD8, 0xFF}
	eoi := []byte{0xFF, 0xD9}
	for end := len(stream); end > 0; {
		i := bytes.LastIndex(stream[:end], soi)
		if i < 0 {
			return nil
		}
		if j := bytes.LastIndex(stream[i:], eoi); j > 0 {
			return stream[i : i+j+2]
		}
		end = i
	}
	return nil
}

// grayFrame reports frames that are almost certainly decoder garbage:
// near black or flat mid-gray, as ffmpeg emits before a clean keyframe.
func grayFrame(f *Frame) bool {
	if f.Empty() || f.Width < 16 || f.Height < 16 {
		return true
	}
	var r, g, b, n int
	stepX, stepY := f.Width/10, f.Height/10
	for y := 0; y < f.Height; y += stepY {
		for x := 0; x < f.Width; x += stepX {
			i := (y*f.Width + x) * 4
			r += int(f.Pix[i])
			g += int(f.Pix[i+1])
			b += int(f.Pix[i+2])
			n++
		}
	}
	r, g, b = r/n, g/n, b/n
	if r < 30 && g < 30 && b < 30 {
		return true
	}
	diff := abs(r-g) + abs(g-b) + abs(r-b)
	return diff < 15 && r > 100 && r < 150
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
