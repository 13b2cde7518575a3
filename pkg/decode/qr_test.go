package decode

import "testing"

func TestQRBlankFrame(t *testing.T) {
	q := NewQR()
	defer q.Close()

	w, h := 64, 48
	pix := make([]byte, w*h*4)
	for i := range pix {
		pix[i] = 255
	}

	if res, ok := q.Decode(pix, w, h); ok {
		t.Errorf("blank frame: got %+v, want miss", res)
	}
}

func TestQRRejectsBadBuffer(t *testing.T) {
	q := NewQR()
	defer q.Close()

	if _, ok := q.Decode(make([]byte, 10), 64, 48); ok {
		t.Error("short buffer: expected miss")
	}
}

func TestQRClosed(t *testing.T) {
	q := NewQR()
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, ok := q.Decode(make([]byte, 4*4*4), 4, 4); ok {
		t.Error("closed decoder: expected miss")
	}
}
