package snapshot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
)

func solid(w, h int, r byte) []byte {
	pix := make([]byte, w*h*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = r, 10, 20, 255
	}
	return pix
}

func TestFilename(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	name := Filename(at)
	if name != "qrcode_1700000000123.png" {
		t.Errorf("Filename: got %q", name)
	}
	ms, err := ParseFilename(name)
	if err != nil || ms != 1700000000123 {
		t.Errorf("ParseFilename: got (%d, %v)", ms, err)
	}
	for _, bad := range []string{"qrcode_x.png", "photo_1.png", "qrcode_1.jpg"} {
		if _, err := ParseFilename(bad); err == nil {
			t.Errorf("ParseFilename(%q): expected error", bad)
		}
	}
}

func TestPNGRoundTripKeepsPixels(t *testing.T) {
	pix := solid(5, 3, 200)
	pix[4*7] = 1 // one odd pixel

	data, err := EncodePNG(pix, 5, 3)
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	got, w, h, err := DecodePNG(data)
	if err != nil {
		t.Fatalf("DecodePNG: %v", err)
	}
	if w != 5 || h != 3 {
		t.Fatalf("size: got %dx%d, want 5x3", w, h)
	}
	if !bytes.Equal(got, pix) {
		t.Error("pixels changed across encode/decode")
	}
}

func TestPNGErrors(t *testing.T) {
	if _, err := EncodePNG(make([]byte, 3), 1, 1); err == nil {
		t.Error("EncodePNG(short): expected error")
	}
	if _, _, _, err := DecodePNG(nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("DecodePNG(nil): got %v, want ErrEmpty", err)
	}
	if _, _, _, err := DecodePNG([]byte("not a png")); err == nil {
		t.Error("DecodePNG(garbage): expected error")
	}
}

func TestCollectionUniqueNames(t *testing.T) {
	c := NewCollection("/api/snapshots/")
	at := time.UnixMilli(5000)

	a, err := c.Add(Capture{Value: "A", Decoded: "A", Data: []byte{1}, CapturedAt: at})
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Add(Capture{Value: "B", Decoded: "B", Data: []byte{2}, CapturedAt: at})
	if err != nil {
		t.Fatal(err)
	}
	if a.Filename != "qrcode_5000.png" || b.Filename != "qrcode_5001.png" {
		t.Errorf("filenames: got %q, %q", a.Filename, b.Filename)
	}
	if b.URL != "/api/snapshots/qrcode_5001.png" {
		t.Errorf("URL: got %q", b.URL)
	}

	got, err := c.Get("qrcode_5001.png")
	if err != nil || got.Value != "B" {
		t.Errorf("Get: got (%+v, %v)", got, err)
	}
	if _, err := c.Get("qrcode_1.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing): got %v, want ErrNotFound", err)
	}

	list := c.List()
	if len(list) != 2 || list[0].Value != "A" || list[1].Value != "B" {
		t.Errorf("List: got %+v", list)
	}
}

func TestCollectionConcurrentAdd(t *testing.T) {
	c := NewCollection("")
	at := time.UnixMilli(1)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Add(Capture{Value: "v", Decoded: "v", Data: []byte{1}, CapturedAt: at}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, item := range c.List() {
		if seen[item.Filename] {
			t.Fatalf("duplicate filename %s", item.Filename)
		}
		seen[item.Filename] = true
	}
	if len(seen) != 50 {
		t.Errorf("unique names: got %d, want 50", len(seen))
	}
}

func TestCollectionRelease(t *testing.T) {
	c := NewCollection("/x/")
	item, _ := c.Add(Capture{Value: "A", Decoded: "A", Data: []byte{1}, CapturedAt: time.Now()})

	c.Release()
	if c.Len() != 0 {
		t.Errorf("Len after release: got %d, want 0", c.Len())
	}
	if _, err := c.Get(item.Filename); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after release: got %v, want ErrNotFound", err)
	}
	if _, err := c.Add(Capture{Value: "B", Decoded: "B", Data: []byte{1}, CapturedAt: time.Now()}); !errors.Is(err, ErrReleased) {
		t.Errorf("Add after release: got %v, want ErrReleased", err)
	}
	if _, err := NewCollection("").Add(Capture{Value: "A", CapturedAt: time.Now()}); !errors.Is(err, ErrEmpty) {
		t.Errorf("Add(no data): got %v, want ErrEmpty", err)
	}
}

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("zip.NewReader: %v", err)
	}
	files := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		b, _ := io.ReadAll(rc)
		rc.Close()
		files[f.Name] = b
	}
	return files
}

func TestWriteArchiveEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteArchive(&buf, nil); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	files := readArchive(t, buf.Bytes())
	if len(files) != 1 {
		t.Fatalf("entries: got %d, want 1", len(files))
	}
	if _, ok := files[ArchiveFolder]; !ok {
		t.Errorf("missing folder entry %q, got %v", ArchiveFolder, files)
	}
}

func TestWriteArchive(t *testing.T) {
	c := NewCollection("")
	c.Add(Capture{Value: "A", Decoded: "A", Data: []byte("png-a"), CapturedAt: time.UnixMilli(10)})
	c.Add(Capture{Value: "B", Decoded: "B", Data: []byte("png-b"), CapturedAt: time.UnixMilli(20)})

	var buf bytes.Buffer
	if err := WriteArchive(&buf, c.List()); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	files := readArchive(t, buf.Bytes())
	if got := string(files["qrcode_snapshots/qrcode_10.png"]); got != "png-a" {
		t.Errorf("qrcode_10.png: got %q", got)
	}
	if got := string(files["qrcode_snapshots/qrcode_20.png"]); got != "png-b" {
		t.Errorf("qrcode_20.png: got %q", got)
	}
}

func TestDirSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	sink := NewDirSink(dir)
	c := Capture{Filename: "qrcode_1.png", Data: []byte("png")}

	if err := sink.Deliver(context.Background(), c); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "qrcode_1.png"))
	if err != nil || string(got) != "png" {
		t.Errorf("file: got (%q, %v)", got, err)
	}

	bad := Capture{Filename: "../escape.png", Data: []byte("x")}
	if err := sink.Deliver(context.Background(), bad); err == nil {
		t.Error("Deliver(../escape.png): expected error")
	}

	path, err := sink.WriteArchive([]Capture{c})
	if err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	if filepath.Base(path) != ArchiveName {
		t.Errorf("archive path: got %s", path)
	}
	data, _ := os.ReadFile(path)
	if files := readArchive(t, data); len(files) != 2 {
		t.Errorf("archive entries: got %d, want 2", len(files))
	}
}

func TestMulti(t *testing.T) {
	ok := &MockSink{}
	failing := &MockSink{DeliverFunc: func(context.Context, Capture) error {
		return errors.New("offline")
	}}
	m := NewMulti(nil, failing, nil, ok)

	err := m.Deliver(context.Background(), Capture{Filename: "qrcode_1.png"})
	if err == nil {
		t.Error("Deliver: expected joined error")
	}
	if len(ok.Delivered()) != 1 {
		t.Error("a failing sink stopped delivery to the next one")
	}
	if len(failing.Delivered()) != 1 {
		t.Error("failing sink not called")
	}
}
