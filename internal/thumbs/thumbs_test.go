package thumbs

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writePNG(t *testing.T, dir, name string, width, height int, fill color.NRGBA) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, fill)
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", name, err)
	}
	return path
}

func decodeJPEG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return img
}

func TestFromImageBoundsAndNaming(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := writePNG(t, dir, "big.png", 800, 400, color.NRGBA{R: 200, G: 50, B: 50, A: 255})

	gen := New(filepath.Join(dir, "thumbnails"), 240)
	got, err := gen.FromImage(src, "cafebabe")
	if err != nil {
		t.Fatalf("FromImage() error = %v", err)
	}
	if got != gen.Path("cafebabe") {
		t.Errorf("thumbnail path = %q, want %q", got, gen.Path("cafebabe"))
	}
	if !strings.HasSuffix(got, "cafebabe.jpg") {
		t.Errorf("thumbnail not content-addressed: %q", got)
	}
	if !gen.Exists("cafebabe") {
		t.Error("Exists() = false after generation")
	}

	thumb := decodeJPEG(t, got)
	b := thumb.Bounds()
	if b.Dx() > 240 || b.Dy() > 240 {
		t.Errorf("thumbnail %dx%d exceeds max edge 240", b.Dx(), b.Dy())
	}
	// Aspect ratio preserved: 800x400 fits 240 as 240x120.
	if b.Dx() != 240 || b.Dy() != 120 {
		t.Errorf("thumbnail %dx%d, want 240x120", b.Dx(), b.Dy())
	}

	// Only the final file remains: the write goes through a temp file
	// that must be renamed away, never left behind.
	entries, err := os.ReadDir(gen.Dir)
	if err != nil {
		t.Fatalf("read thumbnails dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "cafebabe.jpg" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("thumbnails dir contains %v, want exactly [cafebabe.jpg]", names)
	}
}

func TestFromImageSmallSourceNotUpscaled(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := writePNG(t, dir, "small.png", 100, 100, color.NRGBA{R: 10, G: 200, B: 10, A: 255})

	gen := New(filepath.Join(dir, "thumbnails"), 480)
	got, err := gen.FromImage(src, "aa11")
	if err != nil {
		t.Fatalf("FromImage() error = %v", err)
	}
	b := decodeJPEG(t, got).Bounds()
	if b.Dx() != 100 || b.Dy() != 100 {
		t.Errorf("small source was resized to %dx%d, want 100x100", b.Dx(), b.Dy())
	}
}

func TestFromImageFlattensTransparency(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// Fully transparent source: the thumbnail must come out opaque
	// white, not black.
	src := writePNG(t, dir, "clear.png", 50, 50, color.NRGBA{A: 0})

	gen := New(filepath.Join(dir, "thumbnails"), 240)
	got, err := gen.FromImage(src, "00ff")
	if err != nil {
		t.Fatalf("FromImage() error = %v", err)
	}

	thumb := decodeJPEG(t, got)
	r, g, b, _ := thumb.At(25, 25).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Errorf("transparent pixel flattened to (%d,%d,%d), want near-white", r>>8, g>>8, b>>8)
	}
}

func TestFromImageDecodeFailure(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "corrupt.jpg")
	if err := os.WriteFile(src, []byte("definitely not a jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	gen := New(filepath.Join(dir, "thumbnails"), 240)
	if _, err := gen.FromImage(src, "beef"); err == nil {
		t.Error("FromImage(corrupt) error = nil, want decode error")
	}
	if gen.Exists("beef") {
		t.Error("failed generation left a thumbnail file behind")
	}
}

func TestImageDimensions(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := writePNG(t, dir, "dims.png", 320, 180, color.NRGBA{R: 1, G: 2, B: 3, A: 255})

	w, h, err := ImageDimensions(src)
	if err != nil {
		t.Fatalf("ImageDimensions() error = %v", err)
	}
	if w != 320 || h != 180 {
		t.Errorf("ImageDimensions() = %dx%d, want 320x180", w, h)
	}

	if _, _, err := ImageDimensions(filepath.Join(dir, "absent.png")); err == nil {
		t.Error("ImageDimensions(missing) error = nil, want error")
	}
}

func TestCaptureTimeWithoutEXIF(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := writePNG(t, dir, "noexif.png", 10, 10, color.NRGBA{A: 255})

	if got := CaptureTime(src); got != 0 {
		t.Errorf("CaptureTime(no EXIF) = %d, want 0", got)
	}
	if got := CaptureTime(filepath.Join(dir, "absent.jpg")); got != 0 {
		t.Errorf("CaptureTime(missing) = %d, want 0", got)
	}
}

func TestPathIsStable(t *testing.T) {
	t.Parallel()

	gen := New("/thumbs", 240)
	if got := gen.Path("abc123"); got != filepath.Join("/thumbs", "abc123.jpg") {
		t.Errorf("Path() = %q", got)
	}
}
