package hashing

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func writeGradientPNG(t *testing.T, name string, width, height int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(255 * x / width),
				G: uint8(255 * y / height),
				B: 64,
				A: 255,
			})
		}
	}
	path := filepath.Join(t.TempDir(), name)
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

func TestContentHashKnownVector(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "hello.bin", []byte("hello world"))
	got, err := ContentHash(path)
	if err != nil {
		t.Fatalf("ContentHash() error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Errorf("ContentHash() = %q, want %q", got, want)
	}
}

func TestContentHashIdenticalBytesSameHash(t *testing.T) {
	t.Parallel()

	data := []byte("the same bytes in two places")
	a := writeFile(t, "a.bin", data)
	b := writeFile(t, "b.bin", data)

	ha, err := ContentHash(a)
	if err != nil {
		t.Fatalf("ContentHash(a) error = %v", err)
	}
	hb, err := ContentHash(b)
	if err != nil {
		t.Fatalf("ContentHash(b) error = %v", err)
	}
	if ha != hb {
		t.Errorf("hashes differ for identical content: %q vs %q", ha, hb)
	}
}

func TestContentHashMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := ContentHash(filepath.Join(t.TempDir(), "absent.bin")); err == nil {
		t.Error("ContentHash() on missing file: want error, got nil")
	}
}

func TestPerceptualHashFormat(t *testing.T) {
	t.Parallel()

	path := writeGradientPNG(t, "grad.png", 64, 64)
	got := PerceptualHash(path)
	if len(got) != 16 {
		t.Fatalf("PerceptualHash() = %q, want 16 hex digits", got)
	}
	if got == "0000000000000000" {
		t.Error("gradient image produced an all-zero hash")
	}
	if again := PerceptualHash(path); again != got {
		t.Errorf("hash not deterministic: %q vs %q", got, again)
	}
}

func TestPerceptualHashResizeTolerant(t *testing.T) {
	t.Parallel()

	small := writeGradientPNG(t, "small.png", 64, 64)
	large := writeGradientPNG(t, "large.png", 256, 256)

	hs := PerceptualHash(small)
	hl := PerceptualHash(large)
	if d := Distance(hs, hl); d < 0 || d > 8 {
		t.Errorf("Distance(%q, %q) = %d, want a small distance for the same scene at two sizes", hs, hl, d)
	}
}

func TestPerceptualHashDecodeFailure(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "corrupt.png", []byte("not an image at all"))
	if got := PerceptualHash(path); got != "" {
		t.Errorf("PerceptualHash(corrupt) = %q, want empty string", got)
	}
	if got := PerceptualHash(filepath.Join(t.TempDir(), "absent.png")); got != "" {
		t.Errorf("PerceptualHash(missing) = %q, want empty string", got)
	}
}

func TestDistance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"identical", "00ff00ff00ff00ff", "00ff00ff00ff00ff", 0},
		{"all bits differ", "0000000000000000", "ffffffffffffffff", 64},
		{"one bit", "0000000000000000", "0000000000000001", 1},
		{"unparseable a", "zzzz", "0000000000000000", -1},
		{"unparseable b", "0000000000000000", "", -1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Distance(tt.a, tt.b); got != tt.want {
				t.Errorf("Distance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
