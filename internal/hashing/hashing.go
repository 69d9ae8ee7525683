package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"math/bits"
	"os"

	"media-index/internal/logging"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // WebP format support
)

const (
	// chunkSize decouples hashing memory from file size.
	chunkSize = 1 << 20

	// dctSize is the downsampled edge length the perceptual hash works on.
	dctSize = 32

	// hashSize is the low-frequency block edge length; hashSize*hashSize
	// coefficients produce the 64-bit fingerprint.
	hashSize = 8
)

// ContentHash computes the SHA-256 digest of the file's full byte
// content, streamed in fixed-size chunks, and returns it hex-encoded.
func ContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Warn("failed to close %s: %v", path, err)
		}
	}()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// PerceptualHash computes a 64-bit DCT fingerprint of an image,
// rendered as 16 lowercase hex digits. The image is decoded to
// grayscale, resized to 32x32, transformed with a 2D DCT, and one bit
// is set per low-frequency coefficient above the mean of the 8x8
// block (DC term excluded).
//
// Any decode failure yields the empty string; the hash is best-effort
// and a record is valid without it.
func PerceptualHash(path string) string {
	img, err := imaging.Open(path)
	if err != nil {
		logging.Debug("perceptual hash: cannot decode %s: %v", path, err)
		return ""
	}

	small := imaging.Resize(imaging.Grayscale(img), dctSize, dctSize, imaging.Linear)

	var px [dctSize][dctSize]float64
	for y := 0; y < dctSize; y++ {
		for x := 0; x < dctSize; x++ {
			// Grayscale pixels have R == G == B.
			px[y][x] = float64(small.Pix[small.PixOffset(x, y)])
		}
	}

	low := dctLowFrequency(&px)

	var sum float64
	for i := 0; i < hashSize; i++ {
		for j := 0; j < hashSize; j++ {
			if i == 0 && j == 0 {
				continue
			}
			sum += low[i][j]
		}
	}
	mean := sum / float64(hashSize*hashSize-1)

	var hash uint64
	for i := 0; i < hashSize; i++ {
		for j := 0; j < hashSize; j++ {
			if low[i][j] > mean {
				hash |= 1 << uint(i*hashSize+j)
			}
		}
	}

	return fmt.Sprintf("%016x", hash)
}

// dctLowFrequency computes the top-left hashSize x hashSize block of
// the orthonormal 2D DCT-II of px. Only the low-frequency
// coefficients are needed, so higher ones are never computed.
func dctLowFrequency(px *[dctSize][dctSize]float64) [hashSize][hashSize]float64 {
	// Rows first: for each row, the first hashSize DCT coefficients.
	var rows [dctSize][hashSize]float64
	for y := 0; y < dctSize; y++ {
		for u := 0; u < hashSize; u++ {
			var sum float64
			for x := 0; x < dctSize; x++ {
				sum += px[y][x] * math.Cos(math.Pi*float64(2*x+1)*float64(u)/(2*dctSize))
			}
			rows[y][u] = sum * dctScale(u)
		}
	}

	// Then columns of the row-transformed data.
	var out [hashSize][hashSize]float64
	for v := 0; v < hashSize; v++ {
		for u := 0; u < hashSize; u++ {
			var sum float64
			for y := 0; y < dctSize; y++ {
				sum += rows[y][u] * math.Cos(math.Pi*float64(2*y+1)*float64(v)/(2*dctSize))
			}
			out[v][u] = sum * dctScale(v)
		}
	}

	return out
}

func dctScale(k int) float64 {
	if k == 0 {
		return math.Sqrt(1.0 / dctSize)
	}
	return math.Sqrt(2.0 / dctSize)
}

// Distance returns the Hamming distance between two hex-encoded
// perceptual hashes, or -1 if either cannot be parsed.
func Distance(a, b string) int {
	var x, y uint64
	if _, err := fmt.Sscanf(a, "%x", &x); err != nil {
		return -1
	}
	if _, err := fmt.Sscanf(b, "%x", &y); err != nil {
		return -1
	}
	return bits.OnesCount64(x ^ y)
}
