package thumbs

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"media-index/internal/logging"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // WebP format support
)

// jpegQuality is the encode quality for generated thumbnails.
const jpegQuality = 85

// ffmpegBin and ffprobeBin are vars so tests can point them at stubs.
var (
	ffmpegBin  = "ffmpeg"
	ffprobeBin = "ffprobe"
)

// Generator produces content-addressed JPEG thumbnails in a single
// directory. Thumbnails are named after the source file's content
// hash, so identical bytes share one thumbnail regardless of path.
type Generator struct {
	// Dir is the directory thumbnails are written to.
	Dir string

	// MaxEdge bounds the longer thumbnail edge in pixels.
	MaxEdge int
}

// New returns a Generator writing <contentHash>.jpg files under dir.
func New(dir string, maxEdge int) *Generator {
	return &Generator{Dir: dir, MaxEdge: maxEdge}
}

// Path returns the thumbnail path for a content hash. The file may or
// may not exist yet.
func (g *Generator) Path(contentHash string) string {
	return filepath.Join(g.Dir, contentHash+".jpg")
}

// Exists reports whether the thumbnail for a content hash is on disk.
func (g *Generator) Exists(contentHash string) bool {
	info, err := os.Stat(g.Path(contentHash))
	return err == nil && info.Mode().IsRegular()
}

// FromImage decodes an image file and writes its thumbnail, returning
// the thumbnail path.
func (g *Generator) FromImage(srcPath, contentHash string) (string, error) {
	img, err := imaging.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", srcPath, err)
	}
	return g.write(img, contentHash)
}

// FromVideo extracts a representative frame with ffmpeg and writes
// its thumbnail, returning the thumbnail path. The frame is taken at
// the stream midpoint when the duration is known, otherwise from the
// start.
func (g *Generator) FromVideo(ctx context.Context, srcPath, contentHash string) (string, error) {
	args := []string{"-v", "error"}
	if dur := probeDuration(ctx, srcPath); dur > 0 {
		// Seeking before -i is fast (keyframe seek) and accurate
		// enough for a thumbnail.
		args = append(args, "-ss", strconv.FormatFloat(dur/2, 'f', 3, 64))
	}
	args = append(args,
		"-i", srcPath,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)

	cmd := exec.CommandContext(ctx, ffmpegBin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffmpeg frame extraction for %s: %w (%s)", srcPath, err, stderr.String())
	}

	frame, err := imaging.Decode(&stdout)
	if err != nil {
		return "", fmt.Errorf("decode extracted frame for %s: %w", srcPath, err)
	}

	return g.write(frame, contentHash)
}

// write scales img to fit MaxEdge, flattens any alpha onto an opaque
// background, and encodes the JPEG atomically (temp file + rename) so
// a concurrent reader never sees a partial thumbnail.
func (g *Generator) write(img image.Image, contentHash string) (string, error) {
	bounds := img.Bounds()
	if bounds.Dx() > g.MaxEdge || bounds.Dy() > g.MaxEdge {
		img = imaging.Fit(img, g.MaxEdge, g.MaxEdge, imaging.Lanczos)
		bounds = img.Bounds()
	}

	// JPEG has no alpha channel; composite onto white so transparent
	// regions do not come out black.
	flat := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)

	if err := os.MkdirAll(g.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create thumbnail dir: %w", err)
	}

	dest := g.Path(contentHash)
	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create temp thumbnail %s: %w", tmp, err)
	}
	// Encode explicitly: the temp name's extension must not pick the
	// output format.
	encErr := imaging.Encode(f, flat, imaging.JPEG, imaging.JPEGQuality(jpegQuality))
	if closeErr := f.Close(); encErr == nil {
		encErr = closeErr
	}
	if encErr != nil {
		if rmErr := os.Remove(tmp); rmErr != nil {
			logging.Warn("failed to remove temp thumbnail %s: %v", tmp, rmErr)
		}
		return "", fmt.Errorf("encode thumbnail %s: %w", dest, encErr)
	}
	if err := os.Rename(tmp, dest); err != nil {
		if rmErr := os.Remove(tmp); rmErr != nil {
			logging.Warn("failed to remove temp thumbnail %s: %v", tmp, rmErr)
		}
		return "", fmt.Errorf("finalize thumbnail %s: %w", dest, err)
	}

	return dest, nil
}
