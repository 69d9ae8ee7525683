package thumbs

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"os/exec"
	"strconv"
	"time"

	"media-index/internal/logging"

	"github.com/rwcarlsen/goexif/exif"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// ffprobeOutput is the subset of ffprobe's JSON we care about.
type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func runProbe(ctx context.Context, path string) (*ffprobeOutput, error) {
	cmd := exec.CommandContext(ctx, ffprobeBin,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("parse ffprobe output for %s: %w", path, err)
	}
	return &probe, nil
}

// probeDuration returns the container duration in seconds, or 0 if it
// cannot be determined.
func probeDuration(ctx context.Context, path string) float64 {
	probe, err := runProbe(ctx, path)
	if err != nil {
		logging.Debug("duration probe failed for %s: %v", path, err)
		return 0
	}
	dur, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil || dur <= 0 {
		return 0
	}
	return dur
}

// VideoDimensions returns the width and height of the first video
// stream, or (0, 0) if no video stream is found.
func VideoDimensions(ctx context.Context, path string) (int, int, error) {
	probe, err := runProbe(ctx, path)
	if err != nil {
		return 0, 0, err
	}
	for _, s := range probe.Streams {
		if s.CodecType == "video" && s.Width > 0 && s.Height > 0 {
			return s.Width, s.Height, nil
		}
	}
	return 0, 0, nil
}

// ImageDimensions reads just enough of an image file to learn its
// pixel dimensions without decoding the full image.
func ImageDimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Warn("failed to close %s: %v", path, err)
		}
	}()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("read dimensions of %s: %w", path, err)
	}
	return cfg.Width, cfg.Height, nil
}

// CaptureTime returns the EXIF original capture time as Unix seconds,
// or 0 when the file carries no usable EXIF data. Missing EXIF is the
// normal case for screenshots and web images, so it is never an error.
func CaptureTime(path string) int64 {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Warn("failed to close %s: %v", path, err)
		}
	}()

	meta, err := exif.Decode(f)
	if err != nil {
		return 0
	}
	taken, err := meta.DateTime()
	if err != nil {
		return 0
	}
	return taken.In(time.UTC).Unix()
}
