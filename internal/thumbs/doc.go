// Package thumbs generates content-addressed JPEG thumbnails for
// image and video files, and probes media files for dimensions,
// duration, and EXIF capture time. Video work shells out to ffmpeg
// and ffprobe.
package thumbs
