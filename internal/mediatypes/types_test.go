package mediatypes

import "testing"

func TestKindForPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want Kind
	}{
		{"/m/photo.jpg", KindImage},
		{"/m/PHOTO.JPEG", KindImage},
		{"/m/anim.webp", KindImage},
		{"/m/scan.tiff", KindImage},
		{"/m/clip.mp4", KindVideo},
		{"/m/clip.MKV", KindVideo},
		{"/m/old.3gp", KindVideo},
		{"/m/song.mp3", KindAudio},
		{"/m/song.FLAC", KindAudio},
		{"/m/doc.pdf", KindUnknown},
		{"/m/noext", KindUnknown},
		{"/m/.hidden", KindUnknown},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			if got := KindForPath(tt.path); got != tt.want {
				t.Errorf("KindForPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestIsMediaPath(t *testing.T) {
	t.Parallel()

	if !IsMediaPath("/m/a.png") {
		t.Error("IsMediaPath(a.png) = false")
	}
	if IsMediaPath("/m/a.txt") {
		t.Error("IsMediaPath(a.txt) = true")
	}
}

func TestMimeForExt(t *testing.T) {
	t.Parallel()

	if got := MimeForExt(".jpg"); got != "image/jpeg" {
		t.Errorf("MimeForExt(.jpg) = %q", got)
	}
	if got := MimeForExt(".xyz"); got != "application/octet-stream" {
		t.Errorf("MimeForExt(.xyz) = %q, want fallback", got)
	}
}
