package workers

import (
	"runtime"
	"testing"
)

func TestCount(t *testing.T) {
	available := runtime.GOMAXPROCS(0)

	tests := []struct {
		name       string
		multiplier float64
		limit      int
		want       int
	}{
		{"cpu bound", 1.0, 0, available},
		{"io bound", 2.0, 0, available * 2},
		{"limit respected", 2.0, 1, 1},
		{"never below one", 0.1, 0, max(1, int(float64(available)*0.1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Count(tt.multiplier, tt.limit); got != tt.want {
				t.Errorf("Count(%v, %d) = %d, want %d", tt.multiplier, tt.limit, got, tt.want)
			}
		})
	}
}

func TestCountEnvOverride(t *testing.T) {
	t.Setenv("THUMBNAIL_WORKERS", "3")
	if got := Count(1.0, 0); got != 3 {
		t.Errorf("Count() with override = %d, want 3", got)
	}
	if got := Count(1.0, 2); got != 2 {
		t.Errorf("Count() override above limit = %d, want 2", got)
	}

	t.Setenv("THUMBNAIL_WORKERS", "bogus")
	if got := Count(1.0, 0); got != runtime.GOMAXPROCS(0) {
		t.Errorf("Count() with bad override = %d, want %d", got, runtime.GOMAXPROCS(0))
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
