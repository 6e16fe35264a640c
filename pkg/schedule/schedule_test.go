package schedule

import (
	"strings"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	base := 30 * time.Second
	max := 1 * time.Hour

	tests := []struct {
		name string
		n    int
		want time.Duration
	}{
		{"zero failures", 0, 30 * time.Second},
		{"one failure", 1, 60 * time.Second},
		{"two failures", 2, 120 * time.Second},
		{"caps at max", 10, 1 * time.Hour},
		{"negative treated as zero", -1, 30 * time.Second},
		{"very large n does not overflow", 1000, 1 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Backoff(tt.n, base, max); got != tt.want {
				t.Errorf("Backoff(%d) = %v, want %v", tt.n, got, tt.want)
			}
		})
	}
}

func TestTruncateError(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		n    int
		want string
	}{
		{"short message unchanged", "decrypt failed", 500, "decrypt failed"},
		{"exact length unchanged", strings.Repeat("a", 500), 500, strings.Repeat("a", 500)},
		{"long message truncated", strings.Repeat("a", 600), 500, strings.Repeat("a", 500)},
		{"empty message", "", 500, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateError(tt.msg, tt.n); got != tt.want {
				t.Errorf("TruncateError() = %q (len %d), want len %d", got, len(got), len(tt.want))
			}
		})
	}
}
