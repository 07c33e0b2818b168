package export

import (
	"testing"
	"time"
)

func TestIsStale(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ts   time.Time
		want bool
	}{
		{"fresh", now.Add(-2 * time.Second), false},
		{"exactly at threshold", now.Add(-10 * time.Second), false},
		{"stale", now.Add(-11 * time.Second), true},
		{"zero timestamp", time.Time{}, false},
		{"future", now.Add(time.Minute), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStale(tt.ts, now, DefaultStalenessThreshold); got != tt.want {
				t.Errorf("IsStale() = %v, want %v", got, tt.want)
			}
		})
	}
}
