package daemon

import (
	"testing"

	"github.com/orchard-sh/orchard/internal/config"
)

func TestNewServer_ConnectionRateLimit(t *testing.T) {
	tests := []struct {
		name      string
		rps       float64
		wantBurst int
	}{
		{"default when unset", 0, 10},
		{"default when negative", -1, 10},
		{"integral rate", 25, 25},
		{"fractional rate keeps a burst of one", 0.5, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewServer(config.DaemonConfig{RateLimitRPS: tc.rps}, NewManager(1))
			if got := s.limiter.Burst(); got != tc.wantBurst {
				t.Fatalf("burst = %d, want %d", got, tc.wantBurst)
			}
		})
	}
}
