package httpx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestSigninLimitWorstCaseWindow(t *testing.T) {
	cfg := SigninLimit
	rl := &rateLimiter{
		rate:        rate.Limit(float64(cfg.RequestsPerWindow) / cfg.Window.Seconds()),
		burst:       cfg.Burst,
		lastCleanup: time.Now(),
	}
	limiter := rl.getLimiter("203.0.113.9")

	// Hammer once a second for just under one window.
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	allowed := 0
	for at := t0; at.Before(t0.Add(cfg.Window)); at = at.Add(time.Second) {
		if limiter.AllowN(at, 1) {
			allowed++
		}
	}
	require.Equal(t, 2*cfg.RequestsPerWindow-1, allowed)

	// Once drained, the steady rate is RequestsPerWindow per Window.
	sustained := 0
	t1 := t0.Add(cfg.Window)
	for at := t1; at.Before(t1.Add(cfg.Window)); at = at.Add(time.Second) {
		if limiter.AllowN(at, 1) {
			sustained++
		}
	}
	require.Equal(t, cfg.RequestsPerWindow, sustained)
}
