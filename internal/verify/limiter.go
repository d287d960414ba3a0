package verify

import (
	"sync"
	"time"
)

// Default limiter settings, matching the verification model's quota.
const (
	DefaultMaxCalls = 60
	DefaultWindow   = time.Minute
)

// LimiterConfig configures a Limiter.
type LimiterConfig struct {
	// MaxCalls is the number of calls allowed per window. Default: DefaultMaxCalls.
	MaxCalls int

	// Window is the penalty sleep duration applied once MaxCalls is reached.
	// Default: DefaultWindow.
	Window time.Duration

	// Sleep is the sleep primitive. Injected so tests run without
	// wall-clock waits. Default: time.Sleep.
	Sleep func(time.Duration)
}

// Limiter enforces an upper bound on calls per fixed window.
//
// This is a hard periodic reset, not a sliding window: when a caller finds
// the counter at the bound it sleeps for a full window and then resets the
// counter to zero for everyone. The sleep happens while holding the lock,
// so once the bound is hit all workers sharing the limiter serialize behind
// it. Bursts immediately after a reset are not penalized until the bound is
// hit again.
//
// A Limiter is shared by all workers of one Pool and is safe for concurrent
// use.
type Limiter struct {
	maxCalls int
	window   time.Duration
	sleep    func(time.Duration)

	mu    sync.Mutex
	count int
}

// NewLimiter creates a Limiter. Zero-value config fields use defaults.
func NewLimiter(cfg LimiterConfig) *Limiter {
	if cfg.MaxCalls <= 0 {
		cfg.MaxCalls = DefaultMaxCalls
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &Limiter{
		maxCalls: cfg.MaxCalls,
		window:   cfg.Window,
		sleep:    cfg.Sleep,
	}
}

// Acquire blocks until the caller may perform one call. When the window
// budget is exhausted the caller pays the full window penalty before the
// counter restarts from zero.
func (l *Limiter) Acquire() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count >= l.maxCalls {
		l.sleep(l.window)
		l.count = 0
	}
	l.count++
}
