package ratelimit

import (
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// Config tunes a fixed-window limiter.
type Config struct {
	MaxRequests int
	Window      time.Duration
	// PerEndpoint keys windows by endpoint; when false a single global
	// window admits all callers.
	PerEndpoint bool
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type window struct {
	requestCount int
	windowStart  time.Time
	lastRequest  time.Time
}

// Limiter is a fixed-window admission controller shared by concurrent
// flows; each check-and-increment is atomic per key.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	now     func() time.Time
	windows map[string]*window
}

func New(cfg Config, clock clockz.Clock) *Limiter {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Limiter{
		cfg:     cfg,
		now:     clock.Now,
		windows: make(map[string]*window),
	}
}

const globalKey = ""

// Allow runs one admission check for the endpoint. It gates outbound
// provider calls, never machine transitions.
func (l *Limiter) Allow(endpoint string) Decision {
	key := globalKey
	if l.cfg.PerEndpoint {
		key = endpoint
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok {
		w = &window{windowStart: now}
		l.windows[key] = w
	}

	if now.Sub(w.windowStart) >= l.cfg.Window {
		w.windowStart = now
		w.requestCount = 0
	}

	if w.requestCount >= l.cfg.MaxRequests {
		return Decision{
			Allowed:    false,
			RetryAfter: l.cfg.Window - now.Sub(w.windowStart),
		}
	}

	w.requestCount++
	w.lastRequest = now
	return Decision{Allowed: true}
}
