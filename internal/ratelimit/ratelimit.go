// Package ratelimit implements the in-process fixed-window limiter applied to
// every authenticated request.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// Window is the length of one fixed window.
	Window = time.Minute

	sweepInterval = 5 * time.Minute
	staleAfter    = 5 * time.Minute
)

// Decision is the outcome of a Check.
type Decision struct {
	Allowed      bool
	Limit        int
	Remaining    int
	ResetSeconds int
}

type window struct {
	count  int
	expiry time.Time
}

// Limiter is a per-principal fixed-window counter. It is process-local and
// best effort; multiple instances do not share windows.
type Limiter struct {
	mu          sync.Mutex
	windows     map[string]*window
	now         func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// New creates a Limiter and starts its background sweeper. Call Stop to end it.
func New() *Limiter {
	l := newLimiter(time.Now)

	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.sweep()
			case <-l.stopCleanup:
				return
			}
		}
	}()

	return l
}

func newLimiter(now func() time.Time) *Limiter {
	return &Limiter{
		windows:     make(map[string]*window),
		now:         now,
		stopCleanup: make(chan struct{}),
	}
}

// Stop stops the sweeper. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
}

// Check counts one request for principalID against ceiling.
func (l *Limiter) Check(principalID string, ceiling int) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[principalID]
	if !ok || !now.Before(w.expiry) {
		w = &window{count: 1, expiry: now.Add(Window)}
		l.windows[principalID] = w
		return Decision{
			Allowed:      true,
			Limit:        ceiling,
			Remaining:    max(ceiling-1, 0),
			ResetSeconds: resetSeconds(w.expiry, now),
		}
	}

	if w.count >= ceiling {
		return Decision{
			Allowed:      false,
			Limit:        ceiling,
			Remaining:    0,
			ResetSeconds: resetSeconds(w.expiry, now),
		}
	}

	w.count++
	return Decision{
		Allowed:      true,
		Limit:        ceiling,
		Remaining:    ceiling - w.count,
		ResetSeconds: resetSeconds(w.expiry, now),
	}
}

// Len returns the number of tracked windows.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-staleAfter)
	for id, w := range l.windows {
		if w.expiry.Before(cutoff) {
			delete(l.windows, id)
		}
	}
}

// resetSeconds rounds the time left in the window up to whole seconds.
func resetSeconds(expiry, now time.Time) int {
	d := expiry.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
