package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
	return newLimiter(clock.Now), clock
}

func TestCheckDeniesAfterCeiling(t *testing.T) {
	for _, ceiling := range []int{1, 10, 50, 200} {
		t.Run(fmt.Sprintf("ceiling_%d", ceiling), func(t *testing.T) {
			l, clock := newTestLimiter()

			for i := 1; i <= ceiling; i++ {
				d := l.Check("acct", ceiling)
				if !d.Allowed {
					t.Fatalf("call %d should be allowed", i)
				}
				if d.Remaining != ceiling-i {
					t.Fatalf("call %d remaining = %d, want %d", i, d.Remaining, ceiling-i)
				}
				clock.Advance(100 * time.Millisecond)
			}

			d := l.Check("acct", ceiling)
			if d.Allowed {
				t.Fatalf("call %d should be denied", ceiling+1)
			}
			if d.ResetSeconds <= 0 || d.ResetSeconds > 60 {
				t.Fatalf("resetSeconds = %d, want (0, 60]", d.ResetSeconds)
			}
			if d.Limit != ceiling || d.Remaining != 0 {
				t.Fatalf("unexpected decision %+v", d)
			}
		})
	}
}

func TestCheckResetSecondsRoundsUp(t *testing.T) {
	l, clock := newTestLimiter()
	l.Check("acct", 1)
	clock.Advance(30*time.Second + 200*time.Millisecond)

	d := l.Check("acct", 1)
	if d.Allowed {
		t.Fatal("expected denial")
	}
	if d.ResetSeconds != 30 {
		t.Fatalf("resetSeconds = %d, want 30 (29.8s rounded up)", d.ResetSeconds)
	}
}

func TestCheckResetsAfterExpiry(t *testing.T) {
	l, clock := newTestLimiter()
	for i := 0; i < 3; i++ {
		l.Check("acct", 3)
	}
	if l.Check("acct", 3).Allowed {
		t.Fatal("expected denial within the window")
	}

	clock.Advance(Window)
	d := l.Check("acct", 3)
	if !d.Allowed {
		t.Fatal("expected allow once the window expired")
	}
	if d.Remaining != 2 {
		t.Fatalf("expected count reset to 1 (remaining 2), got remaining %d", d.Remaining)
	}
	if l.windows["acct"].count != 1 {
		t.Fatalf("count = %d, want 1", l.windows["acct"].count)
	}
}

func TestCheckKeysArePerPrincipal(t *testing.T) {
	l, _ := newTestLimiter()
	if !l.Check("a", 1).Allowed {
		t.Fatal("a first call denied")
	}
	if l.Check("a", 1).Allowed {
		t.Fatal("a second call allowed")
	}
	if !l.Check("b", 1).Allowed {
		t.Fatal("b should have its own window")
	}
}

func TestSweepEvictsOnlyStaleWindows(t *testing.T) {
	l, clock := newTestLimiter()
	l.Check("old", 10)
	clock.Advance(Window + staleAfter + time.Second)
	l.Check("fresh", 10)

	l.sweep()

	if l.Len() != 1 {
		t.Fatalf("expected 1 window after sweep, got %d", l.Len())
	}
	if _, ok := l.windows["fresh"]; !ok {
		t.Fatal("fresh window was evicted")
	}
}

func TestSweepKeepsRecentlyExpiredWindows(t *testing.T) {
	l, clock := newTestLimiter()
	l.Check("recent", 10)
	clock.Advance(Window + time.Minute)

	l.sweep()

	if l.Len() != 1 {
		t.Fatalf("window expired less than 5 minutes ago should be kept")
	}
}

func TestCheckConcurrent(t *testing.T) {
	l, _ := newTestLimiter()
	const ceiling = 50

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("acct", ceiling).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != ceiling {
		t.Fatalf("allowed = %d, want exactly %d", allowed, ceiling)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	l := New()
	l.Stop()
	l.Stop()
}
