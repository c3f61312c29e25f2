package ratelimit

import (
	"context"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter() (*SlidingWindow, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewSlidingWindow()
	l.SetClock(clock.now)
	return l, clock
}

func TestSlidingWindow_AllowsUpToLimit(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := l.Allow(ctx, "web:user-1", 5, time.Minute)
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if d.Remaining != 4-i {
			t.Errorf("Remaining = %d, want %d", d.Remaining, 4-i)
		}
	}
	d, _ := l.Allow(ctx, "web:user-1", 5, time.Minute)
	if d.Allowed {
		t.Fatal("6th request should be denied")
	}
}

func TestSlidingWindow_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	l.Allow(ctx, "web:a", 1, time.Minute)
	if d, _ := l.Allow(ctx, "web:b", 1, time.Minute); !d.Allowed {
		t.Fatal("different identifier should have its own bucket")
	}
	if d, _ := l.Allow(ctx, "flights:a", 1, time.Minute); !d.Allowed {
		t.Fatal("different prefix should have its own bucket")
	}
}

func TestSlidingWindow_Slides(t *testing.T) {
	l, clock := newTestLimiter()
	ctx := context.Background()

	l.Allow(ctx, "k", 2, time.Minute)
	clock.advance(30 * time.Second)
	l.Allow(ctx, "k", 2, time.Minute)
	if d, _ := l.Allow(ctx, "k", 2, time.Minute); d.Allowed {
		t.Fatal("3rd within window should be denied")
	}

	// First hit leaves the window; one slot frees up, not two.
	clock.advance(31 * time.Second)
	if d, _ := l.Allow(ctx, "k", 2, time.Minute); !d.Allowed {
		t.Fatal("after oldest hit expires a request should be allowed")
	}
	if d, _ := l.Allow(ctx, "k", 2, time.Minute); d.Allowed {
		t.Fatal("second hit is still inside the window")
	}
}

func TestSlidingWindow_DeniedNotCounted(t *testing.T) {
	l, clock := newTestLimiter()
	ctx := context.Background()

	l.Allow(ctx, "k", 1, time.Minute)
	for i := 0; i < 10; i++ {
		l.Allow(ctx, "k", 1, time.Minute)
	}
	clock.advance(61 * time.Second)
	if d, _ := l.Allow(ctx, "k", 1, time.Minute); !d.Allowed {
		t.Fatal("denied requests must not extend the window")
	}
}

func TestSlidingWindow_Sweep(t *testing.T) {
	l, clock := newTestLimiter()
	ctx := context.Background()

	l.Allow(ctx, "a", 3, time.Minute)
	l.Allow(ctx, "b", 3, time.Hour)
	clock.advance(2 * time.Minute)

	if n := l.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}
