package prc

import (
	"context"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func testRegistry(budget int, threshold time.Duration, cooldown time.Duration, alert AlertFunc) (*Registry, *fakeClock, *[]time.Duration) {
	clock := newFakeClock()
	var sleeps []time.Duration
	r := NewRegistry(budget, threshold, cooldown, alert)
	r.now = clock.Now
	r.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		clock.Advance(d)
		return nil
	}
	return r, clock, &sleeps
}

func TestWaitConsumesBudgetWithoutSleeping(t *testing.T) {
	r, _, sleeps := testRegistry(3, time.Minute, 5*time.Minute, nil)
	for i := 0; i < 3; i++ {
		if err := r.Wait(context.Background(), "key-a"); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if len(*sleeps) != 0 {
		t.Fatalf("expected no sleeps, got %v", *sleeps)
	}
}

func TestBlockDelaysNextRequest(t *testing.T) {
	r, clock, sleeps := testRegistry(5, time.Minute, 5*time.Minute, nil)
	r.Block("key-a", 5*time.Second)

	before := clock.Now()
	if err := r.Wait(context.Background(), "key-a"); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(*sleeps) == 0 {
		t.Fatalf("expected a sleep for the blocked window")
	}
	if got := clock.Now().Sub(before); got < 5*time.Second {
		t.Fatalf("expected at least 5s elapsed, got %v", got)
	}
}

func TestBlockIsPerKey(t *testing.T) {
	r, _, sleeps := testRegistry(5, time.Minute, 5*time.Minute, nil)
	r.Block("key-a", 30*time.Second)

	if err := r.Wait(context.Background(), "key-b"); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(*sleeps) != 0 {
		t.Fatalf("key-b should not be delayed by key-a's block, slept %v", *sleeps)
	}
}

func TestObservedExhaustionWaitsForReset(t *testing.T) {
	r, clock, _ := testRegistry(5, time.Minute, 5*time.Minute, nil)
	resetAt := clock.Now().Add(10 * time.Second)
	r.Observe("key-a", 0, resetAt.Unix())

	if err := r.Wait(context.Background(), "key-a"); err != nil {
		t.Fatalf("wait: %v", err)
	}
	// Must have slept past the reset plus the slack second.
	if clock.Now().Before(resetAt.Add(time.Second)) {
		t.Fatalf("expected clock past reset+1s, at %v want after %v", clock.Now(), resetAt.Add(time.Second))
	}

	// Budget was optimistically refilled, so the next call is immediate.
	before := clock.Now()
	if err := r.Wait(context.Background(), "key-a"); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if !clock.Now().Equal(before) {
		t.Fatalf("expected no additional sleep after optimistic refill")
	}
}

func TestAlertFiresOnceWithinCooldown(t *testing.T) {
	var alerts int
	alert := func(ctx context.Context, key string, waited time.Duration) {
		alerts++
		if key != "key-a" {
			t.Fatalf("unexpected alert key %q", key)
		}
	}
	clock := newFakeClock()
	r := NewRegistry(5, 10*time.Second, 5*time.Minute, alert)
	r.now = clock.Now
	// Advance in fixed slices so the wait loop iterates several times
	// past the alert threshold.
	r.sleep = func(ctx context.Context, d time.Duration) error {
		if d > 15*time.Second {
			d = 15 * time.Second
		}
		clock.Advance(d)
		return nil
	}
	r.Observe("key-a", 0, clock.Now().Add(100*time.Second).Unix())

	if err := r.Wait(context.Background(), "key-a"); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if alerts != 1 {
		t.Fatalf("expected exactly one alert, got %d", alerts)
	}
}

func TestAlertFiresOnSingleFullSleep(t *testing.T) {
	var alerts int
	var reported time.Duration
	alert := func(ctx context.Context, key string, waited time.Duration) {
		alerts++
		reported = waited
	}
	// The fake sleep advances the clock by the full requested duration,
	// so the blocked window is covered by one sleep.
	r, _, sleeps := testRegistry(5, time.Minute, 5*time.Minute, alert)
	r.Block("key-a", 70*time.Second)

	if err := r.Wait(context.Background(), "key-a"); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(*sleeps) != 1 {
		t.Fatalf("expected one full-duration sleep, got %v", *sleeps)
	}
	if alerts != 1 {
		t.Fatalf("expected one alert for a 70s wait over a 60s threshold, got %d", alerts)
	}
	if reported < 70*time.Second {
		t.Fatalf("alert must report the projected wait, got %v", reported)
	}
}

func TestNoAlertBelowThreshold(t *testing.T) {
	var alerts int
	r, _, _ := testRegistry(5, time.Minute, 5*time.Minute, func(ctx context.Context, key string, waited time.Duration) {
		alerts++
	})
	r.Block("key-a", 30*time.Second)

	if err := r.Wait(context.Background(), "key-a"); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if alerts != 0 {
		t.Fatalf("30s wait under a 60s threshold must not alert, got %d", alerts)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	r := NewRegistry(5, time.Minute, 5*time.Minute, nil)
	r.Block("key-a", time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Wait(ctx, "key-a"); err == nil {
		t.Fatalf("expected context error")
	}
}
