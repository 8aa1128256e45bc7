package prc

import (
	"context"
	"sync"
	"time"

	"overwatch-command-core/shared/metricsx"
)

// AlertFunc is called when a caller's total wait on the rate budget,
// including the sleep about to start, reaches the alert threshold.
// Deliveries are throttled by the cooldown so a long stall produces one
// alert, not a stream.
type AlertFunc func(ctx context.Context, key string, waited time.Duration)

type rateState struct {
	remaining    int
	resetAt      time.Time
	blockedUntil time.Time
	lastAlertAt  time.Time
	observed     bool
}

// Registry tracks one rate budget per credential. Callers must Wait
// before every request and feed responses back through Observe/Block.
type Registry struct {
	mu     sync.Mutex
	states map[string]*rateState

	budget         int
	alertThreshold time.Duration
	alertCooldown  time.Duration
	alert          AlertFunc

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRegistry(budget int, alertThreshold time.Duration, alertCooldown time.Duration, alert AlertFunc) *Registry {
	if budget <= 0 {
		budget = 1
	}
	return &Registry{
		states:         map[string]*rateState{},
		budget:         budget,
		alertThreshold: alertThreshold,
		alertCooldown:  alertCooldown,
		alert:          alert,
		now:            time.Now,
		sleep:          sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until a slot in the key's budget is free or ctx is done.
func (r *Registry) Wait(ctx context.Context, key string) error {
	start := r.now()
	for {
		d := r.reserve(key)
		if d <= 0 {
			if waited := r.now().Sub(start); waited > 0 {
				metricsx.ObserveRateWait(waited)
			}
			return nil
		}
		// Alert on the projected wait, not just time already spent: the
		// common case is a single sleep covering the whole block window.
		if waited := r.now().Sub(start); waited+d >= r.alertThreshold {
			r.maybeAlert(ctx, key, waited+d)
		}
		if err := r.sleep(ctx, d); err != nil {
			return err
		}
	}
}

// reserve takes a slot if one is available, otherwise returns how long
// to wait before trying again.
func (r *Registry) reserve(key string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.state(key)
	now := r.now()

	if now.Before(s.blockedUntil) {
		return s.blockedUntil.Sub(now)
	}
	if !s.blockedUntil.IsZero() {
		// The server-directed pause has elapsed. Assume a fresh budget
		// until the next response headers correct us.
		s.blockedUntil = time.Time{}
		s.remaining = r.budget
		s.resetAt = time.Time{}
		s.observed = false
	}

	// Once the advertised reset has passed (plus a second of slack for
	// clock drift) assume the remote budget refilled.
	if s.observed && !s.resetAt.IsZero() && now.After(s.resetAt.Add(time.Second)) {
		s.remaining = r.budget
		s.resetAt = time.Time{}
		s.observed = false
	}

	if s.remaining > 0 {
		s.remaining--
		return 0
	}

	if !s.observed || s.resetAt.IsZero() {
		// Exhausted the local guess without any header feedback. The
		// headers are the source of truth, so proceed rather than
		// self-starve.
		s.remaining = r.budget - 1
		return 0
	}
	wait := s.resetAt.Add(time.Second).Sub(now)
	if wait <= 0 {
		wait = time.Second
	}
	return wait
}

// Observe syncs local state from X-RateLimit-* response headers.
func (r *Registry) Observe(key string, remaining int, resetUnix int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.state(key)
	if remaining < 0 {
		remaining = 0
	}
	s.remaining = remaining
	s.observed = true
	if resetUnix > 0 {
		s.resetAt = time.Unix(resetUnix, 0)
	}
}

// Block pauses the key for retryAfter. Used on 429.
func (r *Registry) Block(key string, retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.state(key)
	s.remaining = 0
	s.blockedUntil = r.now().Add(retryAfter)
}

func (r *Registry) maybeAlert(ctx context.Context, key string, waited time.Duration) {
	r.mu.Lock()
	s := r.state(key)
	now := r.now()
	fire := r.alert != nil && (s.lastAlertAt.IsZero() || now.Sub(s.lastAlertAt) >= r.alertCooldown)
	if fire {
		s.lastAlertAt = now
	}
	r.mu.Unlock()

	if fire {
		r.alert(ctx, key, waited)
	}
}

func (r *Registry) state(key string) *rateState {
	s, ok := r.states[key]
	if !ok {
		s = &rateState{remaining: r.budget}
		r.states[key] = s
	}
	return s
}
