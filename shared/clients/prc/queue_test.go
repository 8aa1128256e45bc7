package prc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSerializerRunsJobsInOrder(t *testing.T) {
	s := NewSerializer()
	defer s.Close()

	var mu sync.Mutex
	var order []int
	var inFlight, maxInFlight int32

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Stagger submissions so enqueue order matches i.
			time.Sleep(time.Duration(i) * 10 * time.Millisecond)
			_ = s.Do(context.Background(), "server-1", func(ctx context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				if n > atomic.LoadInt32(&maxInFlight) {
					atomic.StoreInt32(&maxInFlight, n)
				}
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&maxInFlight) != 1 {
		t.Fatalf("jobs for one key overlapped, max in flight %d", maxInFlight)
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("expected order %v to be sequential", order)
		}
	}
}

func TestSerializerKeysAreIndependent(t *testing.T) {
	s := NewSerializer()
	defer s.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = s.Do(context.Background(), "server-1", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	done := make(chan struct{})
	go func() {
		_ = s.Do(context.Background(), "server-2", func(ctx context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("server-2 job blocked behind server-1")
	}
	close(release)
}

func TestSerializerSkipsCancelledJobs(t *testing.T) {
	s := NewSerializer()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := s.Do(ctx, "server-1", func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err == nil {
		t.Fatalf("expected context error")
	}
	if ran {
		t.Fatalf("cancelled job must not run")
	}
}

func TestSerializerCloseRejectsNewJobs(t *testing.T) {
	s := NewSerializer()
	s.Close()
	if err := s.Do(context.Background(), "server-1", func(ctx context.Context) error { return nil }); err == nil {
		t.Fatalf("expected error after close")
	}
}
