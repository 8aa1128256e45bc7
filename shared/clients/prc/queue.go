package prc

import (
	"context"
	"errors"
	"sync"
)

var errSerializerClosed = errors.New("prc serializer closed")

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Serializer runs submitted jobs one at a time per key, in submission
// order. Requests against the same game server must never overlap, but
// different servers proceed independently.
type Serializer struct {
	mu     sync.Mutex
	lanes  map[string]chan job
	closed bool
	wg     sync.WaitGroup
}

func NewSerializer() *Serializer {
	return &Serializer{lanes: map[string]chan job{}}
}

// Do enqueues fn on the key's lane and waits for it to finish. If ctx
// expires before the job starts, the job is skipped.
func (s *Serializer) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	lane, err := s.lane(key)
	if err != nil {
		return err
	}
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case lane <- j:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Serializer) lane(key string) (chan job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errSerializerClosed
	}
	ch, ok := s.lanes[key]
	if ok {
		return ch, nil
	}
	ch = make(chan job, 64)
	s.lanes[key] = ch
	s.wg.Add(1)
	go s.run(ch)
	return ch, nil
}

func (s *Serializer) run(ch chan job) {
	defer s.wg.Done()
	for j := range ch {
		if err := j.ctx.Err(); err != nil {
			j.done <- err
			continue
		}
		j.done <- j.fn(j.ctx)
	}
}

// Close drains all lanes and waits for in-flight jobs.
func (s *Serializer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, ch := range s.lanes {
		close(ch)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
