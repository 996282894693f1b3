package mission

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type effect struct {
	name string
	fn   func(ctx context.Context) error
}

// SideEffects is a bounded background queue for best-effort work: notes,
// knowledge writes, work-log rows, board sync and announcements. Errors are
// logged and dropped. Nothing on the state machine's path waits on it.
type SideEffects struct {
	queue   chan effect
	timeout time.Duration
	group   errgroup.Group
	logger  *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending int
	closed  bool
}

// NewSideEffects starts workers draining a queue of the given capacity.
func NewSideEffects(workers, capacity int, timeout time.Duration, logger *zap.Logger) *SideEffects {
	if workers <= 0 {
		workers = 4
	}
	if capacity <= 0 {
		capacity = 256
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &SideEffects{
		queue:   make(chan effect, capacity),
		timeout: timeout,
		logger:  logger,
	}
	s.cond = sync.NewCond(&s.mu)
	for i := 0; i < workers; i++ {
		s.group.Go(s.work)
	}
	return s
}

func (s *SideEffects) work() error {
	for e := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := e.fn(ctx); err != nil {
			s.logger.Warn("best-effort side effect failed", zap.String("effect", e.name), zap.Error(err))
		}
		cancel()
		s.done()
	}
	return nil
}

func (s *SideEffects) done() {
	s.mu.Lock()
	s.pending--
	if s.pending == 0 {
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

// Submit enqueues fn without blocking. A full or closed queue drops it.
func (s *SideEffects) Submit(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Debug("side effect after close dropped", zap.String("effect", name))
		return
	}
	select {
	case s.queue <- effect{name: name, fn: fn}:
		s.pending++
	default:
		s.logger.Warn("side effect queue full, dropping", zap.String("effect", name))
	}
}

// Flush blocks until every queued effect has run.
func (s *SideEffects) Flush() {
	s.mu.Lock()
	for s.pending > 0 {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

// Close stops accepting work and waits for queued effects or ctx.
func (s *SideEffects) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = s.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
