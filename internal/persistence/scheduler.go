package persistence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the flush period used when none is given
const DefaultInterval = time.Minute

// ErrSchedulerClosed is returned by operations on a closed scheduler
var ErrSchedulerClosed = errors.New("persistence scheduler closed")

// Flusher is the state a Scheduler persists
type Flusher interface {
	// Dirty reports whether in-memory state has diverged from persisted state
	Dirty() bool
	// Flush persists the current state. It must leave the state dirty on failure.
	Flush(ctx context.Context) error
}

// Stats counts scheduler activity
type Stats struct {
	Flushes   int
	Failures  int
	LastError error
	LastFlush time.Time
}

// Scheduler flushes a dirty Flusher on a fixed interval and once more on Close.
// At most one flush runs at a time.
type Scheduler struct {
	flusher  Flusher
	interval time.Duration
	logger   *slog.Logger

	flushMu sync.Mutex // held for the duration of a flush

	mu      sync.Mutex
	started bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}
	stats   Stats
}

// NewScheduler returns a scheduler for f. A non-positive interval selects
// DefaultInterval; a nil logger discards output.
func NewScheduler(f Flusher, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		flusher:  f,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the periodic flush loop. It returns once the loop is running;
// the loop stops when ctx is done or Close is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	if s.started {
		return nil
	}
	s.started = true

	go s.loop(ctx)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// a flush started by the ticker runs to completion even if ctx ends
	flushCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if !s.flusher.Dirty() {
				continue
			}
			_ = s.flush(flushCtx, "interval")
		}
	}
}

// FlushNow flushes synchronously if the state is dirty
func (s *Scheduler) FlushNow(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSchedulerClosed
	}
	if !s.flusher.Dirty() {
		return nil
	}
	return s.flush(ctx, "manual")
}

func (s *Scheduler) flush(ctx context.Context, reason string) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	start := time.Now()
	err := s.flusher.Flush(ctx)

	s.mu.Lock()
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err
	} else {
		s.stats.Flushes++
		s.stats.LastError = nil
		s.stats.LastFlush = time.Now()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("flush failed", "reason", reason, "error", err)
		return err
	}
	s.logger.Debug("flush complete", "reason", reason, "duration", time.Since(start))
	return nil
}

// Close stops the loop, waits for a flush in progress and runs a final
// flush if the state is still dirty. Calling Close twice returns ErrSchedulerClosed.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	s.closed = true
	started := s.started
	close(s.stop)
	s.mu.Unlock()

	if started {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if !s.flusher.Dirty() {
		return nil
	}
	return s.flush(ctx, "shutdown")
}

// Stats returns a copy of the scheduler counters
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
