package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DuePostProcessor delivers the posts whose scheduled time has elapsed
type DuePostProcessor interface {
	RecoverStale(ctx context.Context) error
	ProcessDuePosts(ctx context.Context) error
}

// Scheduler handles periodic processing of due posts.
// Ticks never overlap: a slow batch delays the next one.
type Scheduler struct {
	processor DuePostProcessor
	interval  time.Duration
	logger    *slog.Logger
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	mu        sync.Mutex
}

// New creates a new scheduler
func New(processor DuePostProcessor, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		processor: processor,
		interval:  interval,
		logger:    logger,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("post scheduler started", "interval", s.interval)

	s.wg.Add(1)
	go s.run(runCtx)
}

// Stop stops the scheduler and cancels in-flight deliveries. A stopped scheduler can be started again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("post scheduler stopped")
}

// run is the main scheduler loop
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	if err := s.processor.RecoverStale(ctx); err != nil {
		s.logger.Error("failed to recover stale posts", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start
	s.process(ctx)

	for {
		select {
		case <-ticker.C:
			s.process(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// process runs the due post processor
func (s *Scheduler) process(ctx context.Context) {
	s.logger.Debug("processing due posts")

	if err := s.processor.ProcessDuePosts(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("failed to process due posts", "error", err)
	}
}
