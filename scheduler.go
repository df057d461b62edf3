package harness

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// RunScheduler triggers plan runs, either once or on a fixed interval.
type RunScheduler interface {
	Start(ctx context.Context) error
	Stop() error
	RegisterCallback(func() error)
	WaitForShutdown(ctx context.Context) error
	Stopped() bool
}

// DefaultRunScheduler runs the registered callback immediately on Start and
// then, in continuous mode, once per interval tick. Runs never overlap: when
// a run overruns the interval, the tick that fired in the meantime is
// discarded instead of triggering an immediate back-to-back run.
type DefaultRunScheduler struct {
	interval time.Duration
	runOnce  bool
	logger   log.Logger
	callback func() error

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc

	wg sync.WaitGroup
}

// NewDefaultRunScheduler creates a new DefaultRunScheduler.
func NewDefaultRunScheduler(interval time.Duration, runOnce bool, logger log.Logger) *DefaultRunScheduler {
	return &DefaultRunScheduler{
		interval: interval,
		runOnce:  runOnce,
		logger:   logger,
	}
}

// RegisterCallback sets the callback invoked when a run is due. It must be
// set before Start.
func (s *DefaultRunScheduler) RegisterCallback(callback func() error) {
	s.callback = callback
}

// Start performs the initial run synchronously and returns its error. In
// continuous mode it then launches the tick loop and returns.
func (s *DefaultRunScheduler) Start(ctx context.Context) error {
	if s.callback == nil {
		return errors.New("callback must be registered before starting scheduler")
	}

	if s.runOnce {
		s.logger.Info("Starting scheduler in run-once mode")
		err := s.callback()
		s.markStopped()
		return err
	}

	s.logger.Info("Starting scheduler in continuous mode", "interval", s.interval)
	if err := s.callback(); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(loopCtx)
	return nil
}

func (s *DefaultRunScheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.logger.Info("Running periodic plan run")
			start := time.Now()
			if err := s.callback(); err != nil {
				s.logger.Error("Periodic plan run failed", "error", err)
			}
			if elapsed := time.Since(start); elapsed >= s.interval {
				// The next tick already fired while the run was executing.
				// Drop it so a slow run is followed by a full quiet interval
				// rather than an immediate re-run.
				select {
				case <-ticker.C:
					s.logger.Warn("Run overran the interval, skipping a tick",
						"interval", s.interval, "elapsed", elapsed)
				default:
				}
			}

		case <-ctx.Done():
			s.logger.Debug("Context canceled, stopping periodic runner")
			s.markStopped()
			return
		}
	}
}

func (s *DefaultRunScheduler) markStopped() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// Stop stops the scheduler. It is idempotent and does not wait for an
// in-flight run; use WaitForShutdown for that.
func (s *DefaultRunScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.logger.Debug("Scheduler already stopped, nothing to do")
		return nil
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// Stopped returns true if the scheduler is stopped.
func (s *DefaultRunScheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// WaitForShutdown blocks until the tick loop has terminated.
func (s *DefaultRunScheduler) WaitForShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for scheduler to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}
