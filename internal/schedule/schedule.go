// Package schedule runs cancelable periodic jobs.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler owns a set of periodic jobs that stop together.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler whose jobs stop when ctx is done or Stop is
// called.
func New(ctx context.Context) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{ctx: ctx, cancel: cancel}
}

// Every runs fn every interval until the scheduler stops. With immediate
// set, fn also runs once right away. A non-positive interval disables the
// job.
func (s *Scheduler) Every(name string, interval time.Duration, immediate bool, fn func(context.Context)) {
	if interval <= 0 {
		slog.Warn("job disabled", "job", name, "interval", interval)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if immediate && s.ctx.Err() == nil {
			fn(s.ctx)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				fn(s.ctx)
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels every job and waits for running ones to return. It is safe
// to call more than once.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Done is closed once the scheduler is stopping.
func (s *Scheduler) Done() <-chan struct{} {
	return s.ctx.Done()
}
