package orchestrator

import (
	"context"
	"time"
)

// ThresholdCounter reports how many documents are currently stale for a
// namespace, used by the threshold trigger without requiring a full RunOnce
// just to check.
type ThresholdCounter interface {
	StaleDocCount(ctx context.Context, namespace string) (int, error)
}

// Scheduler drives timer- and threshold-triggered runs for a fixed set of
// namespaces, grounded on the teacher's cmd/ingest ticker loop (initial
// scan, then periodic rescans until context cancellation).
type Scheduler struct {
	orch       *Orchestrator
	namespaces []string
	interval   time.Duration
	threshold  int
	counter    ThresholdCounter
}

// NewScheduler wires a Scheduler. threshold <= 0 disables the threshold
// check; interval <= 0 disables the timer, so Run makes only its initial pass
// and then waits for ctx.
func NewScheduler(orch *Orchestrator, namespaces []string, interval time.Duration, threshold int, counter ThresholdCounter) *Scheduler {
	return &Scheduler{orch: orch, namespaces: namespaces, interval: interval, threshold: threshold, counter: counter}
}

// Run blocks until ctx is cancelled, making one pass at once and then one
// every interval. With a threshold and counter set, a pass runs a namespace
// (as a threshold-triggered run) only when its stale count has reached
// threshold and skips it otherwise; without them, every pass runs every
// namespace as a timer-triggered run.
func (s *Scheduler) Run(ctx context.Context) {
	s.tick(ctx)
	if s.interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	for _, ns := range s.namespaces {
		trigger := TriggerTimer
		if s.threshold > 0 && s.counter != nil {
			if n, err := s.counter.StaleDocCount(ctx, ns); err == nil && n >= s.threshold {
				trigger = TriggerThreshold
			} else if n < s.threshold {
				continue
			}
		}
		if _, err := s.orch.RunOnce(ctx, RunOptions{Namespace: ns, Trigger: trigger}); err != nil {
			s.orch.log.Warn("scheduler.run_failed", "namespace", ns, "error", err)
		}
	}
}
