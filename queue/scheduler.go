package queue

import (
	"context"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/fieldsync/go-fieldsync/reachability"
)

const defaultSyncInterval = 60 * time.Second

// Syncer is the part of the queue the scheduler drives.
type Syncer interface {
	SyncPending(ctx context.Context)
}

// SchedulerConfig ...
type SchedulerConfig struct {
	// Interval between periodic sync passes. Defaults to 60s.
	Interval time.Duration
}

// Scheduler triggers sync passes from three edges: a periodic timer, the
// offline-to-online transition, and explicit ForceSync calls. It holds
// no single-flight state of its own; overlapping triggers are collapsed
// by the queue's syncing guard.
type Scheduler struct {
	syncer  Syncer
	monitor reachability.Monitor
	config  SchedulerConfig
	logger  log.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewScheduler ...
func NewScheduler(syncer Syncer, monitor reachability.Monitor, config SchedulerConfig, logger log.Logger) *Scheduler {
	if config.Interval == 0 {
		config.Interval = defaultSyncInterval
	}
	return &Scheduler{
		syncer:  syncer,
		monitor: monitor,
		config:  config,
		logger:  logger,
	}
}

// Start wires the triggers and returns immediately. Calling Start on a
// running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	events, cancel := s.monitor.Subscribe()

	go func() {
		defer close(done)
		defer cancel()

		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				s.syncer.SyncPending(ctx)
			case online := <-events:
				if online {
					s.logger.Debugf("Back online, triggering sync pass")
					s.syncer.SyncPending(ctx)
				}
			}
		}
	}()
}

// Stop halts the triggers and waits for the scheduler loop to exit. A
// sync pass already in flight is not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// ForceSync triggers a pass right away, regardless of the timer.
func (s *Scheduler) ForceSync(ctx context.Context) {
	s.syncer.SyncPending(ctx)
}
