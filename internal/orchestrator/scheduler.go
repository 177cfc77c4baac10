package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler tracks sessions waiting for their start time and fires a
// callback when they come due. It polls on a coarse interval instead of
// arming one timer per session, which keeps cancellation trivial.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]time.Time

	clock    Clock
	interval time.Duration
	fire     func(id string)
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewScheduler(clock Clock, interval time.Duration, logger *slog.Logger, fire func(id string)) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{
		entries:  make(map[string]time.Time),
		clock:    clock,
		interval: interval,
		fire:     fire,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Add registers a session to be activated at the given time. Times already
// in the past fire on the next tick.
func (s *Scheduler) Add(id string, at time.Time) {
	s.mu.Lock()
	s.entries[id] = at
	s.mu.Unlock()
}

// Cancel drops a pending activation. It reports whether an entry existed.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	delete(s.entries, id)
	return ok
}

// Pending reports whether the session still awaits activation.
func (s *Scheduler) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// Start launches the polling loop. The returned func stops the loop and
// waits for it to exit; it is safe to call more than once.
func (s *Scheduler) Start(ctx context.Context) func() {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	ticker := s.clock.NewTicker(s.interval)
	go func() {
		defer func() {
			ticker.Stop()
			close(s.done)
		}()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C():
				s.runDue()
			}
		}
	}()
	return func() {
		s.once.Do(func() {
			cancel()
			<-s.done
		})
	}
}

func (s *Scheduler) runDue() {
	now := s.clock.Now()
	s.mu.Lock()
	var due []string
	for id, at := range s.entries {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	for _, id := range due {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	for _, id := range due {
		if s.logger != nil {
			s.logger.Info("scheduled session due", "session_id", id)
		}
		s.fire(id)
	}
}
