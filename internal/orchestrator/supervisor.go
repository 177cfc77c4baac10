package orchestrator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"streamcast/internal/models"
	"streamcast/internal/platform"
	"streamcast/internal/pushproc"
)

// supervise is the single-writer goroutine for one session. It owns every
// state change from creation until the session reaches a terminal state.
func (m *Manager) supervise(s *Session) {
	defer close(s.done)
	defer m.metrics.SessionEnded()

	if s.State() == models.StateScheduled {
		if !m.awaitActivation(s) {
			return
		}
	}
	m.runStream(s)
}

// awaitActivation parks a scheduled session until the scheduler fires or a
// stop arrives. It returns false when the session should not start.
func (m *Manager) awaitActivation(s *Session) bool {
	for {
		select {
		case cmd := <-s.commands:
			switch cmd.kind {
			case activateCommand:
				m.transition(s, models.StateStarting, EventStarting, SeverityInfo, "scheduled start time reached")
				cmd.reply <- nil
				return true
			case stopCommand:
				m.scheduler.Cancel(s.id)
				m.completeBroadcast(s)
				m.transition(s, models.StateStopped, EventStopped, SeverityInfo, "cancelled before activation")
				cmd.reply <- nil
				return false
			}
		case <-m.ctx.Done():
			m.scheduler.Cancel(s.id)
			m.transition(s, models.StateStopped, EventStopped, SeverityInfo, "orchestrator shutdown")
			return false
		}
	}
}

// runStream executes the start sequence and then drives the sampling loop
// until the session terminates.
func (m *Manager) runStream(s *Session) {
	if err := m.bindPrimary(s); err != nil {
		m.fail(s, EventFailed, fmt.Sprintf("bind stream: %v", err))
		return
	}
	if err := m.launchChildren(s); err != nil {
		m.fail(s, EventFailed, fmt.Sprintf("launch push process: %v", err))
		return
	}

	ticker := m.clock.NewTicker(m.tun.SampleInterval)
	defer ticker.Stop()

	var (
		reconnectTimer Timer
		reconnectC     <-chan time.Time
		unhealthyRun   int
		liveSince      time.Time
		greeted        bool
	)
	stopReconnectTimer := func() {
		if reconnectTimer != nil {
			reconnectTimer.Stop()
			reconnectTimer, reconnectC = nil, nil
		}
	}
	// degrade consults the reconnect policy and either arms the backoff
	// timer or fails the session. It reports whether the session ended.
	degrade := func(now time.Time) bool {
		m.transition(s, models.StateDegraded, EventDegraded, SeverityWarning, "health checks failing")
		delay, ok := m.policy.Next(s.Retries())
		if !ok {
			m.fail(s, EventRetriesExhausted, "max retries exceeded")
			return true
		}
		s.appendLog(now, "reconnect scheduled in %s", delay)
		m.logger.Warn("reconnect scheduled",
			"session_id", s.id, "delay", delay, "retries", s.Retries())
		reconnectTimer = m.clock.NewTimer(delay)
		reconnectC = reconnectTimer.C()
		return false
	}

	for {
		select {
		case cmd := <-s.commands:
			switch cmd.kind {
			case stopCommand:
				stopReconnectTimer()
				m.terminateChildren(s, "session stopped")
				m.completeBroadcast(s)
				m.transition(s, models.StateStopped, EventStopped, SeverityInfo, "stopped by request")
				cmd.reply <- nil
				return
			case activateCommand:
				// Already past activation, nothing to do.
				cmd.reply <- nil
			}

		case <-m.ctx.Done():
			stopReconnectTimer()
			m.terminateChildren(s, "orchestrator shutdown")
			m.completeBroadcast(s)
			m.transition(s, models.StateStopped, EventStopped, SeverityInfo, "orchestrator shutdown")
			return

		case <-ticker.C():
			if reconnectC != nil {
				// Degraded and waiting out the backoff; skip sampling.
				continue
			}
			now := m.clock.Now()
			healthy := m.sample(s, now)

			switch s.State() {
			case models.StateStarting:
				if healthy {
					m.transition(s, models.StateLive, EventLive, SeverityInfo, "stream is live")
					liveSince = now
					unhealthyRun = 0
					if !greeted {
						greeted = true
						m.sendGreeting(s)
					}
				} else if m.primaryExited(s) {
					m.fail(s, EventFailed, "push process exited before stream went live")
					return
				}

			case models.StateReconnecting:
				if healthy {
					m.transition(s, models.StateLive, EventLive, SeverityInfo, "stream is live")
					liveSince = now
					unhealthyRun = 0
					continue
				}
				if m.primaryExited(s) {
					m.fail(s, EventFailed, "push process exited during reconnect")
					return
				}
				// Alive but not producing output: debounce like a live
				// session so the retry budget still applies.
				unhealthyRun++
				if unhealthyRun < m.tun.DebounceSamples {
					continue
				}
				unhealthyRun = 0
				if degrade(now) {
					return
				}

			case models.StateLive:
				if healthy {
					unhealthyRun = 0
					if s.Retries() > 0 && !liveSince.IsZero() && now.Sub(liveSince) >= m.tun.StabilizationWindow {
						s.resetRetries()
						s.appendLog(now, "stream stable, retry counter reset")
						m.logger.Info("retry counter reset", "session_id", s.id)
					}
					continue
				}
				unhealthyRun++
				if unhealthyRun < m.tun.DebounceSamples {
					continue
				}
				unhealthyRun = 0
				if degrade(now) {
					return
				}
			}

		case <-reconnectC:
			reconnectTimer, reconnectC = nil, nil
			attempt := s.incrementRetries()
			m.transition(s, models.StateReconnecting, EventReconnecting, SeverityWarning,
				fmt.Sprintf("reconnect attempt %d of %d", attempt, m.policy.MaxRetries))
			m.terminateChildren(s, "restarting push processes")
			if err := m.launchChildren(s); err != nil {
				m.metrics.ObserveReconnect(true)
				m.fail(s, EventFailed, fmt.Sprintf("relaunch push process: %v", err))
				return
			}
			m.metrics.ObserveReconnect(false)
			unhealthyRun = 0
		}
	}
}

// bindPrimary resolves the primary ingestion target on first start. The
// target list survives reconnects, so subsequent calls are no-ops.
func (m *Manager) bindPrimary(s *Session) error {
	if len(s.childSnapshot()) > 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(m.ctx, m.tun.TerminateGrace)
	defer cancel()
	binding, err := m.platform.BindStream(ctx, s.id, s.cfg.Resolution, s.cfg.Bitrate)
	if err != nil {
		return err
	}
	s.setChildren(binding.Target(), s.cfg.ExtraIngestionURLs)
	s.appendLog(m.clock.Now(), "stream bound to %s", binding.IngestionURL)
	return nil
}

// launchChildren starts one push process per ingestion target. Launches run
// in parallel; if any fails, every process that did start is torn down so a
// partial fan-out never leaks.
func (m *Manager) launchChildren(s *Session) error {
	children := s.childSnapshot()
	handles := make([]pushproc.Handle, len(children))
	g, ctx := errgroup.WithContext(m.ctx)
	for i, c := range children {
		i, c := i, c
		g.Go(func() error {
			handle, err := m.launcher.Launch(ctx, pushproc.Spec{
				Content:     s.cfg.Content,
				Destination: c.target,
				Resolution:  s.cfg.Resolution,
				Bitrate:     s.cfg.Bitrate,
			})
			m.metrics.ObserveLaunch(err != nil)
			if err != nil {
				return err
			}
			handles[i] = handle
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, h := range handles {
			if h != nil {
				m.terminateHandle(h)
			}
		}
		return err
	}

	s.mu.Lock()
	for i, c := range s.children {
		c.handle = handles[i]
		c.notified = false
	}
	s.mu.Unlock()
	s.appendLog(m.clock.Now(), "started %d push process(es)", len(children))

	ctxLive, cancel := context.WithTimeout(m.ctx, m.tun.TerminateGrace)
	defer cancel()
	if err := m.platform.Transition(ctxLive, s.id, platform.LifecycleLive); err != nil {
		m.logger.Warn("broadcast live transition failed", "session_id", s.id, "error", err)
	}
	return nil
}

// sample inspects every child once. The primary decides session health;
// secondaries only log and notify unless escalation is enabled.
func (m *Manager) sample(s *Session, now time.Time) bool {
	primaryHealthy := false
	secondaryUnhealthy := false
	for _, c := range s.childSnapshot() {
		healthy := m.childHealthy(c, now)
		if c.primary {
			primaryHealthy = healthy
			outcome := "healthy"
			if !healthy {
				outcome = "unhealthy"
			}
			m.metrics.ObserveHealthSample(outcome)
			continue
		}
		if healthy {
			c.notified = false
			continue
		}
		secondaryUnhealthy = true
		if !c.notified {
			c.notified = true
			s.appendLog(now, "secondary destination unhealthy: %s", c.target)
			m.logger.Warn("secondary destination unhealthy", "session_id", s.id, "target", c.target)
			m.emit(s, EventChildFailed, SeverityWarning,
				fmt.Sprintf("secondary destination unhealthy: %s", c.target))
		}
	}
	if m.tun.EscalateChildFailures && secondaryUnhealthy {
		return false
	}
	return primaryHealthy
}

// childHealthy reports whether the process is running and produced output
// within the staleness window.
func (m *Manager) childHealthy(c *childStream, now time.Time) bool {
	if c.handle == nil || !c.handle.Alive() {
		return false
	}
	return now.Sub(c.handle.LastActivity()) <= m.tun.StalenessWindow
}

func (m *Manager) primaryExited(s *Session) bool {
	for _, c := range s.childSnapshot() {
		if c.primary {
			return c.handle == nil || !c.handle.Alive()
		}
	}
	return true
}

// terminateChildren tears down every running push process. Handles stay
// attached so status keeps reporting the final exit codes.
func (m *Manager) terminateChildren(s *Session, reason string) {
	children := s.childSnapshot()
	for _, c := range children {
		if c.handle != nil {
			m.terminateHandle(c.handle)
		}
	}
	if len(children) > 0 {
		s.appendLog(m.clock.Now(), "push processes terminated: %s", reason)
	}
}

// terminateHandle uses a background context so teardown still works while
// the manager context is already cancelled during shutdown.
func (m *Manager) terminateHandle(h pushproc.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), m.tun.TerminateGrace)
	defer cancel()
	if err := h.Terminate(ctx); err != nil {
		m.logger.Warn("push process termination failed", "error", err)
	}
}

// fail terminates all children and moves the session to failed. The kind
// distinguishes plain failures from an exhausted retry budget.
func (m *Manager) fail(s *Session, kind EventKind, reason string) {
	m.terminateChildren(s, "session failed")
	s.setFailure(reason)
	m.transition(s, models.StateFailed, kind, SeverityError, reason)
}

// completeBroadcast tells the platform the broadcast is over, best-effort.
func (m *Manager) completeBroadcast(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), m.tun.TerminateGrace)
	defer cancel()
	if err := m.platform.Transition(ctx, s.id, platform.LifecycleComplete); err != nil {
		m.logger.Warn("broadcast complete transition failed", "session_id", s.id, "error", err)
	}
}

// sendGreeting posts the configured chat message once the stream first goes
// live. Failures are logged and otherwise ignored.
func (m *Manager) sendGreeting(s *Session) {
	if m.tun.ChatGreeting == "" || s.chatID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.tun.TerminateGrace)
	defer cancel()
	if err := m.platform.SendChatMessage(ctx, s.id, m.tun.ChatGreeting); err != nil {
		m.logger.Warn("chat greeting failed", "session_id", s.id, "error", err)
	}
}
