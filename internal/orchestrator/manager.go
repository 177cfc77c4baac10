package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"streamcast/internal/models"
	"streamcast/internal/observability/metrics"
	"streamcast/internal/platform"
	"streamcast/internal/pushproc"
)

// Options configures a Manager. Platform and Launcher are required; the
// remaining fields have working defaults.
type Options struct {
	Platform  platform.Client
	Launcher  pushproc.Launcher
	Publisher EventPublisher
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
	Clock     Clock
	Tunables  Tunables
}

// Manager owns every session: it creates broadcasts, runs one supervisor
// goroutine per session, and exposes the control-plane operations the API
// layer calls. Each session is mutated only by its supervisor; the manager
// communicates with it through a command channel.
type Manager struct {
	platform  platform.Client
	launcher  pushproc.Launcher
	publisher EventPublisher
	metrics   *metrics.Recorder
	logger    *slog.Logger
	clock     Clock
	tun       Tunables
	policy    ReconnectPolicy

	registry  *Registry
	scheduler *Scheduler

	ctx           context.Context
	cancel        context.CancelFunc
	stopScheduler func()
}

func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock()
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = NopPublisher{}
	}
	recorder := opts.Metrics
	if recorder == nil {
		recorder = metrics.New()
	}
	tun := opts.Tunables.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		platform:  opts.Platform,
		launcher:  opts.Launcher,
		publisher: publisher,
		metrics:   recorder,
		logger:    logger.With("component", "orchestrator"),
		clock:     clock,
		tun:       tun,
		policy:    tun.policy(),
		registry:  NewRegistry(),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.scheduler = NewScheduler(clock, tun.SchedulerInterval, m.logger, m.activate)
	m.stopScheduler = m.scheduler.Start(ctx)
	return m
}

// Registry exposes the session index for read-only callers.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Start validates the config, creates the broadcast, registers the session,
// and hands it to a supervisor goroutine. When ScheduledAt lies in the
// future the session parks in the scheduled state until the scheduler fires;
// otherwise the start sequence begins immediately. The returned id is the
// platform broadcast id.
func (m *Manager) Start(ctx context.Context, cfg models.SessionConfig) (string, error) {
	if err := m.ctx.Err(); err != nil {
		return "", ErrShuttingDown
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	release, err := m.registry.Reserve(cfg.Name)
	if err != nil {
		return "", err
	}
	now := m.clock.Now()
	scheduled := cfg.ScheduledAt != nil && cfg.ScheduledAt.After(now)
	req := platform.BroadcastRequest{
		Title:       cfg.Title,
		Description: cfg.Description,
		Privacy:     cfg.Privacy,
	}
	if scheduled {
		req.ScheduledAt = cfg.ScheduledAt
	}
	broadcast, err := m.platform.CreateBroadcast(ctx, req)
	if err != nil {
		release()
		return "", fmt.Errorf("create broadcast: %w", err)
	}

	s := newSession(broadcast.ID, cfg, broadcast.ChatID, now, m.tun.LogCapacity)
	if scheduled {
		s.setState(models.StateScheduled, now)
	}
	if err := m.registry.Register(s); err != nil {
		release()
		return "", err
	}
	m.metrics.SessionStarted()

	if scheduled {
		s.appendLog(now, "session scheduled for %s", cfg.ScheduledAt.Format(time.RFC3339))
		m.scheduler.Add(s.id, *cfg.ScheduledAt)
		m.emit(s, EventScheduled, SeverityInfo, "session scheduled")
		m.logger.Info("session scheduled",
			"session_id", s.id, "name", s.name, "scheduled_at", cfg.ScheduledAt)
	} else {
		s.appendLog(now, "session created")
		m.emit(s, EventStarting, SeverityInfo, "session starting")
		m.logger.Info("session starting", "session_id", s.id, "name", s.name)
	}
	go m.supervise(s)
	return s.id, nil
}

// Schedule is Start with a mandatory future start time.
func (m *Manager) Schedule(ctx context.Context, cfg models.SessionConfig) (string, error) {
	if cfg.ScheduledAt == nil || !cfg.ScheduledAt.After(m.clock.Now()) {
		return "", ErrScheduleRequired
	}
	return m.Start(ctx, cfg)
}

// Stop requests a graceful stop. Stopping an already terminal session is a
// no-op. The call returns once the supervisor has confirmed teardown.
func (m *Manager) Stop(ctx context.Context, ref string) error {
	s, ok := m.registry.Lookup(ref)
	if !ok {
		return ErrSessionNotFound
	}
	if s.State().Terminal() {
		return nil
	}
	cmd := command{kind: stopCommand, reply: make(chan error, 1)}
	select {
	case s.commands <- cmd:
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Remove forgets a terminal session. Active sessions must be stopped first.
func (m *Manager) Remove(ref string) error {
	s, ok := m.registry.Lookup(ref)
	if !ok {
		return ErrSessionNotFound
	}
	if !s.State().Terminal() {
		return ErrSessionActive
	}
	m.registry.Remove(s.id)
	m.logger.Info("session removed", "session_id", s.id, "name", s.name)
	return nil
}

// Status returns the detail view of one session. Analytics are fetched
// best-effort for non-terminal sessions and omitted on failure.
func (m *Manager) Status(ctx context.Context, ref string) (models.SessionStatus, error) {
	s, ok := m.registry.Lookup(ref)
	if !ok {
		return models.SessionStatus{}, ErrSessionNotFound
	}
	status := s.Status()
	if !status.State.Terminal() && status.State != models.StateScheduled {
		if snapshot, err := m.platform.Analytics(ctx, s.id); err == nil {
			status.Analytics = &snapshot
		} else {
			m.logger.Debug("analytics fetch failed", "session_id", s.id, "error", err)
		}
	}
	return status, nil
}

// List returns summaries for every registered session in creation order.
func (m *Manager) List() []models.SessionSummary {
	sessions := m.registry.List()
	out := make([]models.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	return out
}

// SendChat posts a message to the session's broadcast chat.
func (m *Manager) SendChat(ctx context.Context, ref, text string) error {
	s, ok := m.registry.Lookup(ref)
	if !ok {
		return ErrSessionNotFound
	}
	if s.State().Terminal() {
		return ErrSessionTerminal
	}
	if s.chatID == "" {
		return ErrChatUnavailable
	}
	return m.platform.SendChatMessage(ctx, s.id, text)
}

// DisableChat turns off the broadcast chat for the session.
func (m *Manager) DisableChat(ctx context.Context, ref string) error {
	s, ok := m.registry.Lookup(ref)
	if !ok {
		return ErrSessionNotFound
	}
	if s.State().Terminal() {
		return ErrSessionTerminal
	}
	if s.chatID == "" {
		return ErrChatUnavailable
	}
	return m.platform.DisableChat(ctx, s.id)
}

// Shutdown stops the scheduler and asks every supervisor to wind down,
// waiting until they exit or ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	m.stopScheduler()
	g, waitCtx := errgroup.WithContext(ctx)
	for _, s := range m.registry.List() {
		done := s.Done()
		g.Go(func() error {
			select {
			case <-done:
				return nil
			case <-waitCtx.Done():
				return waitCtx.Err()
			}
		})
	}
	return g.Wait()
}

// activate is the scheduler callback: it moves a parked session into its
// start sequence.
func (m *Manager) activate(id string) {
	s, ok := m.registry.ByID(id)
	if !ok {
		return
	}
	cmd := command{kind: activateCommand, reply: make(chan error, 1)}
	select {
	case s.commands <- cmd:
		<-cmd.reply
	case <-s.Done():
	case <-m.ctx.Done():
	}
}

// emit publishes a lifecycle event to the notifier.
func (m *Manager) emit(s *Session, kind EventKind, severity Severity, message string) {
	m.publisher.Publish(Event{
		Kind:        kind,
		Severity:    severity,
		SessionID:   s.id,
		SessionName: s.name,
		Message:     message,
		At:          m.clock.Now(),
	})
}

// transition moves the session to a new state, appending exactly one log
// entry and publishing exactly one event.
func (m *Manager) transition(s *Session, to models.SessionState, kind EventKind, severity Severity, message string) {
	now := m.clock.Now()
	from := s.setState(to, now)
	s.appendLog(now, "%s -> %s: %s", from, to, message)
	m.metrics.ObserveTransition(string(from), string(to))
	m.emit(s, kind, severity, message)
	m.logger.Info("session transition",
		"session_id", s.id, "name", s.name, "from", from, "to", to, "reason", message)
}
