package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"streamcast/internal/models"
	"streamcast/internal/observability/metrics"
	"streamcast/internal/platform"
	"streamcast/internal/pushproc"
)

// fakeClock hands out manually driven tickers and timers. Every ticker or
// timer the code under test creates is also pushed onto a channel so the
// test can grab it and fire it.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers chan *fakeTicker
	timers  chan *fakeTimer
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{
		now:     start,
		tickers: make(chan *fakeTicker, 8),
		timers:  make(chan *fakeTimer, 8),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	c.tickers <- t
	return t
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	t := &fakeTimer{ch: make(chan time.Time, 1), delay: d}
	c.timers <- t
	return t
}

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

func (t *fakeTicker) tick(tb testing.TB, at time.Time) {
	tb.Helper()
	select {
	case t.ch <- at:
	case <-time.After(2 * time.Second):
		tb.Fatal("tick not consumed")
	}
}

type fakeTimer struct {
	ch    chan time.Time
	delay time.Duration
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }
func (t *fakeTimer) Stop()               {}

func (t *fakeTimer) fire(tb testing.TB, at time.Time) {
	tb.Helper()
	select {
	case t.ch <- at:
	case <-time.After(2 * time.Second):
		tb.Fatal("timer fire not consumed")
	}
}

// fakeHandle is a controllable push process.
type fakeHandle struct {
	mu           sync.Mutex
	dest         string
	alive        bool
	lastActivity time.Time
	exitCode     int
	exited       bool
	terminated   bool
}

func (h *fakeHandle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

func (h *fakeHandle) ExitCode() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode, h.exited
}

func (h *fakeHandle) LastActivity() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastActivity
}

func (h *fakeHandle) Terminate(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alive = false
	h.exited = true
	h.terminated = true
	return nil
}

func (h *fakeHandle) touch(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastActivity = at
}

func (h *fakeHandle) kill(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alive = false
	h.exited = true
	h.exitCode = code
}

func (h *fakeHandle) wasTerminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}

// fakeLauncher records every launch and hands back live fake handles unless
// primed with an error.
type fakeLauncher struct {
	mu      sync.Mutex
	clock   *fakeClock
	err     error
	handles []*fakeHandle
}

func (l *fakeLauncher) Launch(_ context.Context, spec pushproc.Spec) (pushproc.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, &pushproc.LaunchError{Destination: spec.Destination, Err: l.err}
	}
	h := &fakeHandle{dest: spec.Destination, alive: true, lastActivity: l.clock.Now()}
	l.handles = append(l.handles, h)
	return h, nil
}

func (l *fakeLauncher) setErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

func (l *fakeLauncher) launched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handles)
}

func (l *fakeLauncher) handle(i int) *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handles[i]
}

func (l *fakeLauncher) lastFor(dest string) *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.handles) - 1; i >= 0; i-- {
		if l.handles[i].dest == dest {
			return l.handles[i]
		}
	}
	return nil
}

// fakePlatform is an in-memory platform.Client.
type fakePlatform struct {
	mu           sync.Mutex
	created      int
	createErr    error
	bindErr      error
	transitions  map[string][]string
	chat         map[string][]string
	chatDisabled map[string]bool
	analytics    models.AnalyticsSnapshot
	analyticsErr error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		transitions:  make(map[string][]string),
		chat:         make(map[string][]string),
		chatDisabled: make(map[string]bool),
		analytics:    models.AnalyticsSnapshot{ConcurrentViewers: 12, HealthStatus: "good"},
	}
}

func (p *fakePlatform) CreateBroadcast(_ context.Context, req platform.BroadcastRequest) (platform.Broadcast, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return platform.Broadcast{}, p.createErr
	}
	p.created++
	id := fmt.Sprintf("bc-%03d", p.created)
	return platform.Broadcast{ID: id, ChatID: "chat-" + id}, nil
}

func (p *fakePlatform) BindStream(_ context.Context, broadcastID, _, _ string) (platform.StreamBinding, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bindErr != nil {
		return platform.StreamBinding{}, p.bindErr
	}
	return platform.StreamBinding{
		StreamID:     broadcastID + "-stream",
		IngestionURL: "rtmp://ingest.example/live",
		StreamKey:    "key-" + broadcastID,
	}, nil
}

func (p *fakePlatform) Transition(_ context.Context, broadcastID, status string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transitions[broadcastID] = append(p.transitions[broadcastID], status)
	return nil
}

func (p *fakePlatform) SendChatMessage(_ context.Context, broadcastID, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chat[broadcastID] = append(p.chat[broadcastID], text)
	return nil
}

func (p *fakePlatform) DisableChat(_ context.Context, broadcastID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chatDisabled[broadcastID] = true
	return nil
}

func (p *fakePlatform) Analytics(context.Context, string) (models.AnalyticsSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.analyticsErr != nil {
		return models.AnalyticsSnapshot{}, p.analyticsErr
	}
	return p.analytics, nil
}

func (p *fakePlatform) transitionsFor(id string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.transitions[id]...)
}

func (p *fakePlatform) chatFor(id string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.chat[id]...)
}

// capturePublisher records every event.
type capturePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (c *capturePublisher) Publish(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *capturePublisher) count(kind EventKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// testRig wires a manager against the fakes with a quiet logger.
type testRig struct {
	m        *Manager
	clock    *fakeClock
	launcher *fakeLauncher
	platform *fakePlatform
	events   *capturePublisher
	metrics  *metrics.Recorder
	// schedTicker drives the scheduler poll loop.
	schedTicker *fakeTicker
}

func newTestRig(t *testing.T, tun Tunables) *testRig {
	t.Helper()
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	launcher := &fakeLauncher{clock: clock}
	pf := newFakePlatform()
	events := &capturePublisher{}
	recorder := metrics.New()
	m := NewManager(Options{
		Platform:  pf,
		Launcher:  launcher,
		Publisher: events,
		Metrics:   recorder,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:     clock,
		Tunables:  tun,
	})
	rig := &testRig{m: m, clock: clock, launcher: launcher, platform: pf, events: events, metrics: recorder}
	rig.schedTicker = rig.waitTicker(t)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return rig
}

func (r *testRig) waitTicker(t *testing.T) *fakeTicker {
	t.Helper()
	select {
	case tk := <-r.clock.tickers:
		return tk
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ticker")
		return nil
	}
}

func (r *testRig) waitTimer(t *testing.T) *fakeTimer {
	t.Helper()
	select {
	case tm := <-r.clock.timers:
		return tm
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for timer")
		return nil
	}
}

func (r *testRig) waitForState(t *testing.T, id string, want models.SessionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s, ok := r.m.Registry().ByID(id); ok && s.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	s, ok := r.m.Registry().ByID(id)
	if !ok {
		t.Fatalf("session %s not registered", id)
	}
	t.Fatalf("session %s state = %s, want %s", id, s.State(), want)
}

// waitForSamples blocks until the recorder has seen total health samples,
// which is the test's barrier for "the supervisor processed that tick".
func (r *testRig) waitForSamples(t *testing.T, total uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var sum uint64
		for _, n := range r.metrics.HealthSampleCounts() {
			sum += n
		}
		if sum >= total {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d health samples", total)
}

// startLive starts a session and drives it to live, returning its id and
// the supervisor's sampling ticker.
func (r *testRig) startLive(t *testing.T, cfg models.SessionConfig) (string, *fakeTicker) {
	t.Helper()
	id, err := r.m.Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	ticker := r.waitTicker(t)
	ticker.tick(t, r.clock.Now())
	r.waitForState(t, id, models.StateLive)
	return id, ticker
}

func testConfig(name string) models.SessionConfig {
	return models.SessionConfig{
		Name:       name,
		Title:      name + " title",
		Privacy:    "unlisted",
		Resolution: "1080p",
		Bitrate:    "4500k",
		Content:    models.ContentSource{Source: "/videos/loop.mp4", Loop: true},
	}
}
