// Package testsupport provides in-memory fakes for the remote platform and
// the push-process launcher, shared by tests that need a working
// orchestrator without external processes.
package testsupport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"streamcast/internal/models"
	"streamcast/internal/platform"
	"streamcast/internal/pushproc"
)

// FakeHandle is a controllable push process handle.
type FakeHandle struct {
	mu           sync.Mutex
	destination  string
	alive        bool
	lastActivity time.Time
	exitCode     int
	exited       bool
}

func (h *FakeHandle) Destination() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destination
}

func (h *FakeHandle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

func (h *FakeHandle) ExitCode() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode, h.exited
}

func (h *FakeHandle) LastActivity() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastActivity
}

func (h *FakeHandle) Terminate(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alive = false
	h.exited = true
	return nil
}

// Touch records fresh process output at the given time.
func (h *FakeHandle) Touch(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastActivity = at
}

// Exit simulates the process dying with the given code.
func (h *FakeHandle) Exit(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alive = false
	h.exited = true
	h.exitCode = code
}

// FakeLauncher hands out live FakeHandles and records every launch.
type FakeLauncher struct {
	mu      sync.Mutex
	err     error
	handles []*FakeHandle
}

func (l *FakeLauncher) Launch(_ context.Context, spec pushproc.Spec) (pushproc.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, &pushproc.LaunchError{Destination: spec.Destination, Err: l.err}
	}
	h := &FakeHandle{destination: spec.Destination, alive: true, lastActivity: time.Now()}
	l.handles = append(l.handles, h)
	return h, nil
}

// Fail makes subsequent launches return err. Pass nil to recover.
func (l *FakeLauncher) Fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

func (l *FakeLauncher) Launched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handles)
}

func (l *FakeLauncher) Handle(i int) *FakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handles[i]
}

// FakePlatform is an in-memory platform.Client.
type FakePlatform struct {
	mu           sync.Mutex
	created      int
	CreateErr    error
	BindErr      error
	AnalyticsErr error
	Snapshot     models.AnalyticsSnapshot
	transitions  map[string][]string
	chat         map[string][]string
}

func NewFakePlatform() *FakePlatform {
	return &FakePlatform{
		Snapshot:    models.AnalyticsSnapshot{ConcurrentViewers: 7, HealthStatus: "good"},
		transitions: make(map[string][]string),
		chat:        make(map[string][]string),
	}
}

func (p *FakePlatform) CreateBroadcast(_ context.Context, _ platform.BroadcastRequest) (platform.Broadcast, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CreateErr != nil {
		return platform.Broadcast{}, p.CreateErr
	}
	p.created++
	id := fmt.Sprintf("bc-%03d", p.created)
	return platform.Broadcast{ID: id, ChatID: "chat-" + id}, nil
}

func (p *FakePlatform) BindStream(_ context.Context, broadcastID, _, _ string) (platform.StreamBinding, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.BindErr != nil {
		return platform.StreamBinding{}, p.BindErr
	}
	return platform.StreamBinding{
		StreamID:     broadcastID + "-stream",
		IngestionURL: "rtmp://ingest.example/live",
		StreamKey:    "key-" + broadcastID,
	}, nil
}

func (p *FakePlatform) Transition(_ context.Context, broadcastID, status string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transitions[broadcastID] = append(p.transitions[broadcastID], status)
	return nil
}

func (p *FakePlatform) SendChatMessage(_ context.Context, broadcastID, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chat[broadcastID] = append(p.chat[broadcastID], text)
	return nil
}

func (p *FakePlatform) DisableChat(_ context.Context, broadcastID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chat[broadcastID] = nil
	return nil
}

func (p *FakePlatform) Analytics(context.Context, string) (models.AnalyticsSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AnalyticsErr != nil {
		return models.AnalyticsSnapshot{}, p.AnalyticsErr
	}
	return p.Snapshot, nil
}

// Transitions returns the lifecycle transitions recorded for one broadcast.
func (p *FakePlatform) Transitions(id string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.transitions[id]...)
}

// ChatMessages returns the chat messages recorded for one broadcast.
func (p *FakePlatform) ChatMessages(id string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.chat[id]...)
}
