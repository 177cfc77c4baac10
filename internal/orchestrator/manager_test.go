package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"streamcast/internal/models"
	"streamcast/internal/platform"
)

func TestStartThenStopTerminatesProcesses(t *testing.T) {
	rig := newTestRig(t, Tunables{})
	id, _ := rig.startLive(t, testConfig("demo"))

	if got := rig.platform.transitionsFor(id); len(got) == 0 || got[0] != platform.LifecycleLive {
		t.Fatalf("expected live transition on platform, got %v", got)
	}

	if err := rig.m.Stop(context.Background(), id); err != nil {
		t.Fatalf("stop: %v", err)
	}
	rig.waitForState(t, id, models.StateStopped)

	if rig.launcher.launched() != 1 {
		t.Fatalf("launched = %d, want 1", rig.launcher.launched())
	}
	if !rig.launcher.handle(0).wasTerminated() {
		t.Fatal("push process was not terminated")
	}
	transitions := rig.platform.transitionsFor(id)
	if transitions[len(transitions)-1] != platform.LifecycleComplete {
		t.Fatalf("expected complete transition, got %v", transitions)
	}

	// Stopping again is a no-op.
	if err := rig.m.Stop(context.Background(), id); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStopUnknownSession(t *testing.T) {
	rig := newTestRig(t, Tunables{})
	if err := rig.m.Stop(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestGreetingPostedOnceLive(t *testing.T) {
	rig := newTestRig(t, Tunables{ChatGreeting: "hello chat"})
	id, _ := rig.startLive(t, testConfig("demo"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(rig.platform.chatFor(id)) > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	msgs := rig.platform.chatFor(id)
	if len(msgs) != 1 || msgs[0] != "hello chat" {
		t.Fatalf("chat messages = %v, want greeting", msgs)
	}
}

func TestHealthDebounceRequiresConsecutiveFailures(t *testing.T) {
	rig := newTestRig(t, Tunables{})
	id, ticker := rig.startLive(t, testConfig("demo"))
	primary := rig.launcher.handle(0)

	// One stale sample must not degrade the session.
	rig.clock.Advance(31 * time.Second)
	ticker.tick(t, rig.clock.Now())
	rig.waitForSamples(t, 2)
	if s, _ := rig.m.Registry().ByID(id); s.State() != models.StateLive {
		t.Fatalf("state after one bad sample = %s, want live", s.State())
	}

	// A healthy sample resets the debounce counter.
	primary.touch(rig.clock.Now())
	ticker.tick(t, rig.clock.Now())
	rig.waitForSamples(t, 3)

	// Two consecutive bad samples degrade.
	rig.clock.Advance(31 * time.Second)
	ticker.tick(t, rig.clock.Now())
	rig.waitForSamples(t, 4)
	s, _ := rig.m.Registry().ByID(id)
	if s.State() != models.StateLive {
		t.Fatalf("state after first bad sample = %s, want live", s.State())
	}
	ticker.tick(t, rig.clock.Now())
	rig.waitForState(t, id, models.StateDegraded)
}

func TestReconnectRecoversAndResetsRetries(t *testing.T) {
	rig := newTestRig(t, Tunables{})
	id, ticker := rig.startLive(t, testConfig("demo"))
	rig.launcher.handle(0).kill(1)

	ticker.tick(t, rig.clock.Now())
	rig.waitForSamples(t, 2)
	ticker.tick(t, rig.clock.Now())
	rig.waitForState(t, id, models.StateDegraded)

	timer := rig.waitTimer(t)
	if timer.delay != 2*time.Second {
		t.Fatalf("first backoff = %s, want 2s", timer.delay)
	}
	timer.fire(t, rig.clock.Advance(timer.delay))
	rig.waitForState(t, id, models.StateReconnecting)

	if rig.launcher.launched() != 2 {
		t.Fatalf("launched = %d, want relaunch", rig.launcher.launched())
	}
	ticker.tick(t, rig.clock.Now())
	rig.waitForState(t, id, models.StateLive)

	s, _ := rig.m.Registry().ByID(id)
	if s.Retries() != 1 {
		t.Fatalf("retries = %d, want 1", s.Retries())
	}

	// Staying healthy past the stabilization window clears the counter.
	rig.clock.Advance(2 * time.Minute)
	rig.launcher.handle(1).touch(rig.clock.Now())
	ticker.tick(t, rig.clock.Now())
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && s.Retries() != 0 {
		time.Sleep(2 * time.Millisecond)
	}
	if s.Retries() != 0 {
		t.Fatalf("retries = %d, want 0 after stabilization", s.Retries())
	}
}

func TestRetryBudgetExhaustedFailsSession(t *testing.T) {
	rig := newTestRig(t, Tunables{MaxRetries: 1})
	id, ticker := rig.startLive(t, testConfig("demo2"))
	rig.launcher.handle(0).kill(1)

	ticker.tick(t, rig.clock.Now())
	rig.waitForSamples(t, 2)
	ticker.tick(t, rig.clock.Now())
	rig.waitForState(t, id, models.StateDegraded)

	timer := rig.waitTimer(t)
	timer.fire(t, rig.clock.Advance(timer.delay))
	rig.waitForState(t, id, models.StateReconnecting)

	// The relaunched process stays alive but never produces output.
	rig.clock.Advance(31 * time.Second)
	ticker.tick(t, rig.clock.Now())
	rig.waitForSamples(t, 4)
	ticker.tick(t, rig.clock.Now())
	rig.waitForState(t, id, models.StateFailed)

	if rig.launcher.launched() != 2 {
		t.Fatalf("launched = %d, want exactly one retry", rig.launcher.launched())
	}
	if n := rig.events.count(EventRetriesExhausted); n != 1 {
		t.Fatalf("retries_exhausted events = %d, want 1", n)
	}
	for i := 0; i < rig.launcher.launched(); i++ {
		h := rig.launcher.handle(i)
		if h.Alive() {
			t.Fatalf("handle %d still alive after failure", i)
		}
	}
	status, err := rig.m.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.LastFailure != "max retries exceeded" {
		t.Fatalf("lastFailure = %q", status.LastFailure)
	}
}

func TestProcessExitBeforeLiveFailsSession(t *testing.T) {
	rig := newTestRig(t, Tunables{})
	id, err := rig.m.Start(context.Background(), testConfig("demo"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	ticker := rig.waitTicker(t)
	rig.launcher.handle(0).kill(1)
	ticker.tick(t, rig.clock.Now())
	rig.waitForState(t, id, models.StateFailed)

	if n := rig.events.count(EventFailed); n != 1 {
		t.Fatalf("failed events = %d, want 1", n)
	}
}

func TestLaunchFailureFailsSession(t *testing.T) {
	rig := newTestRig(t, Tunables{})
	rig.launcher.setErr(errors.New("ffmpeg not found"))
	id, err := rig.m.Start(context.Background(), testConfig("demo"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	rig.waitForState(t, id, models.StateFailed)
	status, err := rig.m.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.LastFailure == "" {
		t.Fatal("expected lastFailure to be recorded")
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	rig := newTestRig(t, Tunables{})
	if _, err := rig.m.Start(context.Background(), testConfig("demo")); err != nil {
		t.Fatalf("first start: %v", err)
	}
	rig.waitTicker(t)

	cfg := testConfig("demo")
	cfg.Name = "  Demo "
	if _, err := rig.m.Start(context.Background(), cfg); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("err = %v, want ErrDuplicateName", err)
	}
	if rig.m.Registry().Len() != 1 {
		t.Fatalf("registry len = %d, want 1", rig.m.Registry().Len())
	}
}

func TestInvalidConfigRejectedBeforeRemoteCall(t *testing.T) {
	rig := newTestRig(t, Tunables{})
	cfg := testConfig("demo")
	cfg.Content.Source = ""
	_, err := rig.m.Start(context.Background(), cfg)
	var cfgErr *models.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
	if rig.platform.created != 0 {
		t.Fatal("broadcast created despite invalid config")
	}
}

func TestScheduledSessionActivatesWhenDue(t *testing.T) {
	rig := newTestRig(t, Tunables{})
	cfg := testConfig("nightly")
	at := rig.clock.Now().Add(time.Hour)
	cfg.ScheduledAt = &at

	id, err := rig.m.Schedule(context.Background(), cfg)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	rig.waitForState(t, id, models.StateScheduled)
	if rig.launcher.launched() != 0 {
		t.Fatal("scheduled session launched early")
	}

	// Not due yet.
	rig.clock.Advance(30 * time.Minute)
	rig.schedTicker.tick(t, rig.clock.Now())
	if s, _ := rig.m.Registry().ByID(id); s.State() != models.StateScheduled {
		t.Fatalf("state = %s, want scheduled", s.State())
	}

	rig.clock.Advance(31 * time.Minute)
	rig.schedTicker.tick(t, rig.clock.Now())
	ticker := rig.waitTicker(t)
	ticker.tick(t, rig.clock.Now())
	rig.waitForState(t, id, models.StateLive)

	if rig.events.count(EventScheduled) != 1 || rig.events.count(EventStarting) != 1 {
		t.Fatal("expected one scheduled and one starting event")
	}
}

func TestScheduledSessionStoppedBeforeActivation(t *testing.T) {
	rig := newTestRig(t, Tunables{})
	cfg := testConfig("nightly")
	at := rig.clock.Now().Add(time.Hour)
	cfg.ScheduledAt = &at

	id, err := rig.m.Schedule(context.Background(), cfg)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := rig.m.Stop(context.Background(), id); err != nil {
		t.Fatalf("stop: %v", err)
	}
	rig.waitForState(t, id, models.StateStopped)
	if rig.launcher.launched() != 0 {
		t.Fatal("cancelled session launched a process")
	}
	if rig.m.scheduler.Pending(id) {
		t.Fatal("scheduler still holds cancelled session")
	}
}

func TestScheduleRequiresFutureTime(t *testing.T) {
	rig := newTestRig(t, Tunables{})
	if _, err := rig.m.Schedule(context.Background(), testConfig("demo")); !errors.Is(err, ErrScheduleRequired) {
		t.Fatalf("err = %v, want ErrScheduleRequired", err)
	}
	past := rig.clock.Now().Add(-time.Minute)
	cfg := testConfig("demo")
	cfg.ScheduledAt = &past
	if _, err := rig.m.Schedule(context.Background(), cfg); !errors.Is(err, ErrScheduleRequired) {
		t.Fatalf("err = %v, want ErrScheduleRequired", err)
	}
}

func TestSecondaryFailureDoesNotDegrade(t *testing.T) {
	rig := newTestRig(t, Tunables{})
	cfg := testConfig("demo")
	cfg.ExtraIngestionURLs = []string{"rtmp://backup.example/live"}
	id, ticker := rig.startLive(t, cfg)

	secondary := rig.launcher.lastFor("rtmp://backup.example/live")
	if secondary == nil {
		t.Fatal("secondary never launched")
	}
	secondary.kill(1)

	for i := 0; i < 3; i++ {
		ticker.tick(t, rig.clock.Now())
		rig.waitForSamples(t, uint64(2+i))
	}
	if s, _ := rig.m.Registry().ByID(id); s.State() != models.StateLive {
		t.Fatalf("state = %s, want live despite secondary failure", s.State())
	}
	if n := rig.events.count(EventChildFailed); n != 1 {
		t.Fatalf("child_failed events = %d, want exactly 1", n)
	}
}

func TestSecondaryFailureEscalatesWhenConfigured(t *testing.T) {
	rig := newTestRig(t, Tunables{EscalateChildFailures: true})
	cfg := testConfig("demo")
	cfg.ExtraIngestionURLs = []string{"rtmp://backup.example/live"}
	id, ticker := rig.startLive(t, cfg)

	secondary := rig.launcher.lastFor("rtmp://backup.example/live")
	secondary.kill(1)

	ticker.tick(t, rig.clock.Now())
	rig.waitForSamples(t, 2)
	ticker.tick(t, rig.clock.Now())
	rig.waitForState(t, id, models.StateDegraded)
}

func TestSendChatAndDisableChat(t *testing.T) {
	rig := newTestRig(t, Tunables{ChatGreeting: "-"})
	id, _ := rig.startLive(t, testConfig("demo"))

	if err := rig.m.SendChat(context.Background(), id, "hello"); err != nil {
		t.Fatalf("send chat: %v", err)
	}
	found := false
	for _, msg := range rig.platform.chatFor(id) {
		if msg == "hello" {
			found = true
		}
	}
	if !found {
		t.Fatalf("chat messages = %v, want hello", rig.platform.chatFor(id))
	}
	if err := rig.m.DisableChat(context.Background(), id); err != nil {
		t.Fatalf("disable chat: %v", err)
	}

	if err := rig.m.Stop(context.Background(), id); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := rig.m.SendChat(context.Background(), id, "late"); !errors.Is(err, ErrSessionTerminal) {
		t.Fatalf("err = %v, want ErrSessionTerminal", err)
	}
	if err := rig.m.SendChat(context.Background(), "ghost", "x"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestStatusReportsChildrenAndAnalytics(t *testing.T) {
	rig := newTestRig(t, Tunables{})
	id, _ := rig.startLive(t, testConfig("demo"))

	status, err := rig.m.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status.Children) != 1 || !status.Children[0].Primary || !status.Children[0].Alive {
		t.Fatalf("children = %+v", status.Children)
	}
	if status.Analytics == nil || status.Analytics.ConcurrentViewers != 12 {
		t.Fatalf("analytics = %+v, want snapshot", status.Analytics)
	}
	if len(status.Logs) == 0 {
		t.Fatal("expected session logs")
	}

	if err := rig.m.Stop(context.Background(), id); err != nil {
		t.Fatalf("stop: %v", err)
	}
	status, err = rig.m.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("status after stop: %v", err)
	}
	if status.Analytics != nil {
		t.Fatal("terminal session should not fetch analytics")
	}
}

func TestRemoveRequiresTerminalState(t *testing.T) {
	rig := newTestRig(t, Tunables{})
	id, _ := rig.startLive(t, testConfig("demo"))

	if err := rig.m.Remove(id); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("err = %v, want ErrSessionActive", err)
	}
	if err := rig.m.Stop(context.Background(), id); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := rig.m.Remove(id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := rig.m.Registry().ByID(id); ok {
		t.Fatal("session still registered after remove")
	}
	if err := rig.m.Remove(id); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestListOrdersByCreation(t *testing.T) {
	rig := newTestRig(t, Tunables{})
	first, _ := rig.startLive(t, testConfig("alpha"))
	rig.clock.Advance(time.Second)
	second, err := rig.m.Start(context.Background(), testConfig("beta"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	rig.waitTicker(t)

	summaries := rig.m.List()
	if len(summaries) != 2 {
		t.Fatalf("len = %d, want 2", len(summaries))
	}
	if summaries[0].ID != first || summaries[1].ID != second {
		t.Fatalf("order = %s, %s", summaries[0].ID, summaries[1].ID)
	}
}

func TestLookupByName(t *testing.T) {
	rig := newTestRig(t, Tunables{})
	id, _ := rig.startLive(t, testConfig("My Stream"))

	status, err := rig.m.Status(context.Background(), "my stream")
	if err != nil {
		t.Fatalf("status by name: %v", err)
	}
	if status.ID != id {
		t.Fatalf("id = %s, want %s", status.ID, id)
	}
}

func TestShutdownStopsAllSessions(t *testing.T) {
	rig := newTestRig(t, Tunables{})
	id, _ := rig.startLive(t, testConfig("demo"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rig.m.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	s, _ := rig.m.Registry().ByID(id)
	if s.State() != models.StateStopped {
		t.Fatalf("state = %s, want stopped", s.State())
	}
	if !rig.launcher.handle(0).wasTerminated() {
		t.Fatal("push process survived shutdown")
	}
	if _, err := rig.m.Start(ctx, testConfig("late")); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("err = %v, want ErrShuttingDown", err)
	}
}
