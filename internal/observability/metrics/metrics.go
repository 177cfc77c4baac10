package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

type transitionLabel struct {
	from string
	to   string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests,
// session state transitions, health sampling, reconnect attempts, push
// process launches, and notifier deliveries. Writers are coordinated through
// a RWMutex; the active-session gauge is atomic so supervisory loops can
// update it without contending on the map lock.
type Recorder struct {
	mu                sync.RWMutex
	requestCount      map[requestLabel]uint64
	requestDuration   map[requestLabel]time.Duration
	transitions       map[transitionLabel]uint64
	healthSamples     map[string]uint64
	reconnectAttempts uint64
	reconnectFailures uint64
	launchAttempts    uint64
	launchFailures    uint64
	notifierDelivered map[string]uint64
	notifierFailed    map[string]uint64
	notifierDropped   uint64
	activeSessions    atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:      make(map[requestLabel]uint64),
		requestDuration:   make(map[requestLabel]time.Duration),
		transitions:       make(map[transitionLabel]uint64),
		healthSamples:     make(map[string]uint64),
		notifierDelivered: make(map[string]uint64),
		notifierFailed:    make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared by packages that do not wire
// a custom instrumentation pipeline.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by HTTP
// method, path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveTransition records one session state transition.
func (r *Recorder) ObserveTransition(from, to string) {
	label := transitionLabel{from: normalizeName(from), to: normalizeName(to)}
	r.mu.Lock()
	r.transitions[label]++
	r.mu.Unlock()
}

// SessionStarted increments the active-session gauge.
func (r *Recorder) SessionStarted() {
	r.activeSessions.Add(1)
}

// SessionEnded decrements the active-session gauge, guarding against negative
// counts when concurrent updates race.
func (r *Recorder) SessionEnded() {
	for {
		current := r.activeSessions.Load()
		if current <= 0 {
			return
		}
		if r.activeSessions.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// ActiveSessions exposes the current gauge of non-terminal sessions.
func (r *Recorder) ActiveSessions() int64 {
	return r.activeSessions.Load()
}

// ObserveHealthSample records one health sample outcome ("healthy" or
// "unhealthy").
func (r *Recorder) ObserveHealthSample(outcome string) {
	name := normalizeName(outcome)
	r.mu.Lock()
	r.healthSamples[name]++
	r.mu.Unlock()
}

// ObserveReconnect records a reconnect attempt, and a failure when the
// restart itself did not succeed.
func (r *Recorder) ObserveReconnect(failed bool) {
	r.mu.Lock()
	r.reconnectAttempts++
	if failed {
		r.reconnectFailures++
	}
	r.mu.Unlock()
}

// ObserveLaunch records a push-process launch attempt.
func (r *Recorder) ObserveLaunch(failed bool) {
	r.mu.Lock()
	r.launchAttempts++
	if failed {
		r.launchFailures++
	}
	r.mu.Unlock()
}

// ObserveNotifierDelivery records the outcome of one sink delivery keyed by
// sink name.
func (r *Recorder) ObserveNotifierDelivery(sink string, err error) {
	name := normalizeName(sink)
	r.mu.Lock()
	if err != nil {
		r.notifierFailed[name]++
	} else {
		r.notifierDelivered[name]++
	}
	r.mu.Unlock()
}

// ObserveNotifierDrop records an event discarded because the outbound queue
// was saturated.
func (r *Recorder) ObserveNotifierDrop() {
	r.mu.Lock()
	r.notifierDropped++
	r.mu.Unlock()
}

// ReconnectCounts returns the attempt and failure counters for reporting and
// tests.
func (r *Recorder) ReconnectCounts() (attempts, failures uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reconnectAttempts, r.reconnectFailures
}

// HealthSampleCounts returns a copy of the health sample counters.
func (r *Recorder) HealthSampleCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.healthSamples))
	for k, v := range r.healthSamples {
		out[k] = v
	}
	return out
}

// Reset clears all counters and gauges. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.transitions = make(map[transitionLabel]uint64)
	r.healthSamples = make(map[string]uint64)
	r.reconnectAttempts = 0
	r.reconnectFailures = 0
	r.launchAttempts = 0
	r.launchFailures = 0
	r.notifierDelivered = make(map[string]uint64)
	r.notifierFailed = make(map[string]uint64)
	r.notifierDropped = 0
	r.activeSessions.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics in Prometheus text format, sorting label sets so
// the output is stable for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	transitionLabels := r.sortedTransitionLabels()
	sampleOutcomes := sortedKeys(r.healthSamples)
	deliveredSinks := sortedKeys(r.notifierDelivered)
	failedSinks := sortedKeys(r.notifierFailed)

	fmt.Fprintln(w, "# HELP streamcast_http_requests_total Total number of HTTP requests processed by the control API")
	fmt.Fprintln(w, "# TYPE streamcast_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "streamcast_http_requests_total{method=%q,path=%q,status=%q} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP streamcast_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE streamcast_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "streamcast_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP streamcast_session_transitions_total Session state transitions by source and target state")
	fmt.Fprintln(w, "# TYPE streamcast_session_transitions_total counter")
	for _, label := range transitionLabels {
		fmt.Fprintf(w, "streamcast_session_transitions_total{from=%q,to=%q} %d\n", label.from, label.to, r.transitions[label])
	}

	fmt.Fprintln(w, "# HELP streamcast_sessions_active Number of sessions not in a terminal state")
	fmt.Fprintln(w, "# TYPE streamcast_sessions_active gauge")
	fmt.Fprintf(w, "streamcast_sessions_active %d\n", r.activeSessions.Load())

	fmt.Fprintln(w, "# HELP streamcast_health_samples_total Health samples by outcome")
	fmt.Fprintln(w, "# TYPE streamcast_health_samples_total counter")
	for _, outcome := range sampleOutcomes {
		fmt.Fprintf(w, "streamcast_health_samples_total{outcome=%q} %d\n", outcome, r.healthSamples[outcome])
	}

	fmt.Fprintln(w, "# HELP streamcast_reconnect_attempts_total Reconnect attempts across all sessions")
	fmt.Fprintln(w, "# TYPE streamcast_reconnect_attempts_total counter")
	fmt.Fprintf(w, "streamcast_reconnect_attempts_total %d\n", r.reconnectAttempts)

	fmt.Fprintln(w, "# HELP streamcast_reconnect_failures_total Reconnect attempts that failed to relaunch")
	fmt.Fprintln(w, "# TYPE streamcast_reconnect_failures_total counter")
	fmt.Fprintf(w, "streamcast_reconnect_failures_total %d\n", r.reconnectFailures)

	fmt.Fprintln(w, "# HELP streamcast_push_launches_total Push process launch attempts")
	fmt.Fprintln(w, "# TYPE streamcast_push_launches_total counter")
	fmt.Fprintf(w, "streamcast_push_launches_total %d\n", r.launchAttempts)

	fmt.Fprintln(w, "# HELP streamcast_push_launch_failures_total Push process launches that failed")
	fmt.Fprintln(w, "# TYPE streamcast_push_launch_failures_total counter")
	fmt.Fprintf(w, "streamcast_push_launch_failures_total %d\n", r.launchFailures)

	fmt.Fprintln(w, "# HELP streamcast_notifier_delivered_total Notifier events delivered by sink")
	fmt.Fprintln(w, "# TYPE streamcast_notifier_delivered_total counter")
	for _, sink := range deliveredSinks {
		fmt.Fprintf(w, "streamcast_notifier_delivered_total{sink=%q} %d\n", sink, r.notifierDelivered[sink])
	}

	fmt.Fprintln(w, "# HELP streamcast_notifier_failures_total Notifier delivery failures by sink")
	fmt.Fprintln(w, "# TYPE streamcast_notifier_failures_total counter")
	for _, sink := range failedSinks {
		fmt.Fprintf(w, "streamcast_notifier_failures_total{sink=%q} %d\n", sink, r.notifierFailed[sink])
	}

	fmt.Fprintln(w, "# HELP streamcast_notifier_dropped_total Notifier events dropped because the queue was full")
	fmt.Fprintln(w, "# TYPE streamcast_notifier_dropped_total counter")
	fmt.Fprintf(w, "streamcast_notifier_dropped_total %d\n", r.notifierDropped)
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedTransitionLabels() []transitionLabel {
	labels := make([]transitionLabel, 0, len(r.transitions))
	for label := range r.transitions {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].from != labels[j].from {
			return labels[i].from < labels[j].from
		}
		return labels[i].to < labels[j].to
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// normalizePath collapses path segments that look like identifiers so metric
// cardinality stays bounded.
func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if len(segment) >= 16 && isHexish(segment) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

func isHexish(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		case r == '-':
		default:
			return false
		}
	}
	return true
}
