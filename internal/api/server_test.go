package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AaronLay10/LiveMix/internal/command"
	"github.com/AaronLay10/LiveMix/internal/events"
	"github.com/AaronLay10/LiveMix/internal/orchestrator"
)

// recordingSink captures delivered commands.
type recordingSink struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *recordingSink) Send(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, cmd)
	return nil
}

func (s *recordingSink) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.sent...)
}

type fixedStats orchestrator.Stats

func (f fixedStats) Stats() orchestrator.Stats { return orchestrator.Stats(f) }

func setReadiness(scheduler, mqttUp, mqttOpt, pgUp, pgOpt bool) {
	readiness.mu.Lock()
	readiness.schedulerReady = scheduler
	readiness.mqttConnected = mqttUp
	readiness.mqttOptional = mqttOpt
	readiness.postgresConnected = pgUp
	readiness.postgresOptional = pgOpt
	readiness.mu.Unlock()
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" || resp.Service != "livemix" {
		t.Errorf("unexpected health response %+v", resp)
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name                   string
		scheduler              bool
		mqttUp, mqttOpt        bool
		pgUp, pgOpt            bool
		wantStatus             int
		wantScheduler          string
		wantMQTT, wantPostgres string
	}{
		{"all ready", true, true, false, true, false, http.StatusOK, "ok", "ok", "ok"},
		{"scheduler not ready", false, true, false, true, false, http.StatusServiceUnavailable, "not_ready", "ok", "ok"},
		{"optional mqtt down", true, false, true, true, false, http.StatusOK, "ok", "unavailable", "ok"},
		{"required mqtt down", true, false, false, true, false, http.StatusServiceUnavailable, "ok", "not_ready", "ok"},
		{"optional postgres down", true, true, false, false, true, http.StatusOK, "ok", "ok", "unavailable"},
		{"several down", false, false, false, true, false, http.StatusServiceUnavailable, "not_ready", "not_ready", "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setReadiness(tt.scheduler, tt.mqttUp, tt.mqttOpt, tt.pgUp, tt.pgOpt)

			w := httptest.NewRecorder()
			readyHandler(w, httptest.NewRequest("GET", "/ready", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			var resp ReadinessResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Ready != (tt.wantStatus == http.StatusOK) {
				t.Errorf("unexpected ready=%v", resp.Ready)
			}
			if resp.Checks["scheduler"].Status != tt.wantScheduler {
				t.Errorf("scheduler: expected %q, got %q", tt.wantScheduler, resp.Checks["scheduler"].Status)
			}
			if resp.Checks["mqtt"].Status != tt.wantMQTT {
				t.Errorf("mqtt: expected %q, got %q", tt.wantMQTT, resp.Checks["mqtt"].Status)
			}
			if resp.Checks["postgres"].Status != tt.wantPostgres {
				t.Errorf("postgres: expected %q, got %q", tt.wantPostgres, resp.Checks["postgres"].Status)
			}
			if !resp.Ready && resp.NotReadyMsg == "" {
				t.Error("expected a reason when not ready")
			}
		})
	}
}

func TestSetReadinessState(t *testing.T) {
	SetSchedulerReady(true)
	SetMQTTState(false, true)
	SetPostgresState(true, false)

	readiness.mu.RLock()
	defer readiness.mu.RUnlock()
	if !readiness.schedulerReady {
		t.Error("SetSchedulerReady(true) didn't set state")
	}
	if readiness.mqttConnected || !readiness.mqttOptional {
		t.Error("SetMQTTState(false, true) didn't set state correctly")
	}
	if !readiness.postgresConnected || readiness.postgresOptional {
		t.Error("SetPostgresState(true, false) didn't set state correctly")
	}
}

func TestEventsEndpointSince(t *testing.T) {
	events.Clear()
	for i := 0; i < 3; i++ {
		events.Emit("info", "command.received", "", map[string]interface{}{"i": i})
	}
	all := events.Snapshot()

	w := httptest.NewRecorder()
	eventsHandler(w, httptest.NewRequest("GET", "/events", nil))
	var got []events.Event
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}

	w = httptest.NewRecorder()
	eventsHandler(w, httptest.NewRequest("GET", "/events?since="+strconv.FormatUint(all[0].Seq, 10), nil))
	got = nil
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 2 || got[0].Seq != all[1].Seq {
		t.Errorf("expected the 2 newer events, got %+v", got)
	}

	w = httptest.NewRecorder()
	eventsHandler(w, httptest.NewRequest("GET", "/events?since=abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid since, got %d", w.Code)
	}
}

func TestEventsEndpointDBWithoutStore(t *testing.T) {
	events.SetPostgresClient(nil)

	w := httptest.NewRecorder()
	eventsHandler(w, httptest.NewRequest("GET", "/events?source=db", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without event store, got %d", w.Code)
	}
}

func postCommand(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/command", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	commandHandler(w, req)
	return w
}

func TestCommandEndpoint(t *testing.T) {
	sink := &recordingSink{}
	SetCommandSink(sink)
	defer SetCommandSink(nil)

	w := postCommand(t, `{"command":"winA move 0 0 0 2 100 100 mcos mcos"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp CommandResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.OK {
		t.Errorf("expected ok, got %+v", resp)
	}

	w = postCommand(t, `{"command":" terminate"}`)
	if w.Code != http.StatusAccepted {
		t.Errorf("expected terminate to be accepted, got %d", w.Code)
	}

	sent := sink.Sent()
	if len(sent) != 2 || sent[0] != "winA move 0 0 0 2 100 100 mcos mcos" || sent[1] != " terminate" {
		t.Errorf("unexpected delivered commands %q", sent)
	}
}

func TestCommandEndpointRejects(t *testing.T) {
	sink := &recordingSink{}
	SetCommandSink(sink)
	defer SetCommandSink(nil)

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
	}{
		{"wrong method", "GET", "", http.StatusMethodNotAllowed},
		{"invalid json", "POST", "{", http.StatusBadRequest},
		{"empty command", "POST", `{"command":"  "}`, http.StatusBadRequest},
		{"malformed command", "POST", `{"command":"winA"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/command", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			commandHandler(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
	if len(sink.Sent()) != 0 {
		t.Errorf("expected nothing delivered, got %q", sink.Sent())
	}
}

func TestCommandEndpointQueueFull(t *testing.T) {
	events.Clear()
	SetCommandSink(&recordingSink{err: command.ErrQueueFull})
	defer SetCommandSink(nil)

	w := postCommand(t, `{"command":"winA show"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
	failed := events.Find("command.failed")
	if len(failed) != 1 || failed[0].Fields["source"] != "api" {
		t.Errorf("expected one command.failed from api, got %+v", failed)
	}
}

func TestCommandEndpointOtherSendError(t *testing.T) {
	SetCommandSink(&recordingSink{err: errors.New("boom")})
	defer SetCommandSink(nil)

	if w := postCommand(t, `{"command":"winA show"}`); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestCommandEndpointWithoutShow(t *testing.T) {
	SetCommandSink(nil)
	if w := postCommand(t, `{"command":"winA show"}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a running show, got %d", w.Code)
	}
}

func TestPreEndpoint(t *testing.T) {
	sink := &recordingSink{}
	SetCommandSink(sink)
	defer SetCommandSink(nil)

	w := httptest.NewRecorder()
	preHandler(w, httptest.NewRequest("POST", "/pre", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if sent := sink.Sent(); len(sent) != 1 || sent[0] != command.Pre {
		t.Errorf("expected pre command, got %q", sent)
	}

	w = httptest.NewRecorder()
	preHandler(w, httptest.NewRequest("GET", "/pre", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestCommandQueueAsSink(t *testing.T) {
	q := command.NewQueue(1)
	SetCommandSink(q)
	defer SetCommandSink(nil)

	if w := postCommand(t, `{"command":"winA hide"}`); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if w := postCommand(t, `{"command":"winA show"}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 once the queue is full, got %d", w.Code)
	}
	if line, ok := q.TryRecv(); !ok || line != "winA hide" {
		t.Errorf("expected queued command, got %q", line)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	InitMetrics()
	SetShowID("radio")
	SetStatsSource(fixedStats{Ticks: 42, Commands: 7, CommandFailures: 1, TriggersFired: 3, ActiveAnimations: 2, Windows: 4, PendingCommands: 5})
	defer SetStatsSource(nil)
	SetSchedulerReady(true)
	SetMQTTState(true, false)
	SetPostgresState(false, true)

	w := httptest.NewRecorder()
	metricsHandler(w, httptest.NewRequest("GET", "/metrics", nil))
	body := w.Body.String()

	for _, want := range []string{
		"# TYPE livemix_scheduler_ticks_total counter",
		`livemix_scheduler_ticks_total{show="radio"`,
		"} 42\n",
		"livemix_commands_total{",
		"livemix_command_failures_total{",
		"livemix_triggers_fired_total{",
		"livemix_animations_active{",
		"livemix_windows{",
		"livemix_commands_pending{",
		"livemix_events_total{",
		"livemix_ws_clients{",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
	if !strings.Contains(body, "livemix_mqtt_connected{") || !strings.Contains(body, "livemix_postgres_connected{") {
		t.Error("expected connectivity gauges")
	}
	if GetShowID() != "radio" {
		t.Errorf("expected show id radio, got %q", GetShowID())
	}

	w = httptest.NewRecorder()
	metricsHandler(w, httptest.NewRequest("POST", "/metrics", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestHandlerRoutesRequireRole(t *testing.T) {
	enableTestAuth()
	defer resetAuth()
	sink := &recordingSink{}
	SetCommandSink(sink)
	defer SetCommandSink(nil)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected open /health, got %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/command", "application/json", strings.NewReader(`{"command":"winA show"}`))
	if err != nil {
		t.Fatalf("command request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without credentials, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest("POST", srv.URL+"/command", strings.NewReader(`{"command":"winA show"}`))
	req.SetBasicAuth("operator", "opsecret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("command request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("expected 202 for operator, got %d", resp.StatusCode)
	}
	if sent := sink.Sent(); len(sent) != 1 {
		t.Errorf("expected one delivered command, got %q", sent)
	}
}

func TestPreRouteRequiresAdmin(t *testing.T) {
	enableTestAuth()
	defer resetAuth()
	sink := &recordingSink{}
	SetCommandSink(sink)
	defer SetCommandSink(nil)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	tests := []struct {
		user, pass string
		want       int
	}{
		{"operator", "opsecret", http.StatusForbidden},
		{"admin", "secret", http.StatusAccepted},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest("POST", srv.URL+"/pre", nil)
		req.SetBasicAuth(tt.user, tt.pass)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("pre request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.user, tt.want, resp.StatusCode)
		}
	}
	if sent := sink.Sent(); len(sent) != 1 || sent[0] != command.Pre {
		t.Errorf("expected only the admin's pre to be delivered, got %q", sent)
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ListenAndServe(ctx, 0) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for server shutdown")
	}
}
