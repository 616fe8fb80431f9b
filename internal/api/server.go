// Package api serves the operator HTTP surface: health and readiness checks,
// the event log, Prometheus metrics, runtime command injection and the live
// websocket event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AaronLay10/LiveMix/internal/command"
	"github.com/AaronLay10/LiveMix/internal/events"
	"github.com/AaronLay10/LiveMix/internal/storage/postgres"
)

// CommandSink accepts runtime command lines. *command.Queue satisfies it.
type CommandSink interface {
	Send(cmd string) error
}

var (
	sinkMu sync.RWMutex
	sink   CommandSink
)

// SetCommandSink sets where /command and /pre deliver commands.
func SetCommandSink(s CommandSink) {
	sinkMu.Lock()
	sink = s
	sinkMu.Unlock()
}

func commandSink() CommandSink {
	sinkMu.RLock()
	defer sinkMu.RUnlock()
	return sink
}

// readinessState tracks what /ready and /metrics report.
type readinessState struct {
	mu                sync.RWMutex
	schedulerReady    bool
	mqttConnected     bool
	mqttOptional      bool
	postgresConnected bool
	postgresOptional  bool
}

var readiness = &readinessState{}

// SetSchedulerReady marks the show as loaded and ticking.
func SetSchedulerReady(ready bool) {
	readiness.mu.Lock()
	readiness.schedulerReady = ready
	readiness.mu.Unlock()
}

// SetMQTTState records broker connectivity. An optional dependency that is
// down does not make the service unready.
func SetMQTTState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.mqttConnected = connected
	readiness.mqttOptional = optional
	readiness.mu.Unlock()
}

// SetPostgresState records event store connectivity.
func SetPostgresState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.postgresConnected = connected
	readiness.postgresOptional = optional
	readiness.mu.Unlock()
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

// CheckResult is the status of one readiness dependency.
type CheckResult struct {
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
}

type ReadinessResponse struct {
	Ready       bool                   `json:"ready"`
	Checks      map[string]CheckResult `json:"checks"`
	NotReadyMsg string                 `json:"message,omitempty"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	resp := HealthResponse{
		Status:    "ok",
		Service:   "livemix",
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func dependencyCheck(name string, connected, optional bool, reasons *[]string) CheckResult {
	switch {
	case connected:
		return CheckResult{Status: "ok", Optional: optional}
	case optional:
		return CheckResult{Status: "unavailable", Optional: true}
	default:
		*reasons = append(*reasons, name+" not connected")
		return CheckResult{Status: "not_ready"}
	}
}

func readyHandler(w http.ResponseWriter, r *http.Request) {
	readiness.mu.RLock()
	st := readinessState{
		schedulerReady:    readiness.schedulerReady,
		mqttConnected:     readiness.mqttConnected,
		mqttOptional:      readiness.mqttOptional,
		postgresConnected: readiness.postgresConnected,
		postgresOptional:  readiness.postgresOptional,
	}
	readiness.mu.RUnlock()

	var reasons []string
	checks := make(map[string]CheckResult, 3)
	if st.schedulerReady {
		checks["scheduler"] = CheckResult{Status: "ok"}
	} else {
		checks["scheduler"] = CheckResult{Status: "not_ready"}
		reasons = append(reasons, "scheduler not running")
	}
	checks["mqtt"] = dependencyCheck("mqtt", st.mqttConnected, st.mqttOptional, &reasons)
	checks["postgres"] = dependencyCheck("postgres", st.postgresConnected, st.postgresOptional, &reasons)

	resp := ReadinessResponse{
		Ready:       len(reasons) == 0,
		Checks:      checks,
		NotReadyMsg: strings.Join(reasons, "; "),
	}

	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// eventsHandler returns the in-memory event log, or the persisted one with
// ?source=db. ?since=<seq> limits the in-memory log to newer events.
func eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	w.Header().Set("Content-Type", "application/json")

	if q.Get("source") == "db" {
		client := events.GetPostgresClient()
		if client == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(CommandResponse{OK: false, Error: "event store not configured"})
			return
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		rows, err := client.Query(r.Context(), postgres.ClampLimit(limit))
		if err != nil {
			log.Printf("event store query failed: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(CommandResponse{OK: false, Error: "event store query failed"})
			return
		}
		_ = json.NewEncoder(w).Encode(rows)
		return
	}

	if raw := q.Get("since"); raw != "" {
		seq, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(CommandResponse{OK: false, Error: "invalid since"})
			return
		}
		_ = json.NewEncoder(w).Encode(events.Since(seq))
		return
	}
	_ = json.NewEncoder(w).Encode(events.Snapshot())
}

type CommandRequest struct {
	Command string `json:"command"`
}

type CommandResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func writeCommandError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(CommandResponse{OK: false, Error: msg})
}

// deliver hands a validated command line to the sink and maps the outcome to
// an HTTP status.
func deliver(w http.ResponseWriter, line string) {
	s := commandSink()
	if s == nil {
		writeCommandError(w, http.StatusServiceUnavailable, "show not running")
		return
	}
	if err := s.Send(line); err != nil {
		_, _ = events.Emit(events.LevelWarning, "command.failed", err.Error(), map[string]interface{}{
			"command": line,
			"source":  "api",
		})
		if errors.Is(err, command.ErrQueueFull) {
			writeCommandError(w, http.StatusServiceUnavailable, "command queue full")
			return
		}
		writeCommandError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(CommandResponse{OK: true})
}

func commandHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		writeCommandError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCommandError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeCommandError(w, http.StatusBadRequest, "command required")
		return
	}
	if _, err := command.Parse(req.Command); err != nil {
		writeCommandError(w, http.StatusBadRequest, err.Error())
		return
	}

	deliver(w, req.Command)
}

func preHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		writeCommandError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	deliver(w, command.Pre)
}

// Handler returns the API routes. Health checks and metrics are open, the
// event log and runtime commands take any role, and replaying the pre events
// takes an admin.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler)
	mux.HandleFunc("/metrics", metricsHandler)
	mux.HandleFunc("/events", RequireAnyRole(eventsHandler))
	mux.HandleFunc("/ws/events", RequireAnyRole(wsEventsHandler))
	mux.HandleFunc("/command", RequireAnyRole(commandHandler))
	mux.HandleFunc("/pre", RequireAdmin(preHandler))
	return mux
}

// ListenAndServe serves the API on port until ctx is cancelled.
func ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("API listening on %s\n", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		events.CloseAllSubscribers()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return nil
	}
}
