package api

import (
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/AaronLay10/LiveMix/internal/events"
	"github.com/AaronLay10/LiveMix/internal/orchestrator"
	"github.com/AaronLay10/LiveMix/internal/version"
)

// StatsSource reports scheduler counters. *orchestrator.Scheduler satisfies it.
type StatsSource interface {
	Stats() orchestrator.Stats
}

var (
	metricsState = &MetricsState{}
)

// MetricsState holds runtime metrics for the /metrics endpoint.
type MetricsState struct {
	mu        sync.RWMutex
	startTime time.Time
	showID    string
	stats     StatsSource
}

// InitMetrics initializes the metrics system. Must be called at startup.
func InitMetrics() {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.startTime = time.Now()
}

// SetShowID sets the show id for metrics labels.
func SetShowID(id string) {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.showID = id
}

// GetShowID returns the current show id.
func GetShowID() string {
	metricsState.mu.RLock()
	defer metricsState.mu.RUnlock()
	return metricsState.showID
}

// SetStatsSource attaches the running scheduler.
func SetStatsSource(s StatsSource) {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.stats = s
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}

// metricsHandler returns Prometheus-compatible metrics in text format.
func metricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	metricsState.mu.RLock()
	startTime := metricsState.startTime
	showID := metricsState.showID
	source := metricsState.stats
	metricsState.mu.RUnlock()

	var stats orchestrator.Stats
	if source != nil {
		stats = source.Stats()
	}

	readiness.mu.RLock()
	schedulerReady := readiness.schedulerReady
	mqttConnected := readiness.mqttConnected
	postgresConnected := readiness.postgresConnected
	readiness.mu.RUnlock()

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeMetric := func(name, mtype, help string, value interface{}, labels string) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		if labels != "" {
			fmt.Fprintf(w, "%s{%s} %v\n", name, labels, value)
		} else {
			fmt.Fprintf(w, "%s %v\n", name, value)
		}
	}

	labels := fmt.Sprintf(`show="%s",instance="%s",version="%s"`, showID, hostname, version.Version)

	writeMetric("livemix_uptime_seconds", "gauge",
		"Number of seconds since the process started", time.Since(startTime).Seconds(), labels)
	writeMetric("livemix_scheduler_ready", "gauge",
		"Whether the scheduler is running (1) or not (0)", boolGauge(schedulerReady), labels)
	writeMetric("livemix_scheduler_ticks_total", "counter",
		"Scheduler ticks since startup", stats.Ticks, labels)
	writeMetric("livemix_commands_total", "counter",
		"Runtime commands dispatched", stats.Commands, labels)
	writeMetric("livemix_command_failures_total", "counter",
		"Runtime commands that failed", stats.CommandFailures, labels)
	writeMetric("livemix_commands_pending", "gauge",
		"Commands waiting for the next tick", stats.PendingCommands, labels)
	writeMetric("livemix_triggers_fired_total", "counter",
		"Progress triggers fired", stats.TriggersFired, labels)
	writeMetric("livemix_animations_active", "gauge",
		"Window animations in flight", stats.ActiveAnimations, labels)
	writeMetric("livemix_windows", "gauge",
		"Video windows created", stats.Windows, labels)
	writeMetric("livemix_events_total", "counter",
		"Total number of events emitted since startup", events.TotalCount(), labels)
	writeMetric("livemix_mqtt_connected", "gauge",
		"Whether MQTT broker is connected (1) or not (0)", boolGauge(mqttConnected), labels)
	writeMetric("livemix_postgres_connected", "gauge",
		"Whether PostgreSQL is connected (1) or not (0)", boolGauge(postgresConnected), labels)
	writeMetric("livemix_ws_clients", "gauge",
		"Number of active WebSocket client connections", events.SubscriberCount(), labels)
}
