// Package events is the structured log of a running show. Every event is
// validated against a fixed registry, stamped, kept in a ring buffer, fanned
// out to live subscribers, optionally written as a JSON line and optionally
// persisted to Postgres.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AaronLay10/LiveMix/internal/storage/postgres"
)

// Levels used by emitters.
const (
	LevelDebug   = "debug"
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

var (
	buffer = NewRingBuffer(256)
	seq    atomic.Uint64
)

const (
	persistQueueSize = 1024
	appendTimeout    = 2 * time.Second
	drainTimeout     = 5 * time.Second
)

var (
	pgClient      *postgres.Client
	pgWriter      *writer
	pgMu          sync.RWMutex
	pgErrorLogged bool
	pgDropLogged  bool
)

var (
	outMu sync.Mutex
	out   io.Writer
)

// Appender stores events durably. *postgres.Client implements it.
type Appender interface {
	Append(ctx context.Context, ts time.Time, level, event, msg string, fields map[string]interface{}) error
}

// SetPostgresClient sets the Postgres client for event persistence. Setting
// nil flushes what is queued and stops the writer.
func SetPostgresClient(client *postgres.Client) {
	pgMu.Lock()
	pgClient = client
	pgMu.Unlock()
	if client == nil {
		setAppender(nil)
		return
	}
	setAppender(client)
}

// setAppender replaces the background writer. The previous one is drained
// before setAppender returns.
func setAppender(a Appender) {
	pgMu.Lock()
	old := pgWriter
	pgWriter = nil
	if a != nil {
		pgWriter = startWriter(a)
	}
	pgErrorLogged = false
	pgDropLogged = false
	pgMu.Unlock()

	if old != nil {
		old.stop()
	}
}

// GetPostgresClient returns the current Postgres client (for API queries).
func GetPostgresClient() *postgres.Client {
	pgMu.RLock()
	defer pgMu.RUnlock()
	return pgClient
}

// SetOutput makes Emit write every event as one JSON line to w. nil disables it.
func SetOutput(w io.Writer) {
	outMu.Lock()
	out = w
	outMu.Unlock()
}

type Event struct {
	Seq       uint64                 `json:"seq"`
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Emit records an event and returns its JSON encoding.
func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Seq:       seq.Add(1),
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	buffer.Add(e)
	broadcast(e)
	persist(ts, e)

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	outMu.Lock()
	if out != nil {
		out.Write(append(b, '\n'))
	}
	outMu.Unlock()

	return b, nil
}

type pendingEvent struct {
	ts time.Time
	e  Event
}

// writer appends queued events on its own goroutine so a slow database never
// holds up Emit.
type writer struct {
	appender Appender
	queue    chan pendingEvent
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func startWriter(a Appender) *writer {
	ctx, cancel := context.WithCancel(context.Background())
	w := &writer{
		appender: a,
		queue:    make(chan pendingEvent, persistQueueSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *writer) run() {
	defer close(w.done)
	for p := range w.queue {
		ctx, cancel := context.WithTimeout(w.ctx, appendTimeout)
		err := w.appender.Append(ctx, p.ts, p.e.Level, p.e.Name, p.e.Message, p.e.Fields)
		cancel()
		if err != nil {
			recordOnce(&pgErrorLogged, "postgres append failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// stop closes the queue and waits for it to drain. Appends still pending
// after drainTimeout are abandoned.
func (w *writer) stop() {
	close(w.queue)
	select {
	case <-w.done:
	case <-time.After(drainTimeout):
		w.cancel()
		<-w.done
	}
	w.cancel()
}

// persist queues the event for the writer. A full queue drops the event.
func persist(ts time.Time, e Event) {
	pgMu.RLock()
	w := pgWriter
	queued := true
	if w != nil {
		select {
		case w.queue <- pendingEvent{ts: ts, e: e}:
		default:
			queued = false
		}
	}
	pgMu.RUnlock()

	if !queued {
		recordOnce(&pgDropLogged, "postgres queue full, dropping events", map[string]interface{}{
			"event":      e.Name,
			"queue_size": persistQueueSize,
		})
	}
}

// recordOnce adds a system.error to the buffer the first time flag is seen
// unset. Emit is not used so a dead database cannot recurse.
func recordOnce(flag *bool, msg string, fields map[string]interface{}) {
	pgMu.Lock()
	first := !*flag
	*flag = true
	pgMu.Unlock()
	if !first {
		return
	}
	buffer.Add(Event{
		Seq:       seq.Add(1),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     LevelError,
		Name:      "system.error",
		Message:   msg,
		Fields:    fields,
	})
}

// Snapshot returns every buffered event, oldest first.
func Snapshot() []Event {
	return buffer.Snapshot()
}

// Since returns buffered events newer than seq.
func Since(seq uint64) []Event {
	return buffer.Since(seq)
}

// TotalCount returns the number of events emitted since startup.
func TotalCount() uint64 {
	return seq.Load()
}

// Clear resets the event buffer. Used for testing.
func Clear() {
	buffer.Clear()
}

// Find returns buffered events with the given name. Used for testing.
func Find(name string) []Event {
	var found []Event
	for _, e := range buffer.Snapshot() {
		if e.Name == name {
			found = append(found, e)
		}
	}
	return found
}
