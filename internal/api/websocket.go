package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AaronLay10/LiveMix/internal/events"
	"github.com/gorilla/websocket"
)

const (
	// Backlog sent on connect when the client gives no ?since.
	recentEventsCount = 50

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second // must be less than pongWait
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Access is gated by basic auth on the route.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamFilter narrows a stream to the events of one pipe, one window or
// one event family. Empty fields match everything.
type streamFilter struct {
	pipe   string
	window string
	prefix string
}

func filterFromQuery(r *http.Request) streamFilter {
	q := r.URL.Query()
	return streamFilter{
		pipe:   q.Get("pipe"),
		window: q.Get("window"),
		prefix: q.Get("event"),
	}
}

func (f streamFilter) match(e events.Event) bool {
	if f.prefix != "" && !strings.HasPrefix(e.Name, f.prefix) {
		return false
	}
	if f.pipe != "" && e.Fields["pipe"] != f.pipe {
		return false
	}
	if f.window != "" && e.Fields["window"] != f.window {
		return false
	}
	return true
}

// eventStream is one websocket client following the event log.
type eventStream struct {
	conn   *websocket.Conn
	sub    events.Subscriber
	filter streamFilter
}

// send writes e unless the filter rejects it.
func (s *eventStream) send(e events.Event) error {
	if !s.filter.match(e) {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop consumes pongs and control frames until the peer goes away.
func (s *eventStream) readLoop(done chan<- struct{}) {
	defer close(done)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// wsEventsHandler streams the event log over a websocket. ?since=<seq>
// replays buffered events newer than seq before going live; ?pipe=,
// ?window= and ?event=<prefix> filter the stream.
func wsEventsHandler(w http.ResponseWriter, r *http.Request) {
	var since *uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		seq, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since = &seq
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Subscribe before reading the backlog so nothing falls between the two.
	s := &eventStream{conn: conn, sub: events.Subscribe(), filter: filterFromQuery(r)}
	defer events.Unsubscribe(s.sub)

	var backlog []events.Event
	if since != nil {
		backlog = events.Since(*since)
	} else {
		backlog = events.RecentEvents(recentEventsCount)
	}
	var replayed uint64
	for _, e := range backlog {
		replayed = e.Seq
		if err := s.send(e); err != nil {
			log.Printf("ws write backlog failed: %v", err)
			return
		}
	}

	done := make(chan struct{})
	go s.readLoop(done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case e, ok := <-s.sub:
			if !ok {
				return
			}
			if e.Seq <= replayed {
				continue
			}
			if err := s.send(e); err != nil {
				log.Printf("ws write event failed: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
