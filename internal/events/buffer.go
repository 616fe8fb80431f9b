package events

import "sync"

// RingBuffer keeps the most recent events in emission order.
type RingBuffer struct {
	mu     sync.RWMutex
	size   int
	events []Event
	index  int
	full   bool
}

func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		size:   size,
		events: make([]Event, size),
	}
}

func (rb *RingBuffer) Add(e Event) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.events[rb.index] = e
	rb.index = (rb.index + 1) % rb.size
	if rb.index == 0 {
		rb.full = true
	}
}

// Snapshot returns the buffered events, oldest first.
func (rb *RingBuffer) Snapshot() []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.orderedLocked()
}

// Since returns buffered events with a sequence number greater than seq.
func (rb *RingBuffer) Since(seq uint64) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	all := rb.orderedLocked()
	for i, e := range all {
		if e.Seq > seq {
			return all[i:]
		}
	}
	return []Event{}
}

func (rb *RingBuffer) orderedLocked() []Event {
	if !rb.full {
		return append([]Event{}, rb.events[:rb.index]...)
	}
	out := make([]Event, 0, rb.size)
	out = append(out, rb.events[rb.index:]...)
	out = append(out, rb.events[:rb.index]...)
	return out
}

// Clear drops every buffered event.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.events = make([]Event, rb.size)
	rb.index = 0
	rb.full = false
}
