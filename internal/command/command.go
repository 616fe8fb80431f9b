// Package command implements the runtime command channel: a plain-text wire
// format ("<window> <verb> <args...>") and the queue that carries it from any
// producer goroutine to the scheduler.
package command

import (
	"errors"
	"fmt"
	"strings"
)

// Synthetic commands that are not addressed to a window.
const (
	Pre       = "pre"
	Terminate = "terminate"
)

// Window verbs understood by the scheduler.
const (
	VerbShow = "show"
	VerbHide = "hide"
	VerbMove = "move"
)

// DefaultQueueSize bounds the number of commands waiting for the next tick.
const DefaultQueueSize = 1024

// ErrQueueFull is returned by Send when the consumer has fallen behind.
var ErrQueueFull = errors.New("command queue full")

// Kind classifies a parsed command line.
type Kind int

const (
	KindWindow Kind = iota
	KindPre
	KindTerminate
)

// Command is a parsed command line.
type Command struct {
	Kind   Kind
	Window string
	Verb   string
	Args   []string
}

// Format serializes a window command. An empty window with the terminate verb
// yields the historical " terminate" line.
func Format(window, verb string, args []string) string {
	var b strings.Builder
	b.WriteString(window)
	b.WriteString(" ")
	b.WriteString(verb)
	for _, a := range args {
		b.WriteString(" ")
		b.WriteString(a)
	}
	return b.String()
}

// Parse reads one command line. Surrounding whitespace is ignored, so both
// " terminate" and "terminate" request termination.
func Parse(line string) (Command, error) {
	trimmed := strings.TrimSpace(line)
	switch trimmed {
	case Terminate:
		return Command{Kind: KindTerminate}, nil
	case Pre:
		return Command{Kind: KindPre}, nil
	}

	fields := strings.Fields(trimmed)
	if len(fields) < 2 {
		return Command{}, fmt.Errorf("malformed command %q: expected <window> <verb> [args...]", line)
	}
	return Command{
		Kind:   KindWindow,
		Window: fields[0],
		Verb:   fields[1],
		Args:   fields[2:],
	}, nil
}

// Queue is a bounded multi-producer, single-consumer command queue. Send never
// blocks, so it is safe to call from engine callback goroutines.
type Queue struct {
	ch chan string
}

// NewQueue creates a queue holding up to size pending commands.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan string, size)}
}

// Send enqueues a command line or returns ErrQueueFull.
func (q *Queue) Send(cmd string) error {
	select {
	case q.ch <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// TryRecv dequeues one command without waiting.
func (q *Queue) TryRecv() (string, bool) {
	select {
	case cmd := <-q.ch:
		return cmd, true
	default:
		return "", false
	}
}

// Len returns the number of pending commands.
func (q *Queue) Len() int {
	return len(q.ch)
}
