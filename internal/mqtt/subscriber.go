package mqtt

import (
	"bufio"
	"bytes"
	"strings"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/LiveMix/internal/events"
)

// Subscriber is the part of Client used by CommandSubscriber.
type Subscriber interface {
	Subscribe(topic string, handler paho.MessageHandler) error
}

// Sender accepts runtime command lines. *command.Queue implements it.
type Sender interface {
	Send(cmd string) error
}

// CommandSubscriber forwards messages from command topics to the command
// queue, one command per payload line.
type CommandSubscriber struct {
	mu         sync.RWMutex
	client     Subscriber
	queue      Sender
	subscribed map[string]bool
}

func NewCommandSubscriber(client Subscriber, queue Sender) *CommandSubscriber {
	return &CommandSubscriber{
		client:     client,
		queue:      queue,
		subscribed: make(map[string]bool),
	}
}

// SubscribeTopic subscribes to topic unless already subscribed.
func (s *CommandSubscriber) SubscribeTopic(topic string) error {
	s.mu.RLock()
	done := s.subscribed[topic]
	s.mu.RUnlock()
	if done {
		return nil
	}

	if err := s.client.Subscribe(topic, s.handle); err != nil {
		return err
	}

	s.mu.Lock()
	s.subscribed[topic] = true
	s.mu.Unlock()
	return nil
}

// Resubscribe subscribes again to every known topic. Used after a reconnect,
// when the broker may have dropped the session.
func (s *CommandSubscriber) Resubscribe() {
	topics := s.SubscribedTopics()
	s.ClearSubscriptions()
	for _, topic := range topics {
		if err := s.SubscribeTopic(topic); err != nil {
			events.Emit(events.LevelError, "system.error", "mqtt resubscribe failed", map[string]interface{}{
				"topic": topic,
				"error": err.Error(),
			})
		}
	}
}

func (s *CommandSubscriber) handle(_ paho.Client, msg paho.Message) {
	s.Deliver(msg.Topic(), msg.Payload())
}

// Deliver enqueues each non-blank line of payload. Lines that do not fit in
// the queue are reported as command.failed.
func (s *CommandSubscriber) Deliver(topic string, payload []byte) int {
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(payload))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := s.queue.Send(line); err != nil {
			events.Emit(events.LevelWarning, "command.failed", err.Error(), map[string]interface{}{
				"command": line,
				"source":  "mqtt",
				"topic":   topic,
			})
			continue
		}
		n++
	}
	return n
}

func (s *CommandSubscriber) IsSubscribed(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscribed[topic]
}

func (s *CommandSubscriber) SubscribedTopics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topics := make([]string, 0, len(s.subscribed))
	for topic := range s.subscribed {
		topics = append(topics, topic)
	}
	return topics
}

// ClearSubscriptions forgets subscription state.
func (s *CommandSubscriber) ClearSubscriptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = make(map[string]bool)
}
