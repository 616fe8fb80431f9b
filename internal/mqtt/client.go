// Package mqtt lets external controllers drive a running show by publishing
// runtime commands to a broker topic.
package mqtt

import (
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout   = 10 * time.Second
	subscribeTimeout = 10 * time.Second
)

// Options configure the broker connection.
type Options struct {
	URL      string
	ClientID string
	Username string
	Password string
	// OnConnect runs after every successful (re)connection.
	OnConnect func()
	// OnConnectionLost runs when an established connection drops.
	OnConnectionLost func(error)
}

// Client wraps the Paho MQTT client.
type Client struct {
	client paho.Client
	url    string
	mu     sync.Mutex
}

func clientOptions(o Options) *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(o.URL).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)
	if o.Username != "" {
		opts.SetUsername(o.Username)
	}
	if o.Password != "" {
		opts.SetPassword(o.Password)
	}
	if o.OnConnect != nil {
		onConnect := o.OnConnect
		opts.SetOnConnectHandler(func(paho.Client) { onConnect() })
	}
	onLost := o.OnConnectionLost
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Printf("mqtt: connection to %s lost: %v", o.URL, err)
		if onLost != nil {
			onLost(err)
		}
	})
	return opts
}

// NewClient creates a client but does not connect.
func NewClient(o Options) *Client {
	return &Client{
		client: paho.NewClient(clientOptions(o)),
		url:    o.URL,
	}
}

// Connect attempts to connect to the broker without blocking indefinitely.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return &ConnectTimeoutError{}
	}
	return token.Error()
}

// Subscribe subscribes handler to topic at QoS 1.
func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Subscribe(topic, 1, handler)
	if !token.WaitTimeout(subscribeTimeout) {
		return &SubscribeTimeoutError{Topic: topic}
	}
	return token.Error()
}

// Disconnect cleanly disconnects from the broker.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client.Disconnect(1000)
}

func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// ConnectTimeoutError indicates connection timed out.
type ConnectTimeoutError struct{}

func (e *ConnectTimeoutError) Error() string {
	return "mqtt connect timeout"
}

// SubscribeTimeoutError indicates subscription timed out.
type SubscribeTimeoutError struct {
	Topic string
}

func (e *SubscribeTimeoutError) Error() string {
	return "mqtt subscribe timeout: " + e.Topic
}

// Start connects and subscribes the command subscriber, logging failures
// instead of returning them. It reports whether both steps succeeded; the
// client keeps retrying the connection in the background either way.
func (c *Client) Start(sub *CommandSubscriber, topic string) bool {
	if err := c.Connect(); err != nil {
		log.Printf("mqtt: failed to connect to %s: %v", c.url, err)
		return false
	}
	if err := sub.SubscribeTopic(topic); err != nil {
		log.Printf("mqtt: failed to subscribe to %s: %v", topic, err)
		return false
	}
	log.Printf("mqtt: connected and subscribed to %s", topic)
	return true
}
