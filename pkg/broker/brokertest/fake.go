// Package brokertest provides an in-memory paho client for tests.
package brokertest

import (
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type Token struct {
	err  error
	done chan struct{}
}

// Completed returns a token that already finished with err.
func Completed(err error) *Token {
	ch := make(chan struct{})
	close(ch)
	return &Token{err: err, done: ch}
}

// Pending returns a token that never completes.
func Pending() *Token { return &Token{done: make(chan struct{})} }

func (t *Token) Wait() bool { <-t.done; return true }

func (t *Token) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *Token) Done() <-chan struct{} { return t.done }

func (t *Token) Error() error { return t.err }

type Message struct {
	TopicName string
	Body      []byte
	QoS       byte
	Dup       bool
	Retain    bool
	ID        uint16
}

func (m *Message) Duplicate() bool   { return m.Dup }
func (m *Message) Qos() byte         { return m.QoS }
func (m *Message) Retained() bool    { return m.Retain }
func (m *Message) Topic() string     { return m.TopicName }
func (m *Message) MessageID() uint16 { return m.ID }
func (m *Message) Payload() []byte   { return m.Body }
func (m *Message) Ack()              {}

type Published struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// Client is a fake broker connection. Retained publishes are stored and
// re-delivered on every matching Subscribe, like a real broker does.
type Client struct {
	mu sync.Mutex

	ConnectErr   error
	ConnectBlock bool
	PublishErr   error
	SubscribeErr error

	connected   bool
	connects    int
	disconnects int
	published   []Published
	retained    map[string][]byte
	subs        map[string]mqtt.MessageHandler
	nextID      uint16
}

func NewClient() *Client {
	return &Client{retained: map[string][]byte{}, subs: map[string]mqtt.MessageHandler{}}
}

func (c *Client) IsConnected() bool { return c.IsConnectionOpen() }

func (c *Client) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.ConnectBlock {
		return Pending()
	}
	if c.ConnectErr != nil {
		return Completed(c.ConnectErr)
	}
	c.connected = true
	return Completed(nil)
}

func (c *Client) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	c.connected = false
	c.subs = map[string]mqtt.MessageHandler{}
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PublishErr != nil {
		return Completed(c.PublishErr)
	}
	var body []byte
	switch p := payload.(type) {
	case string:
		body = []byte(p)
	case []byte:
		body = p
	}
	c.published = append(c.published, Published{Topic: topic, QoS: qos, Retained: retained, Payload: body})
	if retained {
		c.retained[topic] = body
	}
	return Completed(nil)
}

func (c *Client) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	if c.SubscribeErr != nil {
		c.mu.Unlock()
		return Completed(c.SubscribeErr)
	}
	c.subs[topic] = callback
	var replay []*Message
	for t, body := range c.retained {
		if Match(topic, t) {
			replay = append(replay, &Message{TopicName: t, Body: body, QoS: qos, Retain: true})
		}
	}
	c.mu.Unlock()
	for _, m := range replay {
		callback(c, m)
	}
	return Completed(nil)
}

func (c *Client) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for f, q := range filters {
		if tok := c.Subscribe(f, q, callback); tok.Error() != nil {
			return tok
		}
	}
	return Completed(nil)
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	return Completed(nil)
}

func (c *Client) AddRoute(topic string, callback mqtt.MessageHandler) {
	c.mu.Lock()
	c.subs[topic] = callback
	c.mu.Unlock()
}

func (c *Client) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

// Retain stores a retained value as if another client had published it.
func (c *Client) Retain(topic string, payload string) {
	c.mu.Lock()
	c.retained[topic] = []byte(payload)
	c.mu.Unlock()
}

// Inject delivers a live message to the matching subscription.
func (c *Client) Inject(topic, payload string, dup bool) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	var handlers []mqtt.MessageHandler
	for f, h := range c.subs {
		if Match(f, topic) {
			handlers = append(handlers, h)
		}
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(c, &Message{TopicName: topic, Body: []byte(payload), QoS: 1, Dup: dup, ID: id})
	}
}

// Drop simulates the broker going away.
func (c *Client) Drop() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *Client) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}

func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for t := range c.subs {
		out = append(out, t)
	}
	return out
}

func (c *Client) Counts() (connects, disconnects int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects, c.disconnects
}

// Match reports whether topic matches an MQTT filter with + and #.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
