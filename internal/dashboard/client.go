// Package dashboard is the MQTT session client. Every dashboard channel is
// a retained topic: the device writes {prefix}/{device}/out/Vn and the
// dashboard writes {prefix}/{device}/in/Vn. Subscribing to the inbound
// filter makes the broker resend every retained value, which is the resync.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/soilwatch/internal/model"
	"github.com/LeonardoBeccarini/soilwatch/internal/session"
	"github.com/LeonardoBeccarini/soilwatch/pkg/broker"
)

type Config struct {
	Prefix string
	Device string
	// Hosted broker used when the endpoint is not local.
	HostedScheme string
	HostedHost   string
	HostedPort   int
	KeepAlive    time.Duration
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = "soilwatch"
	}
	if c.Device == "" {
		c.Device = "soilwatch"
	}
	if c.HostedScheme == "" {
		c.HostedScheme = "ssl"
	}
	if c.HostedPort == 0 {
		c.HostedPort = 8883
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

type Client struct {
	cfg       Config
	newClient func(*mqtt.ClientOptions) mqtt.Client
	log       zerolog.Logger

	mu   sync.RWMutex
	opts *mqtt.ClientOptions
	cli  mqtt.Client
	sink func(model.Write)
}

type Option func(*Client)

// WithFactory replaces mqtt.NewClient.
func WithFactory(fn func(*mqtt.ClientOptions) mqtt.Client) Option {
	return func(c *Client) { c.newClient = fn }
}

func New(cfg Config, lg zerolog.Logger, opts ...Option) *Client {
	c := &Client{cfg: cfg.withDefaults(), newClient: mqtt.NewClient, log: lg}
	for _, o := range opts {
		o(c)
	}
	return c
}

// OnWrite sets where inbound writes go, normally session.Pump.Deliver.
func (c *Client) OnWrite(fn func(model.Write)) {
	c.mu.Lock()
	c.sink = fn
	c.mu.Unlock()
}

func (c *Client) Config(ep session.Endpoint) error {
	if err := ep.Validate(); err != nil {
		return err
	}
	bc := broker.Config{
		Scheme:         c.cfg.HostedScheme,
		Host:           c.cfg.HostedHost,
		Port:           c.cfg.HostedPort,
		User:           c.cfg.Device,
		Password:       ep.Credential,
		ClientID:       fmt.Sprintf("%s-%s", c.cfg.Device, uuid.NewString()[:8]),
		KeepAlive:      c.cfg.KeepAlive,
		ConnectTimeout: c.cfg.WriteTimeout,
	}
	if ep.Local {
		bc.Scheme, bc.Host, bc.Port = "tcp", ep.Host, ep.Port
	}
	if bc.Host == "" {
		return fmt.Errorf("%w: no broker host", session.ErrNotConfigured)
	}
	opts := broker.Options(bc)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.log.Warn().Err(err).Msg("dashboard connection lost")
	})
	c.mu.Lock()
	c.opts = opts
	c.mu.Unlock()
	return nil
}

// Connect replaces any previous connection with a fresh one.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	opts, old := c.opts, c.cli
	c.cli = nil
	c.mu.Unlock()
	if opts == nil {
		return session.ErrNotConfigured
	}
	broker.Close(old, 0)

	cli := c.newClient(opts)
	if err := broker.Wait(ctx, cli.Connect()); err != nil {
		broker.Close(cli, 0)
		return fmt.Errorf("dashboard connect: %w", err)
	}
	c.mu.Lock()
	c.cli = cli
	c.mu.Unlock()
	return nil
}

func (c *Client) Connected() bool {
	cli := c.client()
	return cli != nil && cli.IsConnectionOpen()
}

func (c *Client) VirtualWrite(ch model.Channel, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()
	if err := broker.Publish(ctx, c.client(), c.topic("out", ch.String()), true, value); err != nil {
		return fmt.Errorf("virtual write %s: %w", ch, err)
	}
	return nil
}

func (c *Client) SyncAll() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()
	return broker.Subscribe(ctx, c.client(), c.topic("in", "+"), c.route)
}

// PublishEvent sends a JSON event to {prefix}/{device}/events/{kind}.
func (c *Client) PublishEvent(ctx context.Context, kind string, v any) error {
	return broker.NewPublisher(c.client(), c.topic("events", kind), false).PublishJSON(ctx, v)
}

func (c *Client) Close() {
	c.mu.Lock()
	cli := c.cli
	c.cli = nil
	c.mu.Unlock()
	broker.Close(cli, 250*time.Millisecond)
}

func (c *Client) client() mqtt.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cli
}

func (c *Client) topic(dir, leaf string) string {
	return strings.Join([]string{c.cfg.Prefix, c.cfg.Device, dir, leaf}, "/")
}

func (c *Client) route(_ mqtt.Client, m mqtt.Message) {
	leaf := m.Topic()
	if i := strings.LastIndexByte(leaf, '/'); i >= 0 {
		leaf = leaf[i+1:]
	}
	ch, err := model.ParseChannel(leaf)
	if err != nil {
		c.log.Warn().Str("topic", m.Topic()).Msg("inbound write on unknown channel")
		return
	}
	c.mu.RLock()
	sink := c.sink
	c.mu.RUnlock()
	if sink == nil {
		return
	}
	sink(model.Write{
		Channel:   ch,
		Value:     string(m.Payload()),
		Retained:  m.Retained(),
		Duplicate: m.Duplicate(),
		MessageID: m.MessageID(),
	})
}
