// Package broker holds the paho MQTT plumbing shared by the dashboard
// session and the event publishers.
package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var ErrNotConnected = errors.New("mqtt client not connected")

type Config struct {
	Scheme   string // tcp, ssl, ws
	Host     string
	Port     int
	User     string
	Password string
	ClientID string
	// KeepAlive and ConnectTimeout fall back to paho defaults when zero.
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	TLS            *tls.Config
}

func (c Config) URL() string {
	scheme := c.Scheme
	if scheme == "" {
		scheme = "tcp"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// Options builds client options for a supervised connection: paho's own
// reconnect logic is off, the owner decides when to reconnect.
func Options(cfg Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL())
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(true)
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	if cfg.TLS != nil {
		opts.SetTLSConfig(cfg.TLS)
	}
	return opts
}

// Wait blocks until the token completes or ctx ends.
func Wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("mqtt: %w", ctx.Err())
	}
}

// Close disconnects the client if it is still connected.
func Close(client mqtt.Client, quiesce time.Duration) {
	if client != nil && client.IsConnected() {
		client.Disconnect(uint(quiesce / time.Millisecond))
	}
}
