// Package session keeps the dashboard session up and resynchronizes
// remote-controlled state on every fresh connection.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/LeonardoBeccarini/soilwatch/internal/model"
)

var (
	ErrNotConfigured = errors.New("session client not configured")
	ErrNotConnected  = errors.New("session not connected")
	ErrBadPayload    = errors.New("bad payload")
)

// Endpoint selects a self-hosted server or the hosted cloud.
type Endpoint struct {
	Credential string
	Local      bool
	Host       string
	Port       int
}

func (e Endpoint) Validate() error {
	if e.Credential == "" {
		return errors.New("endpoint: empty credential")
	}
	if e.Local && (e.Host == "" || e.Port <= 0) {
		return fmt.Errorf("endpoint: local server needs host and port, got %q:%d", e.Host, e.Port)
	}
	return nil
}

func (e Endpoint) Label() string {
	if e.Local {
		return fmt.Sprintf("%s:%d", e.Host, e.Port)
	}
	return "hosted cloud"
}

// Client is the cloud session the supervisor drives.
type Client interface {
	Config(ep Endpoint) error
	// Connect blocks until the handshake completes, fails, or ctx ends.
	Connect(ctx context.Context) error
	Connected() bool
	VirtualWrite(ch model.Channel, value string) error
	// SyncAll asks the remote side to resend every writable channel value.
	SyncAll() error
}
