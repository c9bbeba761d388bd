package link

import (
	"context"
	"net"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HostStack drives the link of a Linux host. Begin runs an optional join
// command (nmcli, wpa_cli, ...) and readiness is a TCP dial to ProbeAddr.
type HostStack struct {
	probeAddr   string
	joinCommand []string
	timeout     time.Duration
	dial        func(ctx context.Context, network, addr string) (net.Conn, error)
	log         zerolog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	hostname string
}

type HostConfig struct {
	ProbeAddr    string
	JoinCommand  []string // {ssid} and {password} are substituted
	ProbeTimeout time.Duration
}

func NewHostStack(cfg HostConfig, lg zerolog.Logger) *HostStack {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 500 * time.Millisecond
	}
	d := &net.Dialer{}
	return &HostStack{
		probeAddr:   cfg.ProbeAddr,
		joinCommand: cfg.JoinCommand,
		timeout:     cfg.ProbeTimeout,
		dial:        d.DialContext,
		log:         lg,
	}
}

func (h *HostStack) Begin(ssid, password string) error {
	if ssid == "" {
		return ErrNoSSID
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopJoinLocked()
	if len(h.joinCommand) == 0 {
		return nil
	}

	args := make([]string, len(h.joinCommand))
	r := strings.NewReplacer("{ssid}", ssid, "{password}", password)
	for i, a := range h.joinCommand {
		args[i] = r.Replace(a)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	h.cancel = cancel
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		cancel()
		h.cancel = nil
		return err
	}
	go func() {
		defer cancel()
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			h.log.Warn().Err(err).Str("cmd", args[0]).Msg("join command failed")
		}
	}()
	return nil
}

func (h *HostStack) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopJoinLocked()
	return nil
}

func (h *HostStack) stopJoinLocked() {
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

func (h *HostStack) Status() Status {
	if h.IsConnected() {
		return StatusReady
	}
	return StatusNotReady
}

func (h *HostStack) IsConnected() bool {
	if h.probeAddr == "" {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	conn, err := h.dial(ctx, "tcp", h.probeAddr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// SetHostname records the name; changing the OS hostname is left to the host.
func (h *HostStack) SetHostname(name string) error {
	h.mu.Lock()
	h.hostname = name
	h.mu.Unlock()
	return nil
}
