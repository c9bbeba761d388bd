package monitor

import (
	"context"
	"fmt"

	"github.com/LeonardoBeccarini/soilwatch/internal/model"
	"github.com/LeonardoBeccarini/soilwatch/internal/notify"
	"github.com/LeonardoBeccarini/soilwatch/internal/session"
)

// linkGate ties a session client to a simulated link. The simulated radio
// carries no traffic, so without the gate the session would stay up through
// a link outage.
type linkGate struct {
	DashboardClient
	up func() bool
}

func (g *linkGate) Connect(ctx context.Context) error {
	if !g.up() {
		return fmt.Errorf("%w: link down", session.ErrNotConnected)
	}
	return g.DashboardClient.Connect(ctx)
}

func (g *linkGate) Connected() bool {
	return g.up() && g.DashboardClient.Connected()
}

func (g *linkGate) VirtualWrite(ch model.Channel, value string) error {
	if !g.up() {
		return fmt.Errorf("virtual write %s: %w", ch, session.ErrNotConnected)
	}
	return g.DashboardClient.VirtualWrite(ch, value)
}

func (g *linkGate) SyncAll() error {
	if !g.up() {
		return session.ErrNotConnected
	}
	return g.DashboardClient.SyncAll()
}

func (g *linkGate) PublishEvent(ctx context.Context, kind string, v any) error {
	ev, ok := g.DashboardClient.(notify.EventPublisher)
	if !ok {
		return nil
	}
	if !g.up() {
		return session.ErrNotConnected
	}
	return ev.PublishEvent(ctx, kind, v)
}

func (g *linkGate) Close() {
	if c, ok := g.DashboardClient.(interface{ Close() }); ok {
		c.Close()
	}
}
