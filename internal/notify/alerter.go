package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/soilwatch/internal/model"
)

// Alerter delivers the "needs watering" signal.
type Alerter interface {
	Alert(ctx context.Context, msg model.AlertMessage) error
}

type AlerterFunc func(ctx context.Context, msg model.AlertMessage) error

func (f AlerterFunc) Alert(ctx context.Context, msg model.AlertMessage) error { return f(ctx, msg) }

// LogAlerter writes the signal to the log.
type LogAlerter struct{ Log zerolog.Logger }

func (a LogAlerter) Alert(_ context.Context, msg model.AlertMessage) error {
	a.Log.Warn().Int("moisture", msg.Moisture).Int("minimum", msg.Minimum).Msg("plant needs watering")
	return nil
}

// ChannelWriter is the dashboard write primitive.
type ChannelWriter interface {
	VirtualWrite(ch model.Channel, value string) error
}

// EventPublisher sends structured events next to the channel value.
type EventPublisher interface {
	PublishEvent(ctx context.Context, kind string, v any) error
}

// DashboardAlerter writes a text to the alert channel and, if Events is
// set, publishes the alert as an event.
type DashboardAlerter struct {
	Writer  ChannelWriter
	Channel model.Channel
	Events  EventPublisher
}

func (a DashboardAlerter) Alert(ctx context.Context, msg model.AlertMessage) error {
	text := fmt.Sprintf("Water me! moisture %d%% (minimum %d%%)", msg.Moisture, msg.Minimum)
	var errs []error
	if err := a.Writer.VirtualWrite(a.Channel, text); err != nil {
		errs = append(errs, err)
	}
	if a.Events != nil {
		if err := a.Events.PublishEvent(ctx, "alert", msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Multi fans a signal out to every alerter and joins their errors.
type Multi []Alerter

func (m Multi) Alert(ctx context.Context, msg model.AlertMessage) error {
	var errs []error
	for _, a := range m {
		if err := a.Alert(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
