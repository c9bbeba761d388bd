// Package monitor wires the supervisors, the sampler, the notifier and the
// observability surfaces into one runtime.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/LeonardoBeccarini/soilwatch/internal/clock"
	"github.com/LeonardoBeccarini/soilwatch/internal/config"
	"github.com/LeonardoBeccarini/soilwatch/internal/dashboard"
	"github.com/LeonardoBeccarini/soilwatch/internal/link"
	"github.com/LeonardoBeccarini/soilwatch/internal/log"
	"github.com/LeonardoBeccarini/soilwatch/internal/model"
	"github.com/LeonardoBeccarini/soilwatch/internal/notify"
	"github.com/LeonardoBeccarini/soilwatch/internal/obs"
	"github.com/LeonardoBeccarini/soilwatch/internal/retry"
	"github.com/LeonardoBeccarini/soilwatch/internal/sensor"
	"github.com/LeonardoBeccarini/soilwatch/internal/session"
	"github.com/LeonardoBeccarini/soilwatch/internal/state"
	"github.com/LeonardoBeccarini/soilwatch/internal/telemetry"
)

// DashboardClient is the session client plus the inbound write hook.
type DashboardClient interface {
	session.Client
	OnWrite(fn func(model.Write))
}

// Deps overrides the adapters picked from the configuration.
type Deps struct {
	Stack  link.Stack
	Client DashboardClient
	Reader sensor.Reader
	Clock  clock.Clock
}

type Runtime struct {
	cfg   config.Config
	clock clock.Clock
	log   zerolog.Logger

	reading   *state.Reading
	threshold *state.Threshold

	link     *link.Supervisor
	session  *session.Supervisor
	pump     *session.Pump
	client   DashboardClient
	sampler  *sensor.Sampler
	notifier *notify.Notifier

	registry *prometheus.Registry
	metrics  *obs.Metrics
	health   *obs.Health
	exporter *telemetry.Exporter

	started time.Time
}

func New(cfg config.Config, deps Deps) (*Runtime, error) {
	r := &Runtime{
		cfg:       cfg,
		clock:     deps.Clock,
		log:       log.WithComponent("runtime"),
		reading:   state.NewReading(),
		threshold: state.NewThreshold(cfg.Dashboard.InitialThreshold),
		registry:  prometheus.NewRegistry(),
	}
	if r.clock == nil {
		r.clock = clock.Real{}
	}
	r.started = r.clock.Now()

	r.metrics = obs.NewMetrics(r.registry)
	obs.RegisterThreshold(r.registry, r.threshold.Get)
	observers := []retry.Option{retry.WithClock(r.clock), retry.WithObserver(r.metrics)}
	if cfg.GRPCAddr != "" {
		r.health = obs.NewHealth(log.WithComponent("grpc"), "link", "session")
		observers = append(observers, retry.WithObserver(r.health))
	}
	if cfg.Telemetry.Enabled() {
		r.exporter = telemetry.New(telemetry.Config{
			URL:      cfg.Telemetry.InfluxURL,
			Token:    cfg.Telemetry.InfluxToken,
			Org:      cfg.Telemetry.InfluxOrg,
			Bucket:   cfg.Telemetry.Bucket,
			DeviceID: cfg.DeviceID,
		}, log.WithComponent("telemetry"))
		observers = append(observers, retry.WithObserver(r.exporter))
	}

	stack := deps.Stack
	if stack == nil {
		var err error
		if stack, err = newStack(cfg.WiFi, r.clock); err != nil {
			return nil, err
		}
	}
	r.link = link.NewSupervisor(stack, link.Credentials{
		SSID:     cfg.WiFi.SSID,
		Password: cfg.WiFi.Password,
		Hostname: cfg.WiFi.Hostname,
	}, cfg.Link.Policy(), log.WithComponent("link"), observers...)

	r.client = deps.Client
	if r.client == nil {
		r.client = dashboard.New(dashboard.Config{
			Prefix:     cfg.Dashboard.Prefix,
			Device:     cfg.DeviceID,
			HostedHost: cfg.Dashboard.HostedHost,
			HostedPort: cfg.Dashboard.HostedPort,
		}, log.WithComponent("dashboard"))
	}
	if sim, ok := stack.(*link.SimStack); ok {
		r.client = &linkGate{DashboardClient: r.client, up: func() bool {
			return r.link.Ready() && sim.IsConnected()
		}}
	}
	r.pump = session.NewPump(r.client, log.WithComponent("pump"), session.WithPumpClock(r.clock))
	r.pump.Handle(cfg.Dashboard.ThresholdChannel, session.ThresholdHandler(r.threshold, log.WithComponent("pump")))
	r.client.OnWrite(r.pump.Deliver)
	r.session = session.NewSupervisor(r.client, session.Endpoint{
		Credential: cfg.Dashboard.Auth,
		Local:      cfg.Dashboard.UseLocal,
		Host:       cfg.Dashboard.Server,
		Port:       cfg.Dashboard.Port,
	}, r.pump, cfg.Session.Policy(), log.WithComponent("session"), observers...)

	reader := deps.Reader
	if reader == nil {
		reader = newReader(cfg.Sensor, r.clock)
	}
	sinks := []sensor.Option{sensor.WithClock(r.clock), sensor.WithSink(r.metrics)}
	if r.exporter != nil {
		sinks = append(sinks, sensor.WithSink(r.exporter))
	}
	r.sampler = sensor.NewSampler(sensor.Config{
		DeviceID:    cfg.DeviceID,
		Pin:         cfg.Sensor.Pin,
		Channel:     cfg.Dashboard.MoistureChannel,
		Calibration: cfg.Sensor.Calibration,
		Interval:    cfg.Sensor.Interval,
		Gate:        cfg.Sensor.Gate,
	}, reader, r.reading, r.client, r.session.Ready, log.WithComponent("sampler"), sinks...)

	r.notifier = notify.New(cfg.DeviceID, r.reading, r.threshold, r.alerter(),
		log.WithComponent("notifier"), notify.WithClock(r.clock), notify.WithInterval(cfg.Notifier.Interval))
	return r, nil
}

func (r *Runtime) alerter() notify.Alerter {
	dash := notify.DashboardAlerter{Writer: r.client, Channel: r.cfg.Dashboard.AlertChannel}
	if ev, ok := r.client.(notify.EventPublisher); ok {
		dash.Events = ev
	}
	all := notify.Multi{notify.LogAlerter{Log: log.WithComponent("notifier")}, dash, r.metrics}
	if r.exporter != nil {
		all = append(all, r.exporter)
	}
	return all
}

func newStack(c config.WiFi, clk clock.Clock) (link.Stack, error) {
	switch c.Stack {
	case "sim":
		return link.NewSimStack(clk, c.AssociateDelay), nil
	case "host":
		return link.NewHostStack(link.HostConfig{ProbeAddr: c.ProbeAddr, JoinCommand: c.JoinCommand}, log.WithComponent("link")), nil
	default:
		return nil, fmt.Errorf("unknown wifi stack %q", c.Stack)
	}
}

func newReader(c config.Sensor, clk clock.Clock) sensor.Reader {
	if c.Source == "sysfs" {
		return sensor.NewSysfsReader(c.SysfsPattern)
	}
	return sensor.NewSimReader(c.Calibration, c.SimSeed, c.SimDecay,
		sensor.WithSimClock(clk), sensor.WithNoise(c.SimNoise, time.Now().UnixNano()))
}

// Run starts every task and blocks until ctx ends. Tasks only return on
// cancellation; a failing probe server is logged and does not stop the
// supervisors.
func (r *Runtime) Run(ctx context.Context) error {
	r.log.Info().Str("device", r.cfg.DeviceID).Str("endpoint", r.session.Endpoint().Label()).Msg("monitor starting")
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return r.link.Run(ctx) })
	g.Go(func() error { return r.session.Run(ctx) })
	g.Go(func() error { return r.pump.Run(ctx) })
	g.Go(func() error { return r.sampler.Run(ctx) })
	g.Go(func() error { return r.notifier.Run(ctx) })
	if r.exporter != nil {
		g.Go(func() error { return r.exporter.Run(ctx) })
	}
	if r.cfg.HTTPAddr != "" {
		g.Go(func() error {
			h := obs.NewRouter(r, r.registry, log.WithComponent("http"))
			if err := obs.ServeHTTP(ctx, r.cfg.HTTPAddr, h, log.WithComponent("http")); err != nil {
				r.log.Error().Err(err).Msg("http server failed")
			}
			return nil
		})
	}
	if r.health != nil {
		g.Go(func() error {
			if err := r.health.Serve(ctx, r.cfg.GRPCAddr); err != nil {
				r.log.Error().Err(err).Msg("grpc health server failed")
			}
			return nil
		})
	}

	err := g.Wait()
	if c, ok := r.client.(interface{ Close() }); ok {
		c.Close()
	}
	r.log.Info().Msg("monitor stopped")
	return err
}

func (r *Runtime) Snapshot() obs.Snapshot {
	s := obs.Snapshot{
		BootID:          log.BootID(),
		Link:            r.link.State().String(),
		Session:         r.session.State().String(),
		Endpoint:        r.session.Endpoint().Label(),
		LinkFailures:    r.link.Loop().Failures(),
		SessionFailures: r.session.Loop().Failures(),
		Threshold:       r.threshold.Get(),
		NeedsWater:      r.notifier.Low(),
		Alerts:          r.notifier.Signals(),
		Resyncs:         r.pump.Stats().Resyncs,
		Uptime:          r.clock.Now().Sub(r.started).Round(time.Second).String(),
	}
	if v, ok := r.reading.Load(); ok {
		s.Moisture = &v
	}
	if r.exporter != nil {
		ok := r.exporter.Healthy()
		s.TelemetryOK = &ok
	}
	return s
}

// Registry is the Prometheus registry behind /metrics.
func (r *Runtime) Registry() *prometheus.Registry { return r.registry }
