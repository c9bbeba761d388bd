// Package config loads the monitor configuration: defaults, then an
// optional YAML file, then environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LeonardoBeccarini/soilwatch/internal/model"
	"github.com/LeonardoBeccarini/soilwatch/internal/retry"
)

type Config struct {
	DeviceID  string `yaml:"device_id"`
	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`
	HTTPAddr  string `yaml:"http_addr"`
	GRPCAddr  string `yaml:"grpc_addr"`

	WiFi      WiFi      `yaml:"wifi"`
	Dashboard Dashboard `yaml:"dashboard"`
	Sensor    Sensor    `yaml:"sensor"`
	Link      Retry     `yaml:"link"`
	Session   Retry     `yaml:"session"`
	Notifier  Notifier  `yaml:"notifier"`
	Telemetry Telemetry `yaml:"telemetry"`
}

type WiFi struct {
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`
	Hostname string `yaml:"hostname"`
	// Stack is "sim" for the simulated radio or "host" for the host network.
	Stack          string        `yaml:"stack"`
	ProbeAddr      string        `yaml:"probe_addr"`
	JoinCommand    []string      `yaml:"join_command"`
	AssociateDelay time.Duration `yaml:"associate_delay"`
}

type Dashboard struct {
	Auth       string `yaml:"auth"`
	UseLocal   bool   `yaml:"use_local"`
	Server     string `yaml:"server"`
	Port       int    `yaml:"port"`
	HostedHost string `yaml:"hosted_host"`
	HostedPort int    `yaml:"hosted_port"`
	Prefix     string `yaml:"prefix"`

	MoistureChannel  model.Channel `yaml:"moisture_channel"`
	ThresholdChannel model.Channel `yaml:"threshold_channel"`
	AlertChannel     model.Channel `yaml:"alert_channel"`
	InitialThreshold int           `yaml:"initial_threshold"`
}

type Sensor struct {
	// Source is "sim" or "sysfs".
	Source       string            `yaml:"source"`
	Pin          int               `yaml:"pin"`
	Calibration  model.Calibration `yaml:"calibration"`
	SysfsPattern string            `yaml:"sysfs_pattern"`
	Interval     time.Duration     `yaml:"interval"`
	Gate         time.Duration     `yaml:"gate"`
	SimSeed      float64           `yaml:"sim_seed"`
	SimDecay     float64           `yaml:"sim_decay_per_min"`
	SimNoise     int               `yaml:"sim_noise"`
}

type Retry struct {
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	CycleDelay   time.Duration `yaml:"cycle_delay"`
	Settle       time.Duration `yaml:"settle"`
}

func (r Retry) Policy() retry.Policy {
	return retry.Policy{
		Timeout:      r.Timeout,
		PollInterval: r.PollInterval,
		CycleDelay:   r.CycleDelay,
		Settle:       r.Settle,
	}
}

type Notifier struct {
	Interval time.Duration `yaml:"interval"`
}

type Telemetry struct {
	InfluxURL   string `yaml:"influx_url"`
	InfluxToken string `yaml:"influx_token"`
	InfluxOrg   string `yaml:"influx_org"`
	Bucket      string `yaml:"bucket"`
}

func (t Telemetry) Enabled() bool { return t.InfluxURL != "" }

func Default() Config {
	return Config{
		DeviceID: "soilwatch",
		LogLevel: "info",
		HTTPAddr: ":8080",
		GRPCAddr: "",
		WiFi: WiFi{
			Hostname:       "soilwatch",
			Stack:          "sim",
			AssociateDelay: 2 * time.Second,
		},
		Dashboard: Dashboard{
			Port:             8080,
			HostedPort:       8883,
			Prefix:           "soilwatch",
			MoistureChannel:  5,
			ThresholdChannel: 1,
			AlertChannel:     2,
			InitialThreshold: 30,
		},
		Sensor: Sensor{
			Source:      "sim",
			Pin:         25,
			Calibration: model.Calibration{Wet: 1400, Dry: 3700},
			Interval:    time.Second,
			Gate:        10 * time.Second,
			SimSeed:     0.6,
			SimDecay:    0.01,
			SimNoise:    15,
		},
		Link: Retry{
			Timeout:      10 * time.Second,
			PollInterval: 100 * time.Millisecond,
			CycleDelay:   time.Second,
		},
		Session: Retry{
			Timeout:      10 * time.Second,
			PollInterval: 100 * time.Millisecond,
			CycleDelay:   time.Second,
			Settle:       5 * time.Second,
		},
		Notifier: Notifier{Interval: time.Second},
		Telemetry: Telemetry{
			InfluxOrg: "soilwatch",
			Bucket:    "soil",
		},
	}
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	c.DeviceID = env("DEVICE_ID", c.DeviceID)
	c.LogLevel = env("LOG_LEVEL", c.LogLevel)
	c.HTTPAddr = env("HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = env("GRPC_ADDR", c.GRPCAddr)

	c.WiFi.SSID = env("WIFI_SSID", c.WiFi.SSID)
	c.WiFi.Password = env("WIFI_PASSWORD", c.WiFi.Password)
	c.WiFi.Hostname = env("WIFI_HOSTNAME", c.WiFi.Hostname)
	c.WiFi.Stack = env("WIFI_STACK", c.WiFi.Stack)
	c.WiFi.ProbeAddr = env("WIFI_PROBE_ADDR", c.WiFi.ProbeAddr)

	c.Dashboard.Auth = env("DASHBOARD_AUTH", c.Dashboard.Auth)
	c.Dashboard.UseLocal = envBool("DASHBOARD_USE_LOCAL", c.Dashboard.UseLocal)
	c.Dashboard.Server = env("DASHBOARD_SERVER", c.Dashboard.Server)
	c.Dashboard.Port = envInt("DASHBOARD_PORT", c.Dashboard.Port)
	c.Dashboard.HostedHost = env("DASHBOARD_HOSTED_HOST", c.Dashboard.HostedHost)
	c.Dashboard.InitialThreshold = envInt("MOISTURE_THRESHOLD", c.Dashboard.InitialThreshold)

	c.Sensor.Source = env("SENSOR_SOURCE", c.Sensor.Source)
	c.Sensor.Pin = envInt("SENSOR_PIN", c.Sensor.Pin)
	c.Sensor.Calibration.Wet = envInt("SENSOR_WET", c.Sensor.Calibration.Wet)
	c.Sensor.Calibration.Dry = envInt("SENSOR_DRY", c.Sensor.Calibration.Dry)
	c.Sensor.Interval = envDur("SAMPLE_INTERVAL", c.Sensor.Interval)

	c.Telemetry.InfluxURL = env("INFLUX_URL", c.Telemetry.InfluxURL)
	c.Telemetry.InfluxToken = env("INFLUX_TOKEN", c.Telemetry.InfluxToken)
	c.Telemetry.InfluxOrg = env("INFLUX_ORG", c.Telemetry.InfluxOrg)
	c.Telemetry.Bucket = env("INFLUX_BUCKET", c.Telemetry.Bucket)
}

func (c Config) Validate() error {
	var errs []error
	if c.WiFi.SSID == "" {
		errs = append(errs, errors.New("wifi.ssid is required"))
	}
	switch c.WiFi.Stack {
	case "sim", "host":
	default:
		errs = append(errs, fmt.Errorf("wifi.stack must be sim or host, got %q", c.WiFi.Stack))
	}
	if c.Dashboard.Auth == "" {
		errs = append(errs, errors.New("dashboard.auth is required"))
	}
	if c.Dashboard.UseLocal && (c.Dashboard.Server == "" || c.Dashboard.Port <= 0) {
		errs = append(errs, errors.New("dashboard.server and dashboard.port are required with use_local"))
	}
	if !c.Dashboard.UseLocal && c.Dashboard.HostedHost == "" {
		errs = append(errs, errors.New("dashboard.hosted_host is required without use_local"))
	}
	d := c.Dashboard
	if d.MoistureChannel == d.ThresholdChannel || d.MoistureChannel == d.AlertChannel || d.ThresholdChannel == d.AlertChannel {
		errs = append(errs, fmt.Errorf("dashboard channels must be distinct: moisture %s, threshold %s, alert %s",
			d.MoistureChannel, d.ThresholdChannel, d.AlertChannel))
	}
	switch c.Sensor.Source {
	case "sim", "sysfs":
	default:
		errs = append(errs, fmt.Errorf("sensor.source must be sim or sysfs, got %q", c.Sensor.Source))
	}
	if err := c.Sensor.Calibration.Validate(); err != nil {
		errs = append(errs, err)
	}
	for name, v := range map[string]time.Duration{
		"sensor.interval":       c.Sensor.Interval,
		"sensor.gate":           c.Sensor.Gate,
		"link.timeout":          c.Link.Timeout,
		"link.poll_interval":    c.Link.PollInterval,
		"link.cycle_delay":      c.Link.CycleDelay,
		"session.timeout":       c.Session.Timeout,
		"session.poll_interval": c.Session.PollInterval,
		"session.cycle_delay":   c.Session.CycleDelay,
		"notifier.interval":     c.Notifier.Interval,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Session.Settle < 0 {
		errs = append(errs, errors.New("session.settle must not be negative"))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	c.WiFi.Password = mask(c.WiFi.Password)
	c.Dashboard.Auth = mask(c.Dashboard.Auth)
	c.Telemetry.InfluxToken = mask(c.Telemetry.InfluxToken)
	return c
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
