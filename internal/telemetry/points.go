package telemetry

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/soilwatch/internal/model"
	"github.com/LeonardoBeccarini/soilwatch/internal/retry"
)

const (
	measurementReading = "soil_moisture"
	measurementConn    = "connection"
	measurementAttempt = "connect_attempt"
	measurementAlert   = "watering_alert"
)

func readingPoint(m model.ReadingMessage) *write.Point {
	return influxdb2.NewPoint(measurementReading,
		map[string]string{"device_id": m.DeviceID},
		map[string]interface{}{"raw": int64(m.Raw), "moisture": int64(m.Moisture)},
		m.Timestamp)
}

func connPoint(device string, ev model.ConnEvent) *write.Point {
	return influxdb2.NewPoint(measurementConn,
		map[string]string{
			"device_id":  device,
			"supervisor": ev.Supervisor,
			"from":       ev.From.String(),
			"to":         ev.To.String(),
		},
		map[string]interface{}{"state": int64(ev.To)},
		ev.Timestamp)
}

func attemptPoint(device, supervisor string, res retry.Result, at time.Time) *write.Point {
	fields := map[string]interface{}{"elapsed_ms": res.Elapsed.Milliseconds()}
	if res.Err != nil {
		fields["error"] = res.Err.Error()
	}
	return influxdb2.NewPoint(measurementAttempt,
		map[string]string{
			"device_id":  device,
			"supervisor": supervisor,
			"outcome":    res.Outcome.String(),
		},
		fields, at)
}

func alertPoint(m model.AlertMessage) *write.Point {
	return influxdb2.NewPoint(measurementAlert,
		map[string]string{"device_id": m.DeviceID},
		map[string]interface{}{"moisture": int64(m.Moisture), "minimum": int64(m.Minimum)},
		m.Timestamp)
}
