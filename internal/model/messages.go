package model

import "time"

// ReadingMessage is what the sampler exports for every sample.
type ReadingMessage struct {
	DeviceID  string    `json:"device_id"`
	Raw       int       `json:"raw"`
	Moisture  int       `json:"moisture"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertMessage is the "needs watering" signal.
type AlertMessage struct {
	DeviceID  string    `json:"device_id"`
	Moisture  int       `json:"moisture"`
	Minimum   int       `json:"minimum"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnEvent records a supervisor state transition.
type ConnEvent struct {
	Supervisor string    `json:"supervisor"`
	From       ConnState `json:"from"`
	To         ConnState `json:"to"`
	Timestamp  time.Time `json:"timestamp"`
}
