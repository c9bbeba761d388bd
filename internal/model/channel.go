package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Channel is a dashboard virtual slot (V0, V1, ...).
type Channel int

func (c Channel) String() string { return "V" + strconv.Itoa(int(c)) }

// ParseChannel accepts "V5", "v5" or "5".
func ParseChannel(s string) (Channel, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "V"), "v")
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid channel %q", s)
	}
	return Channel(n), nil
}

// Write is an inbound remote write targeting a channel.
type Write struct {
	Channel   Channel
	Value     string
	Retained  bool
	Duplicate bool
	MessageID uint16
}

// Int parses the payload as an integer; floats are truncated and saturate
// at the int32 range. NaN and infinities are rejected.
func (w Write) Int() (int, error) {
	v := strings.TrimSpace(w.Value)
	if n, err := strconv.ParseInt(v, 10, 32); err == nil {
		return int(n), nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", "."), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("channel %s: not a number: %q", w.Channel, w.Value)
	}
	f = math.Max(math.MinInt32, math.Min(math.MaxInt32, f))
	return int(f), nil
}
