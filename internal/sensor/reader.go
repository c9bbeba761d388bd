// Package sensor reads the soil probe and publishes the moisture percentage.
package sensor

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

var ErrNoPin = errors.New("sensor: no such pin")

// Reader is the analog read primitive.
type Reader interface {
	ReadAnalog(pin int) (int, error)
}

// SysfsReader reads a Linux IIO ADC channel, e.g.
// /sys/bus/iio/devices/iio:device0/in_voltage25_raw.
type SysfsReader struct {
	// Pattern is a printf pattern taking the pin number.
	Pattern string
}

const DefaultSysfsPattern = "/sys/bus/iio/devices/iio:device0/in_voltage%d_raw"

func NewSysfsReader(pattern string) *SysfsReader {
	if pattern == "" {
		pattern = DefaultSysfsPattern
	}
	return &SysfsReader{Pattern: pattern}
}

func (r *SysfsReader) ReadAnalog(pin int) (int, error) {
	path := fmt.Sprintf(r.Pattern, pin)
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: %d (%s)", ErrNoPin, pin, path)
		}
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}
