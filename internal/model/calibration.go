package model

import "fmt"

// Calibration holds the raw ADC readings of a fully wet and a fully dry probe.
type Calibration struct {
	Wet int `json:"wet" yaml:"wet"` // sensor a couple of minutes after drowning the pot
	Dry int `json:"dry" yaml:"dry"` // sensor just outside of the pot
}

func (c Calibration) Validate() error {
	if c.Dry <= c.Wet {
		return fmt.Errorf("calibration: dry reference %d must be above wet reference %d", c.Dry, c.Wet)
	}
	return nil
}

// Percent maps a raw reading to a moisture percentage in [0,100] using one
// percent per (Dry-Wet)/100 raw units. Wetter than Wet reads 100, drier than
// Dry reads 0.
func (c Calibration) Percent(raw int) int {
	if raw <= c.Wet {
		return 100
	}
	if raw >= c.Dry {
		return 0
	}
	step := (c.Dry - c.Wet) / 100
	if step < 1 {
		step = 1
	}
	return ClampPercent(100 - (raw-c.Wet)/step)
}

func ClampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
