package session

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/soilwatch/internal/model"
	"github.com/LeonardoBeccarini/soilwatch/internal/state"
)

// ThresholdHandler applies the remote minimum-moisture slider.
func ThresholdHandler(th *state.Threshold, lg zerolog.Logger) Handler {
	return func(w model.Write) error {
		v, err := w.Int()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		applied := th.Set(v)
		lg.Info().Int("minimum", applied).Bool("retained", w.Retained).Msg("threshold updated")
		return nil
	}
}
