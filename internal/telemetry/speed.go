package telemetry

import (
	"encoding/json"
	"fmt"
)

// PlaybackSpeed is the real-time multiplier applied to the playback clock.
// Only the listed values are valid; anything else fails validation.
type PlaybackSpeed float64

const (
	SpeedNormal    PlaybackSpeed = 1
	SpeedDouble    PlaybackSpeed = 2
	SpeedFast      PlaybackSpeed = 5
	SpeedSuperFast PlaybackSpeed = 10
)

// SpeedFromMultiplier maps a raw multiplier to a PlaybackSpeed.
// Returns an error for multipliers outside the closed set {1, 2, 5, 10}.
func SpeedFromMultiplier(multiplier float64) (PlaybackSpeed, error) {
	switch PlaybackSpeed(multiplier) {
	case SpeedNormal, SpeedDouble, SpeedFast, SpeedSuperFast:
		return PlaybackSpeed(multiplier), nil
	}
	return 0, fmt.Errorf("invalid speed multiplier: %v", multiplier)
}

// Multiplier returns the speed as a plain float.
func (s PlaybackSpeed) Multiplier() float64 {
	return float64(s)
}

// MarshalJSON encodes the speed as {"multiplier": n}, the shape the
// frontend expects in REPLAY_STATE frames.
func (s PlaybackSpeed) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Multiplier float64 `json:"multiplier"`
	}{Multiplier: float64(s)})
}

// UnmarshalJSON accepts either the {"multiplier": n} object form or a
// bare number, validating against the closed speed set.
func (s *PlaybackSpeed) UnmarshalJSON(data []byte) error {
	var obj struct {
		Multiplier float64 `json:"multiplier"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Multiplier != 0 {
		speed, err := SpeedFromMultiplier(obj.Multiplier)
		if err != nil {
			return err
		}
		*s = speed
		return nil
	}

	var raw float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid speed payload: %s", string(data))
	}
	speed, err := SpeedFromMultiplier(raw)
	if err != nil {
		return err
	}
	*s = speed
	return nil
}
