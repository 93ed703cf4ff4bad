package telemetry

import (
	"encoding/json"
	"testing"
)

func TestSpeedFromMultiplier_ValidValues(t *testing.T) {
	for _, m := range []float64{1, 2, 5, 10} {
		speed, err := SpeedFromMultiplier(m)
		if err != nil {
			t.Errorf("expected multiplier %v to be valid, got error: %v", m, err)
		}
		if speed.Multiplier() != m {
			t.Errorf("expected multiplier %v, got %v", m, speed.Multiplier())
		}
	}
}

func TestSpeedFromMultiplier_InvalidValues(t *testing.T) {
	for _, m := range []float64{0, -1, 3, 4, 1.5, 100} {
		if _, err := SpeedFromMultiplier(m); err == nil {
			t.Errorf("expected multiplier %v to be rejected", m)
		}
	}
}

func TestPlaybackSpeed_MarshalShape(t *testing.T) {
	data, err := json.Marshal(SpeedDouble)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"multiplier":2}` {
		t.Errorf("expected {\"multiplier\":2}, got %s", data)
	}
}

func TestPlaybackSpeed_UnmarshalObjectForm(t *testing.T) {
	var speed PlaybackSpeed
	if err := json.Unmarshal([]byte(`{"multiplier":5}`), &speed); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if speed != SpeedFast {
		t.Errorf("expected speed 5, got %v", speed)
	}
}

func TestPlaybackSpeed_UnmarshalBareNumber(t *testing.T) {
	var speed PlaybackSpeed
	if err := json.Unmarshal([]byte(`10`), &speed); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if speed != SpeedSuperFast {
		t.Errorf("expected speed 10, got %v", speed)
	}
}

func TestPlaybackSpeed_UnmarshalRejectsInvalid(t *testing.T) {
	var speed PlaybackSpeed
	if err := json.Unmarshal([]byte(`{"multiplier":3}`), &speed); err == nil {
		t.Error("expected multiplier 3 to be rejected")
	}
	if err := json.Unmarshal([]byte(`"fast"`), &speed); err == nil {
		t.Error("expected non-numeric payload to be rejected")
	}
}
