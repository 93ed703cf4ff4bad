package telemetry

import (
	"testing"
	"time"
)

func TestSessionInfo_Contains(t *testing.T) {
	start := time.Date(2023, 9, 3, 13, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	info := SessionInfo{DateStart: start, DateEnd: end}

	if !info.Contains(start) {
		t.Error("expected start bound to be contained")
	}
	if !info.Contains(end) {
		t.Error("expected end bound to be contained")
	}
	if !info.Contains(start.Add(30 * time.Minute)) {
		t.Error("expected midpoint to be contained")
	}
	if info.Contains(start.Add(-time.Second)) {
		t.Error("expected time before start to be excluded")
	}
	if info.Contains(end.Add(time.Second)) {
		t.Error("expected time after end to be excluded")
	}
}

func TestSessionInfo_Duration(t *testing.T) {
	start := time.Date(2023, 9, 3, 13, 0, 0, 0, time.UTC)
	info := SessionInfo{DateStart: start, DateEnd: start.Add(150 * time.Minute)}

	if info.Duration() != 150*time.Minute {
		t.Errorf("expected 150m duration, got %v", info.Duration())
	}
}
