package telemetry

import (
	"time"
)

// LocationSample is a single positional telemetry record for one car.
// Samples are immutable once ingested; the producer writes them to the
// location stream and they are only ever read back here.
type LocationSample struct {
	SessionKey   int       `json:"sessionKey"`
	DriverNumber int       `json:"driverNumber"`
	Timestamp    time.Time `json:"timestamp"`
	X            float64   `json:"x"`
	Y            float64   `json:"y"`
	Z            float64   `json:"z"`
}

// CarSample is a single car performance record (speed, rpm, gear, pedals).
type CarSample struct {
	SessionKey   int       `json:"sessionKey"`
	DriverNumber int       `json:"driverNumber"`
	Timestamp    time.Time `json:"timestamp"`
	Speed        int       `json:"speed"`
	RPM          int       `json:"rpm"`
	Gear         int       `json:"gear"`
	Throttle     int       `json:"throttle"`
	Brake        int       `json:"brake"`
}

// TelemetryBatch is one tick's worth of samples shipped to a client.
// BatchTimestamp is the logical session time at the start of the window;
// Locations and CarData are each sorted ascending by timestamp.
type TelemetryBatch struct {
	BatchTimestamp time.Time        `json:"batchTimestamp"`
	Locations      []LocationSample `json:"locations"`
	CarData        []CarSample      `json:"carData"`
}

// SessionInfo describes one replayable session known to the catalog.
// Counts are best-effort stream lengths and stay nil until the store
// has been probed.
type SessionInfo struct {
	SessionKey    string    `json:"sessionKey"`
	Name          string    `json:"name"`
	DateStart     time.Time `json:"dateStart"`
	DateEnd       time.Time `json:"dateEnd"`
	DurationMs    int64     `json:"durationMs"`
	LocationCount *int64    `json:"locationCount,omitempty"`
	CarDataCount  *int64    `json:"carDataCount,omitempty"`
}

// Duration returns the logical length of the session.
func (s SessionInfo) Duration() time.Duration {
	return s.DateEnd.Sub(s.DateStart)
}

// Contains reports whether t falls within the session bounds (inclusive).
func (s SessionInfo) Contains(t time.Time) bool {
	return !t.Before(s.DateStart) && !t.After(s.DateEnd)
}
