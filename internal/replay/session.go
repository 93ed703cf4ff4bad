package replay

import (
	"sync"
	"time"

	"github.com/pitwall-labs/telemetry-replay/internal/telemetry"
)

// session is the per-key mutable playback state.
//
// Invariants (all under mu):
//   - dateStart <= currentTime <= dateEnd
//   - every buffered sample s satisfies currentTime <= s.Timestamp < bufferEnd
//   - locBuffer and carBuffer are sorted ascending by timestamp
//   - generation changes whenever the buffer is cleared, so a refill that
//     started before a seek discards its result instead of splicing stale
//     samples into the new position
type session struct {
	sessionKey string

	// immutable after creation
	startTime time.Time
	dateStart time.Time
	dateEnd   time.Time

	mu          sync.Mutex
	currentTime time.Time
	speed       telemetry.PlaybackSpeed
	status      telemetry.PlaybackStatus

	locBuffer []telemetry.LocationSample
	carBuffer []telemetry.CarSample
	bufferEnd time.Time

	generation uint64
	refilling  bool
}

func newSession(sessionKey string, startTime, dateStart, dateEnd time.Time, speed telemetry.PlaybackSpeed) *session {
	return &session{
		sessionKey:  sessionKey,
		startTime:   startTime,
		dateStart:   dateStart,
		dateEnd:     dateEnd,
		currentTime: startTime,
		speed:       speed,
		status:      telemetry.StatusIdle,
	}
}

// consumeLocked removes and returns all buffered samples with
// from <= timestamp < to. Buffers are sorted, so this is a prefix scan;
// anything older than the window start is dropped on the way (it can only
// appear after a slow refill raced a clock advance, and re-emitting it
// would violate the no-duplicates guarantee).
func (s *session) consumeLocked(from, to time.Time) ([]telemetry.LocationSample, []telemetry.CarSample) {
	var locations []telemetry.LocationSample
	cut := 0
	for _, loc := range s.locBuffer {
		if !loc.Timestamp.Before(to) {
			break
		}
		cut++
		if loc.Timestamp.Before(from) {
			continue
		}
		locations = append(locations, loc)
	}
	s.locBuffer = s.locBuffer[cut:]

	var cars []telemetry.CarSample
	cut = 0
	for _, car := range s.carBuffer {
		if !car.Timestamp.Before(to) {
			break
		}
		cut++
		if car.Timestamp.Before(from) {
			continue
		}
		cars = append(cars, car)
	}
	s.carBuffer = s.carBuffer[cut:]

	return locations, cars
}

// appendLocked extends the buffers and advances bufferEnd. Samples already
// buffered (same driver number and timestamp) are suppressed so overlapping
// refill windows stay idempotent. Inputs arrive sorted from the store and
// are merged behind the existing tail.
func (s *session) appendLocked(locations []telemetry.LocationSample, cars []telemetry.CarSample, newBufferEnd time.Time) {
	if len(locations) > 0 {
		seen := make(map[sampleKey]struct{}, len(s.locBuffer))
		for _, loc := range s.locBuffer {
			seen[sampleKey{loc.DriverNumber, loc.Timestamp.UnixNano()}] = struct{}{}
		}
		for _, loc := range locations {
			k := sampleKey{loc.DriverNumber, loc.Timestamp.UnixNano()}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			s.locBuffer = append(s.locBuffer, loc)
		}
		sortLocations(s.locBuffer)
	}

	if len(cars) > 0 {
		seen := make(map[sampleKey]struct{}, len(s.carBuffer))
		for _, car := range s.carBuffer {
			seen[sampleKey{car.DriverNumber, car.Timestamp.UnixNano()}] = struct{}{}
		}
		for _, car := range cars {
			k := sampleKey{car.DriverNumber, car.Timestamp.UnixNano()}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			s.carBuffer = append(s.carBuffer, car)
		}
		sortCars(s.carBuffer)
	}

	if newBufferEnd.After(s.bufferEnd) {
		s.bufferEnd = newBufferEnd
	}
}

// clearLocked drops both buffers and bufferEnd and bumps the generation,
// invalidating any refill currently in flight.
func (s *session) clearLocked() {
	s.locBuffer = nil
	s.carBuffer = nil
	s.bufferEnd = time.Time{}
	s.generation++
}

// bufferRemainingLocked returns bufferEnd - currentTime, clamped at zero.
func (s *session) bufferRemainingLocked() time.Duration {
	if s.bufferEnd.IsZero() {
		return 0
	}
	remaining := s.bufferEnd.Sub(s.currentTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

type sampleKey struct {
	driverNumber int
	unixNano     int64
}

func sortLocations(samples []telemetry.LocationSample) {
	// Insertion sort over a nearly sorted slice; refill appends are already
	// ordered and land behind an ordered prefix.
	for i := 1; i < len(samples); i++ {
		for j := i; j > 0 && samples[j].Timestamp.Before(samples[j-1].Timestamp); j-- {
			samples[j], samples[j-1] = samples[j-1], samples[j]
		}
	}
}

func sortCars(samples []telemetry.CarSample) {
	for i := 1; i < len(samples); i++ {
		for j := i; j > 0 && samples[j].Timestamp.Before(samples[j-1].Timestamp); j-- {
			samples[j], samples[j-1] = samples[j-1], samples[j]
		}
	}
}
