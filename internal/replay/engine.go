package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pitwall-labs/telemetry-replay/internal/config"
	"github.com/pitwall-labs/telemetry-replay/internal/logger"
	"github.com/pitwall-labs/telemetry-replay/internal/metrics"
	"github.com/pitwall-labs/telemetry-replay/internal/telemetry"
)

// lowWaterMark is the buffer headroom below which a tick schedules an
// asynchronous refill.
const lowWaterMark = 10 * time.Second

// Store is the slice of the stream store the engine needs for refills.
type Store interface {
	ReadLocations(ctx context.Context, sessionKey string, startTime, endTime time.Time) []telemetry.LocationSample
	ReadCarData(ctx context.Context, sessionKey string, startTime, endTime time.Time) []telemetry.CarSample
}

// Catalog resolves session keys to their metadata.
type Catalog interface {
	Get(sessionKey string) (telemetry.SessionInfo, bool)
}

// disconnectedState preserves playback position after the last subscriber
// leaves, so a reconnecting client can resume where it left off.
type disconnectedState struct {
	currentTime    time.Time
	speed          telemetry.PlaybackSpeed
	disconnectedAt time.Time
}

// Engine owns all replay sessions on this server.
//
// Thread-safety:
//   - The two maps (active, disconnected) and the subscriber counts are
//     guarded by mu.
//   - Each session carries its own lock; every mutation of playback state
//     (play/pause/stop/seek/setSpeed, NextBatch, refill splice, clear)
//     holds it. Store reads during refill happen outside any lock.
//
// Lock order is always engine mu before session mu, never the reverse.
type Engine struct {
	store   Store
	catalog Catalog
	cfg     config.ReplayConfig
	logger  *logger.Logger

	mu           sync.RWMutex
	active       map[string]*session
	disconnected map[string]disconnectedState
	subscribers  map[string]int

	sweeper *cron.Cron

	// now is swappable for retention tests.
	now func() time.Time
}

// NewEngine creates the engine and starts the background sweep that purges
// expired disconnected state once a minute.
func NewEngine(st Store, cat Catalog, cfg config.ReplayConfig, log *logger.Logger) *Engine {
	e := &Engine{
		store:        st,
		catalog:      cat,
		cfg:          cfg,
		logger:       log.WithComponent("replay_engine"),
		active:       make(map[string]*session),
		disconnected: make(map[string]disconnectedState),
		subscribers:  make(map[string]int),
		now:          time.Now,
	}

	e.sweeper = cron.New()
	e.sweeper.AddFunc("@every 1m", e.sweepExpiredStates)
	e.sweeper.Start()

	e.logger.Info("replay engine initialized",
		slog.Int("batch_interval_ms", cfg.Batch.IntervalMs),
		slog.Int("buffer_seconds", cfg.Buffer.DurationSeconds),
		slog.Int("state_retention_minutes", cfg.StateRetentionMinutes))

	return e
}

// Shutdown stops the background sweep. In-memory playback state is lost by
// design; there is no persistence to drain.
func (e *Engine) Shutdown() {
	ctx := e.sweeper.Stop()
	<-ctx.Done()
	e.logger.Info("replay engine shutdown complete")
}

// BatchInterval is the wall-clock tick period client streaming loops pace at.
func (e *Engine) BatchInterval() time.Duration {
	return e.cfg.BatchInterval()
}

// Play starts or resumes playback.
//
// If a replay session already exists for the key it simply transitions to
// PLAYING. Otherwise a new session is created: at the preserved position
// when non-expired disconnected state exists and no explicit start time was
// requested, else at startTime (validated against the session bounds), else
// at the session's dateStart. The pre-fetch buffer is filled synchronously
// before the first batch can be pulled.
func (e *Engine) Play(ctx context.Context, sessionKey string, startTime *time.Time) (*telemetry.PlaybackState, error) {
	info, ok := e.catalog.Get(sessionKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionKey)
	}
	if startTime != nil && !info.Contains(*startTime) {
		return nil, ErrInvalidTime
	}

	e.mu.Lock()
	s, exists := e.active[sessionKey]
	if !exists {
		start := info.DateStart
		speed := telemetry.SpeedNormal

		if dc, ok := e.disconnected[sessionKey]; ok && startTime == nil && !e.expired(dc) {
			start = dc.currentTime
			speed = dc.speed
			delete(e.disconnected, sessionKey)
			e.logger.Info("resuming session from preserved state",
				slog.String("session_key", sessionKey),
				slog.Time("current_time", start))
		} else if startTime != nil {
			start = *startTime
		}

		s = newSession(sessionKey, start, info.DateStart, info.DateEnd, speed)
		e.active[sessionKey] = s
		metrics.ActiveReplaySessions.Set(float64(len(e.active)))
	}
	e.mu.Unlock()

	if !exists {
		e.refill(ctx, s, "initial", true)
		e.logger.Info("created replay session",
			slog.String("session_key", sessionKey),
			slog.Time("start_time", s.startTime))
	}

	s.mu.Lock()
	s.status = telemetry.StatusPlaying
	state := e.buildStateLocked(s)
	s.mu.Unlock()

	return state, nil
}

// Pause halts the playback clock, keeping the session and its buffer.
func (e *Engine) Pause(sessionKey string) (*telemetry.PlaybackState, error) {
	s := e.lookup(sessionKey)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveSession, sessionKey)
	}

	s.mu.Lock()
	s.status = telemetry.StatusPaused
	state := e.buildStateLocked(s)
	s.mu.Unlock()

	e.logger.Info("paused session",
		slog.String("session_key", sessionKey),
		slog.String("current_time", state.CurrentTime))
	return state, nil
}

// Stop halts playback and drops the session entirely. No disconnected
// state is preserved; the next Play starts fresh.
func (e *Engine) Stop(sessionKey string) (*telemetry.PlaybackState, error) {
	e.mu.Lock()
	s, ok := e.active[sessionKey]
	if ok {
		delete(e.active, sessionKey)
		metrics.ActiveReplaySessions.Set(float64(len(e.active)))
	}
	e.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveSession, sessionKey)
	}

	s.mu.Lock()
	s.status = telemetry.StatusStopped
	state := e.buildStateLocked(s)
	s.mu.Unlock()

	e.logger.Info("stopped session", slog.String("session_key", sessionKey))
	return state, nil
}

// Seek moves the playback clock to target, clears the buffer and refills it
// synchronously from the new position. Playback status is preserved: a
// paused session stays paused.
func (e *Engine) Seek(ctx context.Context, sessionKey string, target time.Time) (*telemetry.PlaybackState, error) {
	s := e.lookup(sessionKey)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveSession, sessionKey)
	}

	if target.Before(s.dateStart) || target.After(s.dateEnd) {
		return nil, ErrInvalidTime
	}

	s.mu.Lock()
	s.currentTime = target
	s.clearLocked()
	s.mu.Unlock()

	e.refill(ctx, s, "seek", true)

	s.mu.Lock()
	state := e.buildStateLocked(s)
	s.mu.Unlock()

	e.logger.Info("seeked session",
		slog.String("session_key", sessionKey),
		slog.Time("target", target))
	return state, nil
}

// SetSpeed changes the real-time multiplier. The tick cadence is unchanged;
// the next tick simply covers a wider or narrower logical window, so the
// change takes effect without accumulated phase error.
func (e *Engine) SetSpeed(sessionKey string, speed telemetry.PlaybackSpeed) (*telemetry.PlaybackState, error) {
	if _, err := telemetry.SpeedFromMultiplier(speed.Multiplier()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpeed, speed.Multiplier())
	}

	s := e.lookup(sessionKey)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveSession, sessionKey)
	}

	s.mu.Lock()
	old := s.speed
	s.speed = speed
	state := e.buildStateLocked(s)
	s.mu.Unlock()

	e.logger.Info("changed playback speed",
		slog.String("session_key", sessionKey),
		slog.Float64("old", old.Multiplier()),
		slog.Float64("new", speed.Multiplier()))
	return state, nil
}

// GetState returns a snapshot of the active session, a synthesized PAUSED
// snapshot from preserved disconnected state, or nil when neither exists.
func (e *Engine) GetState(sessionKey string) *telemetry.PlaybackState {
	if s := e.lookup(sessionKey); s != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return e.buildStateLocked(s)
	}

	e.mu.RLock()
	dc, ok := e.disconnected[sessionKey]
	e.mu.RUnlock()
	if !ok || e.expired(dc) {
		return nil
	}

	info, haveInfo := e.catalog.Get(sessionKey)
	state := &telemetry.PlaybackState{
		SessionKey:  sessionKey,
		Status:      telemetry.StatusPaused,
		CurrentTime: formatInstant(dc.currentTime),
		Speed:       dc.speed,
	}
	if haveInfo {
		state.StartTime = formatInstant(info.DateStart)
		state.EndTime = formatInstant(info.DateEnd)
		state.DurationMs = info.DurationMs
		state.ElapsedMs = dc.currentTime.Sub(info.DateStart).Milliseconds()
	}
	return state
}

// IsActive reports whether a replay session currently exists for the key.
func (e *Engine) IsActive(sessionKey string) bool {
	return e.lookup(sessionKey) != nil
}

// NextBatch pulls the batch for the next tick window and advances the
// logical clock by batchInterval * speed, clamped to the session end.
//
// Returns (nil, false) when the session is absent or not playing,
// (nil, true) exactly once when the clock reaches the session end, and
// (batch, false) otherwise. Completion drops the session, so a later Play
// starts fresh from the beginning of the recording. An empty window still
// produces a batch so the client clock keeps moving.
func (e *Engine) NextBatch(ctx context.Context, sessionKey string) (*telemetry.TelemetryBatch, bool) {
	s := e.lookup(sessionKey)
	if s == nil {
		return nil, false
	}

	s.mu.Lock()

	if s.status != telemetry.StatusPlaying {
		s.mu.Unlock()
		return nil, false
	}

	if !s.currentTime.Before(s.dateEnd) {
		s.status = telemetry.StatusCompleted
		s.mu.Unlock()

		e.mu.Lock()
		if e.active[sessionKey] == s {
			delete(e.active, sessionKey)
			metrics.ActiveReplaySessions.Set(float64(len(e.active)))
		}
		e.mu.Unlock()

		e.logger.Info("session playback completed", slog.String("session_key", sessionKey))
		return nil, true
	}

	window := time.Duration(float64(e.cfg.BatchInterval()) * s.speed.Multiplier())
	windowEnd := s.currentTime.Add(window)
	if windowEnd.After(s.dateEnd) {
		windowEnd = s.dateEnd
	}

	batchTimestamp := s.currentTime
	locations, cars := s.consumeLocked(s.currentTime, windowEnd)
	s.currentTime = windowEnd

	// Empty windows still ship a batch with empty arrays (not null), so the
	// client clock keeps advancing through gaps in the recording.
	if locations == nil {
		locations = []telemetry.LocationSample{}
	}
	if cars == nil {
		cars = []telemetry.CarSample{}
	}

	needRefill := windowEnd.Before(s.dateEnd) &&
		s.bufferRemainingLocked() < lowWaterMark &&
		!s.refilling
	s.mu.Unlock()

	if needRefill {
		go e.refill(context.WithoutCancel(ctx), s, "low_water", false)
	}

	return &telemetry.TelemetryBatch{
		BatchTimestamp: batchTimestamp,
		Locations:      locations,
		CarData:        cars,
	}, false
}

// ClientJoined registers one subscriber for the session key.
func (e *Engine) ClientJoined(sessionKey string) {
	e.mu.Lock()
	e.subscribers[sessionKey]++
	e.mu.Unlock()
}

// ClientLeft unregisters a subscriber. When the last subscriber for the key
// leaves, the session is suspended: its position and speed are preserved as
// disconnected state (unless playback already finished) and the session is
// dropped.
func (e *Engine) ClientLeft(sessionKey string) {
	e.mu.Lock()

	if n := e.subscribers[sessionKey] - 1; n > 0 {
		e.subscribers[sessionKey] = n
		e.mu.Unlock()
		return
	}
	delete(e.subscribers, sessionKey)

	s, ok := e.active[sessionKey]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.active, sessionKey)
	metrics.ActiveReplaySessions.Set(float64(len(e.active)))

	s.mu.Lock()
	preserve := s.status != telemetry.StatusStopped && s.status != telemetry.StatusCompleted
	if preserve {
		e.disconnected[sessionKey] = disconnectedState{
			currentTime:    s.currentTime,
			speed:          s.speed,
			disconnectedAt: e.now(),
		}
	}
	s.mu.Unlock()
	e.mu.Unlock()

	if preserve {
		e.logger.Info("last client left, preserving playback state",
			slog.String("session_key", sessionKey),
			slog.Int("retention_minutes", e.cfg.StateRetentionMinutes))
	} else {
		e.logger.Debug("last client left finished session",
			slog.String("session_key", sessionKey))
	}
}

// refill loads [currentTime, currentTime + bufferDuration) from the store,
// clamped to the session end, and splices it into the buffer. At most one
// refill runs per session unless force is set (session creation and seek
// refill synchronously and may overlap a stale async refill, which the
// generation check discards).
func (e *Engine) refill(ctx context.Context, s *session, trigger string, force bool) {
	s.mu.Lock()
	if s.refilling && !force {
		s.mu.Unlock()
		return
	}
	s.refilling = true
	gen := s.generation
	from := s.currentTime
	s.mu.Unlock()

	to := from.Add(e.cfg.BufferDuration())
	if to.After(s.dateEnd) {
		to = s.dateEnd
	}

	// Store I/O happens outside the session lock; ticks keep draining the
	// buffer while this read is in flight.
	locations := e.store.ReadLocations(ctx, s.sessionKey, from, to)
	cars := e.store.ReadCarData(ctx, s.sessionKey, from, to)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.refilling = false

	if s.generation != gen {
		e.logger.Debug("discarding stale refill",
			slog.String("session_key", s.sessionKey),
			slog.String("trigger", trigger))
		return
	}

	s.appendLocked(locations, cars, to)
	metrics.BufferRefills.WithLabelValues(trigger).Inc()

	e.logger.Debug("buffer refilled",
		slog.String("session_key", s.sessionKey),
		slog.String("trigger", trigger),
		slog.Int("locations", len(locations)),
		slog.Int("car_samples", len(cars)),
		slog.Time("buffer_end", to))
}

func (e *Engine) lookup(sessionKey string) *session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active[sessionKey]
}

func (e *Engine) expired(dc disconnectedState) bool {
	return e.now().Sub(dc.disconnectedAt) > e.cfg.StateRetention()
}

// sweepExpiredStates purges disconnected state past the retention window.
func (e *Engine) sweepExpiredStates() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for key, dc := range e.disconnected {
		if e.expired(dc) {
			delete(e.disconnected, key)
			e.logger.Debug("purged expired playback state", slog.String("session_key", key))
		}
	}
}

// buildStateLocked snapshots a session into the wire-facing state shape.
// Caller holds s.mu.
func (e *Engine) buildStateLocked(s *session) *telemetry.PlaybackState {
	return &telemetry.PlaybackState{
		SessionKey:  s.sessionKey,
		Status:      s.status,
		CurrentTime: formatInstant(s.currentTime),
		StartTime:   formatInstant(s.dateStart),
		EndTime:     formatInstant(s.dateEnd),
		Speed:       s.speed,
		DurationMs:  s.dateEnd.Sub(s.dateStart).Milliseconds(),
		ElapsedMs:   s.currentTime.Sub(s.dateStart).Milliseconds(),
	}
}

func formatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
