package telemetry

// PlaybackStatus is the lifecycle state of a replay session.
type PlaybackStatus string

const (
	StatusIdle      PlaybackStatus = "IDLE"
	StatusPlaying   PlaybackStatus = "PLAYING"
	StatusPaused    PlaybackStatus = "PAUSED"
	StatusStopped   PlaybackStatus = "STOPPED"
	StatusCompleted PlaybackStatus = "COMPLETED"
)

// PlaybackState is the externally visible snapshot of a replay session,
// sent to clients as the REPLAY_STATE payload.
type PlaybackState struct {
	SessionKey  string         `json:"sessionKey"`
	Status      PlaybackStatus `json:"status"`
	CurrentTime string         `json:"currentTime"`
	StartTime   string         `json:"startTime,omitempty"`
	EndTime     string         `json:"endTime,omitempty"`
	Speed       PlaybackSpeed  `json:"speed"`
	DurationMs  int64          `json:"durationMs"`
	ElapsedMs   int64          `json:"elapsedMs"`
}
