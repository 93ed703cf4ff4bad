package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pitwall-labs/telemetry-replay/internal/telemetry"
)

// Frame is the envelope for every message in both directions:
// a JSON object with a type tag and an optional data payload.
type Frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Command types accepted from clients.
const (
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdPlay        = "PLAY"
	CmdPause       = "PAUSE"
	CmdStop        = "STOP"
	CmdSeek        = "SEEK"
	CmdSpeed       = "SPEED"
	CmdGetState    = "GET_STATE"
)

// Event types sent to clients.
const (
	EvtReplayState      = "REPLAY_STATE"
	EvtTelemetryBatch   = "TELEMETRY_BATCH"
	EvtSubscribed       = "SUBSCRIBED"
	EvtUnsubscribed     = "UNSUBSCRIBED"
	EvtPlaybackComplete = "PLAYBACK_COMPLETE"
	EvtError            = "ERROR"
)

// Command is a decoded, validated inbound frame.
type Command struct {
	Type       string
	StartTime  *time.Time              // PLAY, optional
	TargetTime time.Time               // SEEK, required
	Speed      telemetry.PlaybackSpeed // SPEED, required
}

type rawCommand struct {
	Type string `json:"type"`
	Data struct {
		StartTime  string   `json:"startTime"`
		TargetTime string   `json:"targetTime"`
		Speed      *float64 `json:"speed"`
	} `json:"data"`
}

// DecodeCommand parses and validates one inbound frame. The type must be a
// known command; commands carrying data must have their required sub-fields
// present and well-formed (ISO-8601 times, speed from the closed set).
func DecodeCommand(payload []byte) (Command, error) {
	var raw rawCommand
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Command{}, fmt.Errorf("invalid message format")
	}

	cmd := Command{Type: raw.Type}

	switch raw.Type {
	case CmdSubscribe, CmdUnsubscribe, CmdPause, CmdStop, CmdGetState:
		return cmd, nil

	case CmdPlay:
		if raw.Data.StartTime != "" {
			t, err := time.Parse(time.RFC3339Nano, raw.Data.StartTime)
			if err != nil {
				return Command{}, fmt.Errorf("invalid startTime: %s", raw.Data.StartTime)
			}
			cmd.StartTime = &t
		}
		return cmd, nil

	case CmdSeek:
		if raw.Data.TargetTime == "" {
			return Command{}, fmt.Errorf("SEEK requires targetTime")
		}
		t, err := time.Parse(time.RFC3339Nano, raw.Data.TargetTime)
		if err != nil {
			return Command{}, fmt.Errorf("invalid targetTime: %s", raw.Data.TargetTime)
		}
		cmd.TargetTime = t
		return cmd, nil

	case CmdSpeed:
		if raw.Data.Speed == nil {
			return Command{}, fmt.Errorf("SPEED requires speed")
		}
		speed, err := telemetry.SpeedFromMultiplier(*raw.Data.Speed)
		if err != nil {
			return Command{}, err
		}
		cmd.Speed = speed
		return cmd, nil

	case "":
		return Command{}, fmt.Errorf("missing command type")

	default:
		return Command{}, fmt.Errorf("Unknown command: %s", raw.Type)
	}
}

func stateEvent(state *telemetry.PlaybackState) Frame {
	if state == nil {
		return Frame{Type: EvtReplayState, Data: nil}
	}
	return Frame{Type: EvtReplayState, Data: state}
}

func batchEvent(batch *telemetry.TelemetryBatch) Frame {
	return Frame{Type: EvtTelemetryBatch, Data: batch}
}

func errorEvent(message string) Frame {
	return Frame{Type: EvtError, Data: map[string]string{"message": message}}
}
