package ws

import (
	"testing"
	"time"

	"github.com/pitwall-labs/telemetry-replay/internal/telemetry"
)

func TestDecodeCommand_BareCommands(t *testing.T) {
	for _, cmdType := range []string{"SUBSCRIBE", "UNSUBSCRIBE", "PAUSE", "STOP", "GET_STATE"} {
		cmd, err := DecodeCommand([]byte(`{"type":"` + cmdType + `"}`))
		if err != nil {
			t.Errorf("%s: unexpected error: %v", cmdType, err)
		}
		if cmd.Type != cmdType {
			t.Errorf("expected type %s, got %s", cmdType, cmd.Type)
		}
	}
}

func TestDecodeCommand_PlayWithoutStartTime(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"PLAY"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.StartTime != nil {
		t.Errorf("expected nil start time, got %v", cmd.StartTime)
	}
}

func TestDecodeCommand_PlayWithStartTime(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"PLAY","data":{"startTime":"2023-09-03T13:30:00Z"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2023, 9, 3, 13, 30, 0, 0, time.UTC)
	if cmd.StartTime == nil || !cmd.StartTime.Equal(want) {
		t.Errorf("expected start time %v, got %v", want, cmd.StartTime)
	}
}

func TestDecodeCommand_PlayRejectsBadStartTime(t *testing.T) {
	if _, err := DecodeCommand([]byte(`{"type":"PLAY","data":{"startTime":"lights out"}}`)); err == nil {
		t.Error("expected error for unparseable startTime")
	}
}

func TestDecodeCommand_SeekRequiresTargetTime(t *testing.T) {
	if _, err := DecodeCommand([]byte(`{"type":"SEEK"}`)); err == nil {
		t.Error("expected error for SEEK without targetTime")
	}

	cmd, err := DecodeCommand([]byte(`{"type":"SEEK","data":{"targetTime":"2023-09-03T14:00:00Z"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cmd.TargetTime.Equal(time.Date(2023, 9, 3, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected target time: %v", cmd.TargetTime)
	}
}

func TestDecodeCommand_SpeedValidation(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"SPEED","data":{"speed":5}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Speed != telemetry.SpeedFast {
		t.Errorf("expected speed 5, got %v", cmd.Speed)
	}

	if _, err := DecodeCommand([]byte(`{"type":"SPEED"}`)); err == nil {
		t.Error("expected error for SPEED without speed")
	}
	if _, err := DecodeCommand([]byte(`{"type":"SPEED","data":{"speed":3}}`)); err == nil {
		t.Error("expected error for speed outside the closed set")
	}
}

func TestDecodeCommand_UnknownType(t *testing.T) {
	_, err := DecodeCommand([]byte(`{"type":"BOOST"}`))
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if err.Error() != "Unknown command: BOOST" {
		t.Errorf("unexpected error text: %q", err.Error())
	}
}

func TestDecodeCommand_MalformedJSON(t *testing.T) {
	if _, err := DecodeCommand([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed payload")
	}
	if _, err := DecodeCommand([]byte(`{}`)); err == nil {
		t.Error("expected error for missing type")
	}
}
