package store

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pitwall-labs/telemetry-replay/internal/logger"
)

var storeEpoch = time.Date(2023, 9, 3, 13, 0, 0, 0, time.UTC)

// setupAdapter creates a miniredis-backed adapter for testing.
func setupAdapter(t *testing.T) (*miniredis.Miniredis, *Adapter, *redis.Client) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	adapter := NewAdapterWithClient(client, logger.New(logger.Config{Level: slog.LevelError}))
	return mr, adapter, client
}

func addLocation(t *testing.T, client *redis.Client, sessionKey string, offset time.Duration, driver int, x, y, z string) {
	t.Helper()

	err := client.XAdd(context.Background(), &redis.XAddArgs{
		Stream: LocationStreamKey(sessionKey),
		Values: map[string]interface{}{
			"driver_number": driver,
			"timestamp":     storeEpoch.Add(offset).Format(time.RFC3339Nano),
			"x":             x,
			"y":             y,
			"z":             z,
		},
	}).Err()
	if err != nil {
		t.Fatalf("xadd failed: %v", err)
	}
}

func addCarData(t *testing.T, client *redis.Client, sessionKey string, offset time.Duration, driver int, speed string) {
	t.Helper()

	err := client.XAdd(context.Background(), &redis.XAddArgs{
		Stream: CarDataStreamKey(sessionKey),
		Values: map[string]interface{}{
			"driver_number": driver,
			"timestamp":     storeEpoch.Add(offset).Format(time.RFC3339Nano),
			"speed":         speed,
			"rpm":           "11500",
			"gear":          "7",
			"throttle":      "98",
			"brake":         "0",
		},
	}).Err()
	if err != nil {
		t.Fatalf("xadd failed: %v", err)
	}
}

func TestReadLocations_HalfOpenWindow(t *testing.T) {
	_, adapter, client := setupAdapter(t)

	addLocation(t, client, "9158", 0, 1, "100.5", "200.5", "5.0")
	addLocation(t, client, "9158", 500*time.Millisecond, 44, "110.0", "210.0", "5.1")
	addLocation(t, client, "9158", time.Second, 1, "120.0", "220.0", "5.2")

	locations := adapter.ReadLocations(context.Background(), "9158", storeEpoch, storeEpoch.Add(time.Second))

	if len(locations) != 2 {
		t.Fatalf("expected 2 samples in [0s, 1s), got %d", len(locations))
	}
	if locations[0].DriverNumber != 1 || locations[1].DriverNumber != 44 {
		t.Errorf("unexpected order: drivers %d, %d", locations[0].DriverNumber, locations[1].DriverNumber)
	}
	if locations[0].X != 100.5 || locations[0].Y != 200.5 || locations[0].Z != 5.0 {
		t.Errorf("unexpected coordinates: %+v", locations[0])
	}
	if locations[0].SessionKey != 9158 {
		t.Errorf("expected session key 9158, got %d", locations[0].SessionKey)
	}
}

func TestReadLocations_SortedByPayloadTimestamp(t *testing.T) {
	_, adapter, client := setupAdapter(t)

	// Ingestion order differs from sample time; reads must sort on the
	// payload timestamp, not the stream id.
	addLocation(t, client, "9158", 2*time.Second, 1, "3", "3", "0")
	addLocation(t, client, "9158", 0, 1, "1", "1", "0")
	addLocation(t, client, "9158", time.Second, 1, "2", "2", "0")

	locations := adapter.ReadLocations(context.Background(), "9158", storeEpoch, storeEpoch.Add(time.Minute))

	if len(locations) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(locations))
	}
	for i := 1; i < len(locations); i++ {
		if locations[i].Timestamp.Before(locations[i-1].Timestamp) {
			t.Fatalf("samples out of order: %v before %v", locations[i].Timestamp, locations[i-1].Timestamp)
		}
	}
}

func TestReadLocations_DropsUnparseableTimestamps(t *testing.T) {
	_, adapter, client := setupAdapter(t)

	addLocation(t, client, "9158", 0, 1, "1", "1", "0")
	err := client.XAdd(context.Background(), &redis.XAddArgs{
		Stream: LocationStreamKey("9158"),
		Values: map[string]interface{}{
			"driver_number": 1,
			"timestamp":     "not-a-time",
			"x":             "9",
			"y":             "9",
			"z":             "0",
		},
	}).Err()
	if err != nil {
		t.Fatalf("xadd failed: %v", err)
	}

	locations := adapter.ReadLocations(context.Background(), "9158", storeEpoch, storeEpoch.Add(time.Minute))

	if len(locations) != 1 {
		t.Fatalf("expected malformed record to be dropped, got %d samples", len(locations))
	}
}

func TestReadLocations_MalformedNumericsDegradeToZero(t *testing.T) {
	_, adapter, client := setupAdapter(t)

	addLocation(t, client, "9158", 0, 1, "garbage", "200.5", "")

	locations := adapter.ReadLocations(context.Background(), "9158", storeEpoch, storeEpoch.Add(time.Minute))

	if len(locations) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(locations))
	}
	if locations[0].X != 0 {
		t.Errorf("expected malformed x to degrade to 0, got %v", locations[0].X)
	}
	if locations[0].Y != 200.5 {
		t.Errorf("expected y 200.5, got %v", locations[0].Y)
	}
	if locations[0].Z != 0 {
		t.Errorf("expected missing z to degrade to 0, got %v", locations[0].Z)
	}
}

func TestReadLocations_MissingStream(t *testing.T) {
	_, adapter, _ := setupAdapter(t)

	locations := adapter.ReadLocations(context.Background(), "9158", storeEpoch, storeEpoch.Add(time.Minute))

	if len(locations) != 0 {
		t.Errorf("expected empty result for missing stream, got %d", len(locations))
	}
}

func TestReadCarData_FieldMapping(t *testing.T) {
	_, adapter, client := setupAdapter(t)

	addCarData(t, client, "9158", 0, 44, "287")

	samples := adapter.ReadCarData(context.Background(), "9158", storeEpoch, storeEpoch.Add(time.Minute))

	if len(samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(samples))
	}
	s := samples[0]
	if s.DriverNumber != 44 || s.Speed != 287 || s.RPM != 11500 || s.Gear != 7 || s.Throttle != 98 || s.Brake != 0 {
		t.Errorf("unexpected sample: %+v", s)
	}
}

func TestStreamLength(t *testing.T) {
	_, adapter, client := setupAdapter(t)

	if n := adapter.StreamLength(context.Background(), LocationStreamKey("9158")); n != 0 {
		t.Errorf("expected 0 for missing stream, got %d", n)
	}

	addLocation(t, client, "9158", 0, 1, "1", "1", "0")
	addLocation(t, client, "9158", time.Second, 1, "2", "2", "0")

	if n := adapter.StreamLength(context.Background(), LocationStreamKey("9158")); n != 2 {
		t.Errorf("expected length 2, got %d", n)
	}
	if !adapter.StreamExists(context.Background(), LocationStreamKey("9158")) {
		t.Error("expected stream to exist")
	}
	if adapter.StreamExists(context.Background(), CarDataStreamKey("9158")) {
		t.Error("expected car stream to be absent")
	}
}

func TestFirstAndLastTimestamp(t *testing.T) {
	_, adapter, client := setupAdapter(t)

	if _, ok := adapter.FirstTimestamp(context.Background(), LocationStreamKey("9158")); ok {
		t.Error("expected no first timestamp for missing stream")
	}

	addLocation(t, client, "9158", 0, 1, "1", "1", "0")
	addLocation(t, client, "9158", 90*time.Minute, 1, "2", "2", "0")

	first, ok := adapter.FirstTimestamp(context.Background(), LocationStreamKey("9158"))
	if !ok {
		t.Fatal("expected first timestamp")
	}
	if !first.Equal(storeEpoch) {
		t.Errorf("expected first at epoch, got %v", first)
	}

	last, ok := adapter.LastTimestamp(context.Background(), LocationStreamKey("9158"))
	if !ok {
		t.Fatal("expected last timestamp")
	}
	if !last.Equal(storeEpoch.Add(90 * time.Minute)) {
		t.Errorf("expected last at +90m, got %v", last)
	}
}
