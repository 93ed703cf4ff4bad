// Package store reads pre-ingested telemetry out of Redis Streams.
//
// The ingestion producer appends records with flat string fields plus a
// "timestamp" field carrying the sample time as ISO-8601 UTC. The stream's
// native record id is an ingestion-time id unrelated to sample time, so all
// range reads filter on the payload timestamp instead.
package store

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitwall-labs/telemetry-replay/internal/logger"
	"github.com/pitwall-labs/telemetry-replay/internal/metrics"
	"github.com/pitwall-labs/telemetry-replay/internal/telemetry"
)

const (
	locationStreamPrefix = "telemetry:location:"
	carDataStreamPrefix  = "telemetry:cardata:"

	// readTimeout bounds every store round-trip. On expiry reads return
	// empty and the replay clock keeps advancing.
	readTimeout = 2 * time.Second
)

// Adapter is a read-only client for the telemetry stream store.
type Adapter struct {
	client *redis.Client
	logger *logger.Logger
}

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewAdapter connects to Redis and verifies the connection.
// The store being unreachable at boot is fatal for the server, so the
// caller should treat an error here as unrecoverable.
func NewAdapter(cfg Config, log *logger.Logger) (*Adapter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.WithComponent("store").Info("connected to telemetry stream store",
		slog.String("addr", cfg.Addr),
		slog.Int("db", cfg.DB))

	return &Adapter{
		client: client,
		logger: log.WithComponent("store"),
	}, nil
}

// NewAdapterWithClient wraps an existing Redis client. Used by tests.
func NewAdapterWithClient(client *redis.Client, log *logger.Logger) *Adapter {
	return &Adapter{client: client, logger: log.WithComponent("store")}
}

// LocationStreamKey returns the location stream key for a session.
func LocationStreamKey(sessionKey string) string {
	return locationStreamPrefix + sessionKey
}

// CarDataStreamKey returns the car data stream key for a session.
func CarDataStreamKey(sessionKey string) string {
	return carDataStreamPrefix + sessionKey
}

// ReadLocations returns location samples for the session with
// startTime <= timestamp < endTime, sorted ascending by timestamp.
// Connectivity errors return an empty slice, never a partial result.
func (a *Adapter) ReadLocations(ctx context.Context, sessionKey string, startTime, endTime time.Time) []telemetry.LocationSample {
	streamKey := LocationStreamKey(sessionKey)
	records := a.readRange(ctx, streamKey, "location", startTime, endTime)

	locations := make([]telemetry.LocationSample, 0, len(records))
	for _, rec := range records {
		locations = append(locations, telemetry.LocationSample{
			SessionKey:   parseIntKey(sessionKey),
			DriverNumber: getInt(rec.values, "driver_number"),
			Timestamp:    rec.ts,
			X:            getFloat(rec.values, "x"),
			Y:            getFloat(rec.values, "y"),
			Z:            getFloat(rec.values, "z"),
		})
	}
	return locations
}

// ReadCarData returns car samples for the session with
// startTime <= timestamp < endTime, sorted ascending by timestamp.
func (a *Adapter) ReadCarData(ctx context.Context, sessionKey string, startTime, endTime time.Time) []telemetry.CarSample {
	streamKey := CarDataStreamKey(sessionKey)
	records := a.readRange(ctx, streamKey, "cardata", startTime, endTime)

	samples := make([]telemetry.CarSample, 0, len(records))
	for _, rec := range records {
		samples = append(samples, telemetry.CarSample{
			SessionKey:   parseIntKey(sessionKey),
			DriverNumber: getInt(rec.values, "driver_number"),
			Timestamp:    rec.ts,
			Speed:        getInt(rec.values, "speed"),
			RPM:          getInt(rec.values, "rpm"),
			Gear:         getInt(rec.values, "gear"),
			Throttle:     getInt(rec.values, "throttle"),
			Brake:        getInt(rec.values, "brake"),
		})
	}
	return samples
}

// StreamLength returns the number of entries in a stream, 0 on failure.
func (a *Adapter) StreamLength(ctx context.Context, streamKey string) int64 {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	length, err := a.client.XLen(ctx, streamKey).Result()
	if err != nil {
		a.logger.Warn("failed to read stream length",
			slog.String("stream", streamKey),
			slog.String("error", err.Error()))
		return 0
	}
	return length
}

// StreamExists reports whether a stream exists and has data, false on failure.
func (a *Adapter) StreamExists(ctx context.Context, streamKey string) bool {
	return a.StreamLength(ctx, streamKey) > 0
}

// FirstTimestamp returns the payload timestamp of the oldest record in a
// stream. The second return is false when the stream is empty, unreachable
// or its head record carries no parseable timestamp.
func (a *Adapter) FirstTimestamp(ctx context.Context, streamKey string) (time.Time, bool) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	msgs, err := a.client.XRangeN(ctx, streamKey, "-", "+", 1).Result()
	if err != nil || len(msgs) == 0 {
		return time.Time{}, false
	}
	return parseTimestamp(getString(msgs[0].Values, "timestamp"))
}

// LastTimestamp returns the payload timestamp of the newest record in a stream.
func (a *Adapter) LastTimestamp(ctx context.Context, streamKey string) (time.Time, bool) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	msgs, err := a.client.XRevRangeN(ctx, streamKey, "+", "-", 1).Result()
	if err != nil || len(msgs) == 0 {
		return time.Time{}, false
	}
	return parseTimestamp(getString(msgs[0].Values, "timestamp"))
}

// Close closes the underlying Redis connection.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// HealthCheck checks if the store is reachable.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

// record pairs a stream entry's values with its parsed payload timestamp.
type record struct {
	values map[string]interface{}
	ts     time.Time
}

// readRange fetches all entries of a stream and keeps those whose payload
// timestamp falls in [startTime, endTime). Records without a parseable
// timestamp are dropped and logged; the read continues.
func (a *Adapter) readRange(ctx context.Context, streamKey, streamLabel string, startTime, endTime time.Time) []record {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	timer := time.Now()
	msgs, err := a.client.XRange(ctx, streamKey, "-", "+").Result()
	metrics.StoreReadDuration.WithLabelValues(streamLabel).Observe(time.Since(timer).Seconds())

	if err != nil {
		metrics.StoreReadErrors.WithLabelValues(streamLabel).Inc()
		a.logger.Warn("stream range read failed",
			slog.String("stream", streamKey),
			slog.String("error", err.Error()))
		return nil
	}

	records := make([]record, 0, len(msgs))
	for _, msg := range msgs {
		ts, ok := parseTimestamp(getString(msg.Values, "timestamp"))
		if !ok {
			a.logger.Warn("dropping record without parseable timestamp",
				slog.String("stream", streamKey),
				slog.String("record_id", msg.ID))
			continue
		}
		if ts.Before(startTime) || !ts.Before(endTime) {
			continue
		}
		records = append(records, record{values: msg.Values, ts: ts})
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ts.Before(records[j].ts)
	})

	a.logger.Debug("read stream range",
		slog.String("stream", streamKey),
		slog.Int("records", len(records)),
		slog.Time("start", startTime),
		slog.Time("end", endTime))

	return records
}

func getString(values map[string]interface{}, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// getInt degrades to 0 on missing or malformed fields.
func getInt(values map[string]interface{}, key string) int {
	s := getString(values, key)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// getFloat degrades to 0.0 on missing or malformed fields.
func getFloat(values map[string]interface{}, key string) float64 {
	s := getString(values, key)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseIntKey(sessionKey string) int {
	n, err := strconv.Atoi(sessionKey)
	if err != nil {
		return 0
	}
	return n
}

func parseTimestamp(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
