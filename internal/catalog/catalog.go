// Package catalog tracks the sessions this server can replay.
//
// The session list comes from static configuration at startup; stream
// counts are probed from the store lazily and tolerate the producer not
// having written anything yet.
package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pitwall-labs/telemetry-replay/internal/config"
	"github.com/pitwall-labs/telemetry-replay/internal/logger"
	"github.com/pitwall-labs/telemetry-replay/internal/store"
	"github.com/pitwall-labs/telemetry-replay/internal/telemetry"
)

// Service is the read-mostly session catalog.
type Service struct {
	store  *store.Adapter
	logger *logger.Logger

	mu       sync.RWMutex
	sessions map[string]telemetry.SessionInfo

	configs []config.SessionConfig
}

// NewService builds the catalog from configuration and probes the store
// once for stream counts. Sessions with unparseable bounds are skipped;
// config validation normally rejects those before we get here.
func NewService(ctx context.Context, cfgs []config.SessionConfig, st *store.Adapter, log *logger.Logger) *Service {
	s := &Service{
		store:    st,
		logger:   log.WithComponent("catalog"),
		sessions: make(map[string]telemetry.SessionInfo, len(cfgs)),
		configs:  cfgs,
	}

	for _, cfg := range cfgs {
		info, err := s.buildInfo(ctx, cfg)
		if err != nil {
			s.logger.Error("failed to load session config",
				slog.String("session_key", cfg.Key),
				slog.String("error", err.Error()))
			continue
		}
		s.sessions[cfg.Key] = info
		s.logger.Debug("loaded session",
			slog.String("session_key", cfg.Key),
			slog.String("name", cfg.Name))
	}

	s.logger.Info("session catalog initialized", slog.Int("sessions", len(s.sessions)))
	return s
}

// List returns all known sessions.
func (s *Service) List() []telemetry.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]telemetry.SessionInfo, 0, len(s.sessions))
	for _, info := range s.sessions {
		out = append(out, info)
	}
	return out
}

// Get returns a session by key.
func (s *Service) Get(sessionKey string) (telemetry.SessionInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.sessions[sessionKey]
	return info, ok
}

// Exists reports whether a session key is in the catalog.
func (s *Service) Exists(sessionKey string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.sessions[sessionKey]
	return ok
}

// HasData reports whether the store holds location telemetry for the session.
func (s *Service) HasData(ctx context.Context, sessionKey string) bool {
	return s.store.StreamExists(ctx, store.LocationStreamKey(sessionKey))
}

// Refresh recomputes stream counts for a session and replaces the cached
// entry atomically. Returns false for keys not in the configuration.
func (s *Service) Refresh(ctx context.Context, sessionKey string) (telemetry.SessionInfo, bool) {
	var cfg *config.SessionConfig
	for i := range s.configs {
		if s.configs[i].Key == sessionKey {
			cfg = &s.configs[i]
			break
		}
	}
	if cfg == nil {
		return telemetry.SessionInfo{}, false
	}

	info, err := s.buildInfo(ctx, *cfg)
	if err != nil {
		s.logger.Warn("session refresh failed",
			slog.String("session_key", sessionKey),
			slog.String("error", err.Error()))
		return telemetry.SessionInfo{}, false
	}

	s.mu.Lock()
	s.sessions[sessionKey] = info
	s.mu.Unlock()

	return info, true
}

func (s *Service) buildInfo(ctx context.Context, cfg config.SessionConfig) (telemetry.SessionInfo, error) {
	start, err := time.Parse(time.RFC3339, cfg.DateStart)
	if err != nil {
		return telemetry.SessionInfo{}, err
	}
	end, err := time.Parse(time.RFC3339, cfg.DateEnd)
	if err != nil {
		return telemetry.SessionInfo{}, err
	}

	info := telemetry.SessionInfo{
		SessionKey: cfg.Key,
		Name:       cfg.Name,
		DateStart:  start,
		DateEnd:    end,
		DurationMs: end.Sub(start).Milliseconds(),
	}

	// Counts are best-effort; a zero length is indistinguishable from an
	// unreachable store, so leave them unset in that case.
	if locCount := s.store.StreamLength(ctx, store.LocationStreamKey(cfg.Key)); locCount > 0 {
		info.LocationCount = &locCount
	}
	if carCount := s.store.StreamLength(ctx, store.CarDataStreamKey(cfg.Key)); carCount > 0 {
		info.CarDataCount = &carCount
	}

	return info, nil
}
