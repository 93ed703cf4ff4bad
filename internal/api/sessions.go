package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pitwall-labs/telemetry-replay/internal/catalog"
	apierrors "github.com/pitwall-labs/telemetry-replay/internal/errors"
	"github.com/pitwall-labs/telemetry-replay/internal/logger"
	"github.com/pitwall-labs/telemetry-replay/internal/replay"
)

// SessionHandler serves the read-only session discovery endpoints.
type SessionHandler struct {
	catalog *catalog.Service
	engine  *replay.Engine
	logger  *logger.Logger
}

func NewSessionHandler(cat *catalog.Service, engine *replay.Engine, log *logger.Logger) *SessionHandler {
	return &SessionHandler{catalog: cat, engine: engine, logger: log.WithComponent("api")}
}

// ListSessions handles GET /api/sessions.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.catalog.List())
}

// GetSession handles GET /api/sessions/:sessionKey.
func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionKey := c.Param("sessionKey")

	info, ok := h.catalog.Get(sessionKey)
	if !ok {
		apierrors.NotFound(c, "Session not found", nil)
		return
	}
	c.JSON(http.StatusOK, info)
}

// GetSessionStatus handles GET /api/sessions/:sessionKey/status. It reports
// whether the store holds telemetry for the session and whether a replay is
// currently running on this server.
func (h *SessionHandler) GetSessionStatus(c *gin.Context) {
	sessionKey := c.Param("sessionKey")

	if !h.catalog.Exists(sessionKey) {
		apierrors.NotFound(c, "Session not found", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionKey": sessionKey,
		"hasData":    h.catalog.HasData(c.Request.Context(), sessionKey),
		"active":     h.engine.IsActive(sessionKey),
	})
}

// RefreshSession handles POST /api/sessions/:sessionKey/refresh.
func (h *SessionHandler) RefreshSession(c *gin.Context) {
	sessionKey := c.Param("sessionKey")

	info, ok := h.catalog.Refresh(c.Request.Context(), sessionKey)
	if !ok {
		apierrors.NotFound(c, "Session not found", nil)
		return
	}

	h.logger.Debug("session refreshed", slog.String("session_key", sessionKey))
	c.JSON(http.StatusOK, info)
}
