package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apierrors "github.com/pitwall-labs/telemetry-replay/internal/errors"
	"github.com/pitwall-labs/telemetry-replay/internal/logger"
	"github.com/pitwall-labs/telemetry-replay/internal/replay"
	"github.com/pitwall-labs/telemetry-replay/internal/telemetry"
)

// PlaybackHandler exposes the engine operations over HTTP. These are thin
// aliases for the websocket commands with identical semantics; they exist
// so tooling can drive a replay without holding a socket open.
type PlaybackHandler struct {
	engine *replay.Engine
	logger *logger.Logger
}

func NewPlaybackHandler(engine *replay.Engine, log *logger.Logger) *PlaybackHandler {
	return &PlaybackHandler{engine: engine, logger: log.WithComponent("api")}
}

type playRequest struct {
	StartTime string `json:"startTime"`
}

type seekRequest struct {
	TargetTime string `json:"targetTime"`
}

type speedRequest struct {
	Speed float64 `json:"speed"`
}

// Play handles POST /api/replay/:sessionKey/play.
func (h *PlaybackHandler) Play(c *gin.Context) {
	sessionKey := c.Param("sessionKey")

	var req playRequest
	// Body is optional for play.
	_ = c.ShouldBindJSON(&req)

	var startTime *time.Time
	if req.StartTime != "" {
		t, err := time.Parse(time.RFC3339Nano, req.StartTime)
		if err != nil {
			apierrors.BadRequest(c, "invalid startTime", nil)
			return
		}
		startTime = &t
	}

	state, err := h.engine.Play(c.Request.Context(), sessionKey, startTime)
	if err != nil {
		h.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// Pause handles POST /api/replay/:sessionKey/pause.
func (h *PlaybackHandler) Pause(c *gin.Context) {
	state, err := h.engine.Pause(c.Param("sessionKey"))
	if err != nil {
		h.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// Stop handles POST /api/replay/:sessionKey/stop.
func (h *PlaybackHandler) Stop(c *gin.Context) {
	state, err := h.engine.Stop(c.Param("sessionKey"))
	if err != nil {
		h.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// Seek handles POST /api/replay/:sessionKey/seek.
func (h *PlaybackHandler) Seek(c *gin.Context) {
	var req seekRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TargetTime == "" {
		apierrors.BadRequest(c, "targetTime is required", nil)
		return
	}

	target, err := time.Parse(time.RFC3339Nano, req.TargetTime)
	if err != nil {
		apierrors.BadRequest(c, "invalid targetTime", nil)
		return
	}

	state, err := h.engine.Seek(c.Request.Context(), c.Param("sessionKey"), target)
	if err != nil {
		h.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// SetSpeed handles POST /api/replay/:sessionKey/speed.
func (h *PlaybackHandler) SetSpeed(c *gin.Context) {
	var req speedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BadRequest(c, "speed is required", nil)
		return
	}

	speed, err := telemetry.SpeedFromMultiplier(req.Speed)
	if err != nil {
		apierrors.BadRequest(c, err.Error(), nil)
		return
	}

	state, err := h.engine.SetSpeed(c.Param("sessionKey"), speed)
	if err != nil {
		h.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// GetState handles GET /api/replay/:sessionKey/state.
func (h *PlaybackHandler) GetState(c *gin.Context) {
	state := h.engine.GetState(c.Param("sessionKey"))
	if state == nil {
		apierrors.NotFound(c, "No playback state", nil)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *PlaybackHandler) respondEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, replay.ErrUnknownSession):
		apierrors.NotFound(c, err.Error(), nil)
	case errors.Is(err, replay.ErrNoActiveSession),
		errors.Is(err, replay.ErrInvalidTime),
		errors.Is(err, replay.ErrInvalidSpeed):
		apierrors.BadRequest(c, err.Error(), nil)
	default:
		h.logger.Error("playback operation failed", slog.String("error", err.Error()))
		apierrors.Internal(c, "internal error", nil)
	}
}
